package margin

import (
	"errors"
	"fmt"
	"math"
	"time"

	"quantrisk/logger"
	"quantrisk/market"
	"quantrisk/portfolio"
)

// ErrInvalidCombination 组合定义非法
var ErrInvalidCombination = errors.New("invalid combination")

// OptionType 期权类型
type OptionType = market.OptionType

const (
	Call = market.Call
	Put  = market.Put
)

// LegAction 腿的买卖方向
type LegAction string

const (
	Buy  LegAction = "buy"
	Sell LegAction = "sell"
)

// Sign 买 +1，卖 -1
func (a LegAction) Sign() float64 {
	if a == Sell {
		return -1
	}
	return 1
}

// Leg 组合中的一条腿
// Symbol 为标的代码，期权腿与其标的现货/期货腿使用相同 Symbol
type Leg struct {
	Symbol     string              `json:"symbol"`
	Kind       portfolio.AssetKind `json:"kind"`
	OptionType OptionType          `json:"option_type,omitempty"`
	Action     LegAction           `json:"action"`
	Quantity   float64             `json:"quantity"`
	EntryPrice float64             `json:"entry_price"`
	Strike     float64             `json:"strike,omitempty"`
	Expiry     time.Time           `json:"expiry,omitempty"`
	Multiplier float64             `json:"multiplier"`
	MarginRate float64             `json:"margin_rate,omitempty"` // 0 使用引擎默认值
}

func (l Leg) multiplier() float64 {
	if l.Multiplier <= 0 {
		return 1
	}
	return l.Multiplier
}

// Cost 腿的带符号成本（买为正，卖为负）
func (l Leg) Cost() float64 {
	return l.Action.Sign() * math.Abs(l.Quantity) * l.EntryPrice * l.multiplier()
}

// Combination 多腿组合
type Combination struct {
	Name string `json:"name"`
	Legs []Leg  `json:"legs"`
}

// NetCost 净成本，> 0 为借方（付出权利金），< 0 为贷方
func (c Combination) NetCost() float64 {
	total := 0.0
	for _, leg := range c.Legs {
		total += leg.Cost()
	}
	return total
}

// IsDebit 是否为借方组合
func (c Combination) IsDebit() bool { return c.NetCost() > 0 }

// IsCredit 是否为贷方组合
func (c Combination) IsCredit() bool { return c.NetCost() < 0 }

// Validate 至少两条腿，期权腿需有类型与行权价
func (c Combination) Validate() error {
	if len(c.Legs) < 2 {
		return fmt.Errorf("%w: %q has %d legs, need at least 2", ErrInvalidCombination, c.Name, len(c.Legs))
	}
	for i, leg := range c.Legs {
		if leg.Action != Buy && leg.Action != Sell {
			return fmt.Errorf("%w: leg #%d action %q", ErrInvalidCombination, i, leg.Action)
		}
		if leg.Quantity == 0 || leg.EntryPrice <= 0 {
			return fmt.Errorf("%w: leg #%d quantity=%.4f entry_price=%.4f", ErrInvalidCombination, i, leg.Quantity, leg.EntryPrice)
		}
		if leg.Kind == portfolio.AssetOption && (!leg.OptionType.Valid() || leg.Strike <= 0) {
			return fmt.Errorf("%w: option leg #%d needs option_type and strike", ErrInvalidCombination, i)
		}
	}
	return nil
}

// HedgeKind 对冲形态
type HedgeKind string

const (
	CoveredCall    HedgeKind = "covered_call"
	VerticalSpread HedgeKind = "vertical_spread"
	Straddle       HedgeKind = "straddle"
)

// Hedge 识别出的对冲腿对
type Hedge struct {
	Kind      HedgeKind `json:"kind"`
	LegA      int       `json:"leg_a"`
	LegB      int       `json:"leg_b"`
	Reduction float64   `json:"reduction"`
}

// CombinationResult 组合保证金明细
type CombinationResult struct {
	Name           string    `json:"name"`
	LegMargins     []float64 `json:"leg_margins"`
	IndividualSum  float64   `json:"individual_sum"`
	Hedges         []Hedge   `json:"hedges"`
	TotalReduction float64   `json:"total_reduction"`
	TotalMargin    float64   `json:"total_margin"`
	NetCost        float64   `json:"net_cost"`
	Debit          bool      `json:"debit"`
}

// CombinationMargin 组合保证金
//
// 各腿单独计算保证金（期权/期货按保证金率，现货按全额），再扫描所有腿对识别对冲形态，
// 每个对冲对减免较小一腿保证金的 HedgeReduction 比例。总额不低于 0。
func (e *Engine) CombinationMargin(combo Combination) (CombinationResult, error) {
	if err := combo.Validate(); err != nil {
		return CombinationResult{}, err
	}

	result := CombinationResult{
		Name:       combo.Name,
		LegMargins: make([]float64, len(combo.Legs)),
		NetCost:    combo.NetCost(),
	}
	result.Debit = result.NetCost > 0

	for i, leg := range combo.Legs {
		rate := leg.MarginRate
		if rate <= 0 {
			rate = e.cfg.MarginRate
		}
		result.LegMargins[i] = CalculateMargin(leg.Kind, leg.Quantity, leg.EntryPrice, leg.multiplier(), rate)
		result.IndividualSum += result.LegMargins[i]
	}

	for i := 0; i < len(combo.Legs); i++ {
		for j := i + 1; j < len(combo.Legs); j++ {
			kind, ok := detectHedge(combo.Legs[i], combo.Legs[j])
			if !ok {
				continue
			}
			reduction := e.cfg.HedgeReduction * math.Min(result.LegMargins[i], result.LegMargins[j])
			result.Hedges = append(result.Hedges, Hedge{Kind: kind, LegA: i, LegB: j, Reduction: reduction})
			result.TotalReduction += reduction
		}
	}

	result.TotalMargin = math.Max(result.IndividualSum-result.TotalReduction, 0)
	if len(result.Hedges) > 0 {
		logger.Debug("🛡️ 组合 %s 识别到 %d 个对冲对, 保证金 %.2f → %.2f",
			combo.Name, len(result.Hedges), result.IndividualSum, result.TotalMargin)
	}
	return result, nil
}

// detectHedge 识别两腿是否构成对冲，所有形态都要求同一标的
func detectHedge(a, b Leg) (HedgeKind, bool) {
	if a.Symbol != b.Symbol {
		return "", false
	}
	if isCoveredCall(a, b) || isCoveredCall(b, a) {
		return CoveredCall, true
	}
	if a.Kind != portfolio.AssetOption || b.Kind != portfolio.AssetOption {
		return "", false
	}
	if a.OptionType == b.OptionType && a.Action != b.Action && a.Strike != b.Strike {
		return VerticalSpread, true
	}
	if a.OptionType != b.OptionType && a.Strike == b.Strike && a.Action == b.Action {
		return Straddle, true
	}
	return "", false
}

// isCoveredCall 多头现货 + 空头看涨
func isCoveredCall(stock, call Leg) bool {
	return stock.Kind == portfolio.AssetEquity && stock.Action == Buy &&
		call.Kind == portfolio.AssetOption && call.OptionType == Call && call.Action == Sell
}
