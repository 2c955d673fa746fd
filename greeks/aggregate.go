package greeks

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"quantrisk/logger"
	"quantrisk/market"
	"quantrisk/portfolio"
)

// Config Greeks 配置
type Config struct {
	RiskFreeRate         float64 `yaml:"risk_free_rate" json:"risk_free_rate"`
	DefaultVolatility    float64 `yaml:"default_volatility" json:"default_volatility"`
	HistoricalWindow     int     `yaml:"historical_window" json:"historical_window"`
	UnderlyingMultiplier float64 `yaml:"underlying_multiplier" json:"underlying_multiplier"` // 对冲工具的合约乘数
}

// DefaultConfig 默认配置
func DefaultConfig() Config {
	return Config{
		RiskFreeRate:         0.03,
		DefaultVolatility:    0.25,
		HistoricalWindow:     30,
		UnderlyingMultiplier: 1,
	}
}

// Validate 校验配置
func (c Config) Validate() error {
	if c.DefaultVolatility <= 0 {
		return fmt.Errorf("%w: default_volatility must be > 0", ErrInvalidInputs)
	}
	if c.HistoricalWindow < 2 {
		return fmt.Errorf("%w: historical_window must be >= 2", ErrInvalidInputs)
	}
	if c.UnderlyingMultiplier <= 0 {
		return fmt.Errorf("%w: underlying_multiplier must be > 0", ErrInvalidInputs)
	}
	return nil
}

// Holding 参与聚合的持仓，期权持仓需附带行情
type Holding struct {
	Position portfolio.Position
	Quote    *market.OptionQuote
}

// PositionGreeks 单个持仓的 Greeks 明细
type PositionGreeks struct {
	Symbol           string              `json:"symbol"`
	Underlying       string              `json:"underlying"`
	Kind             portfolio.AssetKind `json:"kind"`
	Direction        portfolio.Direction `json:"direction"`
	Quantity         float64             `json:"quantity"`
	Multiplier       float64             `json:"multiplier"`
	PerContract      Set                 `json:"per_contract"`
	Position         Set                 `json:"position"`
	DollarDelta      float64             `json:"dollar_delta"`
	TheoreticalPrice float64             `json:"theoretical_price,omitempty"`
	Volatility       *Resolution         `json:"volatility,omitempty"`
}

// Portfolio 组合 Greeks
type Portfolio struct {
	Total       Set              `json:"total"`
	DollarDelta float64          `json:"dollar_delta"`
	Positions   []PositionGreeks `json:"positions"`
	Hedges      map[string]int   `json:"hedges"` // 标的 → 建议对冲合约数
	Warnings    []string         `json:"warnings,omitempty"`
}

// Aggregator 组合 Greeks 聚合器
type Aggregator struct {
	cfg      Config
	resolver VolatilityResolver
}

// NewAggregator 创建聚合器
func NewAggregator(cfg Config) (*Aggregator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Aggregator{
		cfg:      cfg,
		resolver: VolatilityResolver{Window: cfg.HistoricalWindow, Default: cfg.DefaultVolatility},
	}, nil
}

func direction(pos portfolio.Position) (portfolio.Direction, float64) {
	if pos.Direction == portfolio.Short {
		return portfolio.Short, -1
	}
	return portfolio.Long, 1
}

// Aggregate 聚合持仓 Greeks
//
// 期权持仓: 持仓 Greek = 单张 Greek × 数量 × 乘数 × 方向符号，Gamma 不带符号累加。
// 现货/期货持仓只贡献 Delta（每单位 1），价格取 closes 最后一个值。
// 行情不完整的持仓跳过并写入 Warnings。
func (a *Aggregator) Aggregate(holdings []Holding, now time.Time, closes map[string][]float64) Portfolio {
	result := Portfolio{
		Positions: make([]PositionGreeks, 0, len(holdings)),
		Hedges:    make(map[string]int),
	}
	dollarByUnderlying := make(map[string]float64)
	priceByUnderlying := make(map[string]float64)

	for _, h := range holdings {
		pg, underlyingPrice, err := a.positionGreeks(h, now, closes)
		if err != nil {
			result.Warnings = append(result.Warnings, err.Error())
			logger.Warn("⚠️ Greeks 跳过 %s: %v", h.Position.Symbol, err)
			continue
		}
		result.Positions = append(result.Positions, pg)
		result.Total = result.Total.Add(pg.Position)
		result.DollarDelta += pg.DollarDelta
		dollarByUnderlying[pg.Underlying] += pg.DollarDelta
		priceByUnderlying[pg.Underlying] = underlyingPrice
	}

	for underlying, dd := range dollarByUnderlying {
		contracts := HedgeContracts(dd, priceByUnderlying[underlying], a.cfg.UnderlyingMultiplier)
		if contracts != 0 {
			result.Hedges[underlying] = contracts
		}
	}
	sort.Strings(result.Warnings)
	return result
}

var errMissingPrice = errors.New("no price available")

func (a *Aggregator) positionGreeks(h Holding, now time.Time, closes map[string][]float64) (PositionGreeks, float64, error) {
	pos := h.Position
	dir, sign := direction(pos)
	qty := math.Abs(pos.Quantity)
	mult := pos.ContractMultiplier()
	pg := PositionGreeks{
		Symbol:     pos.Symbol,
		Underlying: pos.Symbol,
		Kind:       pos.Kind,
		Direction:  dir,
		Quantity:   qty,
		Multiplier: mult,
	}

	if pos.Kind != portfolio.AssetOption {
		series := closes[pos.Symbol]
		if len(series) == 0 {
			return pg, 0, fmt.Errorf("%s: %w", pos.Symbol, errMissingPrice)
		}
		price := series[len(series)-1]
		pg.PerContract = Set{Delta: 1}
		pg.Position = Set{Delta: qty * mult * sign}
		pg.DollarDelta = pg.Position.Delta * price
		return pg, price, nil
	}

	if h.Quote == nil {
		return pg, 0, fmt.Errorf("%s: option quote missing", pos.Symbol)
	}
	q := *h.Quote
	if missing := q.PricingFieldsMissing(); len(missing) > 0 {
		return pg, 0, fmt.Errorf("option quote %s incomplete: missing %s", pos.Symbol, strings.Join(missing, ", "))
	}
	if q.Underlying != "" {
		pg.Underlying = q.Underlying
	}

	vol := a.resolver.Resolve(pos.Symbol, q.ImpliedVolatility, closes[pg.Underlying])
	in := Inputs{
		Type:         q.Type,
		Spot:         q.UnderlyingPrice,
		Strike:       q.Strike,
		TimeToExpiry: YearsToExpiry(q.Expiry, now),
		RiskFreeRate: a.cfg.RiskFreeRate,
		Volatility:   vol.Volatility,
	}
	set, err := Calculate(in)
	if err != nil {
		return pg, 0, fmt.Errorf("%s: %w", pos.Symbol, err)
	}
	price, _ := TheoreticalPrice(in)

	scale := qty * mult
	pg.PerContract = set
	pg.Position = Set{
		Delta: set.Delta * scale * sign,
		Gamma: set.Gamma * scale,
		Vega:  set.Vega * scale * sign,
		Theta: set.Theta * scale * sign,
		Rho:   set.Rho * scale * sign,
	}
	pg.DollarDelta = pg.Position.Delta * q.UnderlyingPrice
	pg.TheoreticalPrice = price
	pg.Volatility = &vol
	return pg, q.UnderlyingPrice, nil
}

// HedgeContracts Delta 对冲合约数 = round(−dollarDelta / (标的价格 × 标的乘数))
func HedgeContracts(dollarDelta, underlyingPrice, underlyingMultiplier float64) int {
	if underlyingPrice <= 0 || underlyingMultiplier <= 0 {
		return 0
	}
	return int(math.Round(-dollarDelta / (underlyingPrice * underlyingMultiplier)))
}
