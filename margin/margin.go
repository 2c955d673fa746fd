// Package margin 保证金与强平：单仓保证金、强平价、强平判定与组合保证金
package margin

import (
	"errors"
	"fmt"
	"math"

	"quantrisk/logger"
	"quantrisk/portfolio"
)

// ErrInvalidRates 保证金率/强平率配置非法
var ErrInvalidRates = errors.New("invalid margin rates")

// 默认参数
const (
	DefaultMarginRate     = 0.15
	DefaultForceCloseRate = 0.10
	DefaultHedgeReduction = 0.30
)

// CalculateMargin 所需保证金 = |数量| × 价格 × 乘数 × 保证金率
// 现货不使用杠杆，按全额名义价值计算
func CalculateMargin(kind portfolio.AssetKind, quantity, price, multiplier, marginRate float64) float64 {
	if multiplier <= 0 {
		multiplier = 1
	}
	if kind == portfolio.AssetEquity || marginRate <= 0 {
		marginRate = 1
	}
	return math.Abs(quantity) * price * multiplier * marginRate
}

// ValidateRates 校验 0 <= 强平率 < 保证金率 <= 1
func ValidateRates(marginRate, forceCloseRate float64) error {
	if marginRate <= 0 || marginRate > 1 {
		return fmt.Errorf("%w: margin_rate %.4f must be in (0,1]", ErrInvalidRates, marginRate)
	}
	if forceCloseRate < 0 || forceCloseRate >= marginRate {
		return fmt.Errorf("%w: force_close_rate %.4f must be >= 0 and < margin_rate %.4f",
			ErrInvalidRates, forceCloseRate, marginRate)
	}
	return nil
}

// LiquidationPrice 强平价
// 多头 entry×(1−(m−f))，空头 entry×(1+(m−f))
func LiquidationPrice(entryPrice float64, dir portfolio.Direction, marginRate, forceCloseRate float64) (float64, error) {
	if entryPrice <= 0 {
		return 0, fmt.Errorf("%w: entry price %.6f must be > 0", ErrInvalidRates, entryPrice)
	}
	if err := ValidateRates(marginRate, forceCloseRate); err != nil {
		return 0, err
	}
	buffer := marginRate - forceCloseRate
	if dir == portfolio.Short {
		return entryPrice * (1 + buffer), nil
	}
	return entryPrice * (1 - buffer), nil
}

// IsForcedLiquidation 多头 current <= liq 触发，空头 current >= liq 触发
func IsForcedLiquidation(currentPrice, liquidationPrice float64, dir portfolio.Direction) bool {
	if dir == portfolio.Short {
		return currentPrice >= liquidationPrice
	}
	return currentPrice <= liquidationPrice
}

// DistanceToLiquidation 距强平价的距离（占当前价 %），已触发时为 0
func DistanceToLiquidation(currentPrice, liquidationPrice float64, dir portfolio.Direction) float64 {
	if currentPrice <= 0 {
		return 0
	}
	var distance float64
	if dir == portfolio.Short {
		distance = (liquidationPrice - currentPrice) / currentPrice * 100
	} else {
		distance = (currentPrice - liquidationPrice) / currentPrice * 100
	}
	return math.Max(distance, 0)
}

// Snapshot 单仓保证金快照，价格变化即失效，不做缓存
type Snapshot struct {
	Symbol                string              `json:"symbol"`
	Kind                  portfolio.AssetKind `json:"kind"`
	Direction             portfolio.Direction `json:"direction"`
	Quantity              float64             `json:"quantity"`
	EntryPrice            float64             `json:"entry_price"`
	CurrentPrice          float64             `json:"current_price"`
	RequiredMargin        float64             `json:"required_margin"`
	LiquidationPrice      float64             `json:"liquidation_price"`
	DistanceToLiquidation float64             `json:"distance_to_liquidation_pct"`
	ForcedLiquidation     bool                `json:"forced_liquidation"`
	Leveraged             bool                `json:"leveraged"`
}

// Config 保证金引擎配置
type Config struct {
	MarginRate     float64 `yaml:"margin_rate" json:"margin_rate"`           // 持仓未指定时使用
	ForceCloseRate float64 `yaml:"force_close_rate" json:"force_close_rate"` // 维持保证金率
	HedgeReduction float64 `yaml:"hedge_reduction" json:"hedge_reduction"`   // 对冲对减免比例
}

// DefaultConfig 默认配置
func DefaultConfig() Config {
	return Config{
		MarginRate:     DefaultMarginRate,
		ForceCloseRate: DefaultForceCloseRate,
		HedgeReduction: DefaultHedgeReduction,
	}
}

// Validate 校验配置
func (c Config) Validate() error {
	if err := ValidateRates(c.MarginRate, c.ForceCloseRate); err != nil {
		return err
	}
	if c.HedgeReduction < 0 || c.HedgeReduction > 1 {
		return fmt.Errorf("%w: hedge_reduction %.4f must be in [0,1]", ErrInvalidRates, c.HedgeReduction)
	}
	return nil
}

// Engine 保证金引擎，无状态，可并发使用
type Engine struct {
	cfg Config
}

// NewEngine 创建引擎，配置非法时失败
func NewEngine(cfg Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Engine{cfg: cfg}, nil
}

// Config 返回配置
func (e *Engine) Config() Config {
	return e.cfg
}

// Evaluate 按当前价格评估单个持仓
//
// 持仓自带保证金率不大于强平率时属于配置错误，返回 ErrInvalidRates。
func (e *Engine) Evaluate(pos portfolio.Position, currentPrice float64) (Snapshot, error) {
	snap := Snapshot{
		Symbol:       pos.Symbol,
		Kind:         pos.Kind,
		Direction:    pos.Direction,
		Quantity:     pos.Quantity,
		EntryPrice:   pos.EntryPrice,
		CurrentPrice: currentPrice,
	}
	if snap.Direction == "" {
		snap.Direction = portfolio.Long
	}

	rate := e.positionRate(pos)
	snap.Leveraged = rate < 1
	snap.RequiredMargin = CalculateMargin(pos.Kind, pos.Quantity, currentPrice, pos.ContractMultiplier(), rate)
	if !snap.Leveraged {
		return snap, nil
	}

	liq, err := LiquidationPrice(pos.EntryPrice, snap.Direction, rate, e.cfg.ForceCloseRate)
	if err != nil {
		return snap, fmt.Errorf("%s: %w", pos.Symbol, err)
	}
	snap.LiquidationPrice = liq
	snap.DistanceToLiquidation = DistanceToLiquidation(currentPrice, liq, snap.Direction)
	snap.ForcedLiquidation = IsForcedLiquidation(currentPrice, liq, snap.Direction)
	if snap.ForcedLiquidation {
		logger.Warn("🚨 触发强平: %s %s 当前价=%.4f 强平价=%.4f", pos.Symbol, snap.Direction, currentPrice, liq)
	}
	return snap, nil
}

// EvaluateAll 评估全部持仓
//
// 缺价或评估失败的持仓跳过并返回其代码，其余持仓照常评估；
// 评估失败的原因合并为 error 返回。
func (e *Engine) EvaluateAll(positions []portfolio.Position, prices map[string]float64) ([]Snapshot, []string, error) {
	snaps := make([]Snapshot, 0, len(positions))
	var skipped []string
	var errs []error
	for _, pos := range positions {
		price, ok := prices[pos.Symbol]
		if !ok || price <= 0 {
			skipped = append(skipped, pos.Symbol)
			continue
		}
		snap, err := e.Evaluate(pos, price)
		if err != nil {
			skipped = append(skipped, pos.Symbol)
			errs = append(errs, err)
			continue
		}
		snaps = append(snaps, snap)
	}
	return snaps, skipped, errors.Join(errs...)
}

// TotalMargin 快照保证金合计
func TotalMargin(snaps []Snapshot) float64 {
	total := 0.0
	for _, s := range snaps {
		total += s.RequiredMargin
	}
	return total
}

// positionRate 现货或保证金率 >= 1 视为全额；未设置时使用默认保证金率
func (e *Engine) positionRate(pos portfolio.Position) float64 {
	switch {
	case pos.Kind == portfolio.AssetEquity || pos.MarginRate >= 1:
		return 1
	case pos.MarginRate > 0:
		return pos.MarginRate
	default:
		return e.cfg.MarginRate
	}
}
