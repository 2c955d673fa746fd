// Package risk 组合风险：VaR/CVaR、相关性、集中度、保证金占用、强平预警与快照服务
package risk

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"quantrisk/greeks"
	"quantrisk/logger"
	"quantrisk/margin"
	"quantrisk/market"
	"quantrisk/portfolio"
)

// ErrInvalidConfig 风险引擎配置非法
var ErrInvalidConfig = errors.New("invalid risk config")

// Config 风险引擎配置
type Config struct {
	VaRHorizon           int                   `yaml:"var_horizon" json:"var_horizon"`
	CorrelationWindow    int                   `yaml:"correlation_window" json:"correlation_window"`
	CorrelationThreshold float64               `yaml:"correlation_threshold" json:"correlation_threshold"`
	CorrelationTTL       time.Duration         `yaml:"correlation_ttl" json:"correlation_ttl"`
	Liquidation          LiquidationThresholds `yaml:"liquidation" json:"liquidation"`
	Margin               margin.Config         `yaml:"margin" json:"margin"`
	Greeks               greeks.Config         `yaml:"greeks" json:"greeks"`

	CacheTTL        time.Duration `yaml:"cache_ttl" json:"cache_ttl"`
	RefreshInterval time.Duration `yaml:"refresh_interval" json:"refresh_interval"`
	RefreshPerSec   float64       `yaml:"refresh_per_sec" json:"refresh_per_sec"` // 强制刷新限速
	RefreshBurst    int           `yaml:"refresh_burst" json:"refresh_burst"`
}

// DefaultConfig 默认配置
func DefaultConfig() Config {
	return Config{
		VaRHorizon:           1,
		CorrelationWindow:    60,
		CorrelationThreshold: 0.7,
		CorrelationTTL:       60 * time.Second,
		Liquidation:          DefaultLiquidationThresholds(),
		Margin:               margin.DefaultConfig(),
		Greeks:               greeks.DefaultConfig(),
		CacheTTL:             5 * time.Second,
		RefreshInterval:      5 * time.Second,
		RefreshPerSec:        1,
		RefreshBurst:         1,
	}
}

// Validate 校验配置
func (c Config) Validate() error {
	if c.VaRHorizon < 1 {
		return fmt.Errorf("%w: var_horizon %d must be >= 1", ErrInvalidConfig, c.VaRHorizon)
	}
	if c.CorrelationWindow < 2 {
		return fmt.Errorf("%w: correlation_window %d must be >= 2", ErrInvalidConfig, c.CorrelationWindow)
	}
	if c.CorrelationThreshold <= 0 || c.CorrelationThreshold > 1 {
		return fmt.Errorf("%w: correlation_threshold %.4f must be in (0,1]", ErrInvalidConfig, c.CorrelationThreshold)
	}
	th := c.Liquidation
	if th.CriticalPct < 0 || th.WarningPct < th.CriticalPct {
		return fmt.Errorf("%w: liquidation thresholds critical=%.2f warning=%.2f", ErrInvalidConfig, th.CriticalPct, th.WarningPct)
	}
	if c.CacheTTL <= 0 || c.RefreshInterval <= 0 {
		return fmt.Errorf("%w: cache_ttl and refresh_interval must be > 0", ErrInvalidConfig)
	}
	if c.RefreshPerSec <= 0 || c.RefreshBurst < 1 {
		return fmt.Errorf("%w: refresh_per_sec=%.2f refresh_burst=%d", ErrInvalidConfig, c.RefreshPerSec, c.RefreshBurst)
	}
	if err := c.Margin.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if err := c.Greeks.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

// Inputs 一次风险计算的输入
type Inputs struct {
	Timestamp    time.Time                      `json:"timestamp"`
	Cash         float64                        `json:"cash"`
	Positions    []portfolio.Position           `json:"positions"`
	Prices       map[string]float64             `json:"prices"`        // 最新价格
	Closes       map[string][]float64           `json:"closes"`        // 收盘价历史，时间升序
	OptionQuotes map[string]*market.OptionQuote `json:"option_quotes"` // 期权持仓补充行情
}

// Snapshot 风险快照，生成后不可修改
type Snapshot struct {
	ID                  string               `json:"id"`
	Timestamp           time.Time            `json:"timestamp"`
	Equity              float64              `json:"equity"`
	PositionsValue      float64              `json:"positions_value"`
	VaR95               VaRResult            `json:"var_95"`
	VaR99               VaRResult            `json:"var_99"`
	Correlation         CorrelationResult    `json:"correlation"`
	Concentration       Concentration        `json:"concentration"`
	TotalMargin         float64              `json:"total_margin"`
	MarginUsage         float64              `json:"margin_usage"`
	Margins             []margin.Snapshot    `json:"margins"`
	LiquidationWarnings []LiquidationWarning `json:"liquidation_warnings"`
	Greeks              greeks.Portfolio     `json:"greeks"`
	Warnings            []string             `json:"warnings,omitempty"`
	ComputeDuration     time.Duration        `json:"compute_duration"`
}

// Engine 风险引擎
type Engine struct {
	cfg         Config
	margin      *margin.Engine
	greeks      *greeks.Aggregator
	correlation *CorrelationCalculator
}

// NewEngine 创建风险引擎，配置非法时失败
func NewEngine(cfg Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	me, err := margin.NewEngine(cfg.Margin)
	if err != nil {
		return nil, err
	}
	agg, err := greeks.NewAggregator(cfg.Greeks)
	if err != nil {
		return nil, err
	}
	return &Engine{
		cfg:         cfg,
		margin:      me,
		greeks:      agg,
		correlation: NewCorrelationCalculator(cfg.CorrelationWindow, cfg.CorrelationThreshold, cfg.CorrelationTTL),
	}, nil
}

// Config 返回配置
func (e *Engine) Config() Config { return e.cfg }

// Margin 保证金引擎
func (e *Engine) Margin() *margin.Engine { return e.margin }

// Compute 计算风险快照
// 数据不足的部分取零值/空值，原因写入 Warnings
func (e *Engine) Compute(in Inputs) *Snapshot {
	start := time.Now()
	ts := in.Timestamp
	if ts.IsZero() {
		ts = start
	}
	snap := &Snapshot{ID: uuid.New().String(), Timestamp: ts}
	warn := func(format string, args ...interface{}) {
		msg := fmt.Sprintf(format, args...)
		snap.Warnings = append(snap.Warnings, msg)
		logger.Warn("⚠️ [风险] %s", msg)
	}

	values := make(map[string]float64, len(in.Positions))
	for _, pos := range in.Positions {
		price, ok := in.Prices[pos.Symbol]
		if !ok || price <= 0 {
			warn("missing price for %s, valued at 0", pos.Symbol)
			continue
		}
		mv := pos.MarketValue(price)
		values[pos.Symbol] += mv
		snap.PositionsValue += mv
	}
	snap.Equity = in.Cash + snap.PositionsValue

	// 保证金与强平
	margins, _, err := e.margin.EvaluateAll(in.Positions, in.Prices)
	if err != nil {
		warn("margin evaluation skipped positions: %v", err)
	}
	snap.Margins = margins
	snap.TotalMargin = margin.TotalMargin(margins)
	snap.MarginUsage = MarginUsage(snap.TotalMargin, snap.Equity)
	snap.LiquidationWarnings = LiquidationWarnings(snap.Margins, e.cfg.Liquidation)

	// VaR / CVaR
	returns := PortfolioReturns(in.Closes, values)
	snap.VaR95 = HistoricalVaR(returns, 0.95, e.cfg.VaRHorizon)
	snap.VaR99 = HistoricalVaR(returns, 0.99, e.cfg.VaRHorizon)
	if snap.VaR95.Warning != "" && len(in.Positions) > 0 {
		warn("var: %s", snap.VaR95.Warning)
	}

	// 相关性只针对持仓资产
	held := make(map[string][]float64, len(values))
	for sym := range values {
		if c, ok := in.Closes[sym]; ok {
			held[sym] = c
		}
	}
	if len(held) >= 2 {
		snap.Correlation = e.correlation.Matrix(held)
		if snap.Correlation.Warning != "" {
			warn("correlation: %s", snap.Correlation.Warning)
		}
	}

	snap.Concentration = CalculateConcentration(values)

	// Greeks
	holdings := make([]greeks.Holding, 0, len(in.Positions))
	for _, pos := range in.Positions {
		h := greeks.Holding{Position: pos}
		if pos.Kind == portfolio.AssetOption {
			h.Quote = in.OptionQuotes[pos.Symbol]
		}
		holdings = append(holdings, h)
	}
	closes := in.Closes
	if closes == nil {
		closes = map[string][]float64{}
	}
	// 现货/期货 Delta 需要最新价格
	withLatest := make(map[string][]float64, len(closes)+len(in.Prices))
	for sym, c := range closes {
		withLatest[sym] = c
	}
	for sym, p := range in.Prices {
		if _, ok := withLatest[sym]; !ok && p > 0 {
			withLatest[sym] = []float64{p}
		}
	}
	snap.Greeks = e.greeks.Aggregate(holdings, ts, withLatest)
	for _, w := range snap.Greeks.Warnings {
		snap.Warnings = append(snap.Warnings, "greeks: "+w)
	}

	sort.Strings(snap.Warnings)
	snap.ComputeDuration = time.Since(start)
	logger.Debug("📊 [风险] 快照 %s: 权益=%.2f 保证金占用=%.2f%% VaR95=%.4f 预警=%d 耗时=%v",
		snap.ID, snap.Equity, snap.MarginUsage*100, snap.VaR95.VaR, len(snap.LiquidationWarnings), snap.ComputeDuration)
	return snap
}
