// Package backtest 回测驱动：按时间回放K线，执行策略信号，汇总配对交易与绩效指标
package backtest

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"quantrisk/logger"
	"quantrisk/market"
	"quantrisk/metrics"
	"quantrisk/portfolio"
)

// ErrEmptySeries K线数据为空
var ErrEmptySeries = errors.New("price series is empty")

// Config 回测配置
type Config struct {
	Ledger             portfolio.Config `yaml:"ledger" json:"ledger"`
	Limits             SignalLimits     `yaml:"limits" json:"limits"`
	DefaultPositionPct float64          `yaml:"default_position_pct" json:"default_position_pct"` // 信号未给仓位时使用
	CloseOnFinish      bool             `yaml:"close_on_finish" json:"close_on_finish"`           // 结束时按最后收盘价平仓
	ProgressEvery      int              `yaml:"progress_every" json:"progress_every"`             // 进度日志间隔（根K线）
}

// DefaultConfig 默认回测配置
func DefaultConfig() Config {
	return Config{
		Ledger: portfolio.Config{
			InitialCapital: 100000,
			CommissionRate: 0.001,
			SlippageRate:   0.0005,
			Source:         "backtest",
		},
		Limits:             DefaultSignalLimits(),
		DefaultPositionPct: 95,
		CloseOnFinish:      true,
		ProgressEvery:      10000,
	}
}

// Result 回测结果
type Result struct {
	RunID          string    `json:"run_id"`
	Symbol         string    `json:"symbol"`
	Strategy       string    `json:"strategy"`
	StartTime      time.Time `json:"start_time"`
	EndTime        time.Time `json:"end_time"`
	InitialCapital float64   `json:"initial_capital"`
	FinalCapital   float64   `json:"final_capital"`

	Equity  []portfolio.Snapshot `json:"equity"`
	Trades  []portfolio.Trade    `json:"trades"`
	Matches []MatchedTrade       `json:"matches"`
	Open    []portfolio.Position `json:"open_positions,omitempty"`

	Metrics     Metrics     `json:"metrics"`
	RiskMetrics RiskMetrics `json:"risk_metrics"`

	// 执行统计
	Rejections     int `json:"rejections"`      // 资金/持仓不足被拒绝的订单
	InvalidSignals int `json:"invalid_signals"` // 未通过校验的信号
	StopExits      int `json:"stop_exits"`
	TargetExits    int `json:"target_exits"`
}

// Backtester 回测器，单次回测单线程运行
type Backtester struct {
	symbol   string
	bars     market.BarSeries
	strategy Strategy
	cfg      Config

	ledger *portfolio.Ledger

	// 当前持仓的止损/止盈
	stopLoss   float64
	takeProfit float64

	rejections     int
	invalidSignals int
	stopExits      int
	targetExits    int
}

// NewBacktester 创建回测器
// 账本配置非法或K线序列不合法时直接返回错误
func NewBacktester(symbol string, bars market.BarSeries, strategy Strategy, cfg Config) (*Backtester, error) {
	if bars == nil || bars.Len() == 0 {
		return nil, fmt.Errorf("%s: %w", symbol, ErrEmptySeries)
	}
	if err := market.ValidateSeries(bars); err != nil {
		return nil, fmt.Errorf("%s: %w", symbol, err)
	}
	if strategy == nil {
		return nil, fmt.Errorf("%s: strategy is nil", symbol)
	}
	if cfg.DefaultPositionPct <= 0 || cfg.DefaultPositionPct > 100 {
		cfg.DefaultPositionPct = 95
	}
	ledger, err := portfolio.NewLedger(cfg.Ledger)
	if err != nil {
		return nil, err
	}
	return &Backtester{
		symbol:   symbol,
		bars:     bars,
		strategy: strategy,
		cfg:      cfg,
		ledger:   ledger,
	}, nil
}

// Ledger 回测使用的账本
func (bt *Backtester) Ledger() *portfolio.Ledger {
	return bt.ledger
}

// Run 运行回测
func (bt *Backtester) Run() (*Result, error) {
	n := bt.bars.Len()
	started := time.Now()
	logger.Info("🚀 开始回测: %s %s 策略, %d 根K线", bt.symbol, bt.strategy.Name(), n)

	for i := 0; i < n; i++ {
		bar := bt.bars.At(i)

		// 1. 先检查盘中止损/止盈
		bt.checkExits(bar)

		// 2. 调用策略
		signal := bt.strategy.GenerateSignal(market.Slice(bt.bars, 0, i+1))

		// 3. 执行交易
		bt.apply(signal, bar)

		// 4. 最后一根K线平仓
		if i == n-1 && bt.cfg.CloseOnFinish && bt.holding() > 0 {
			bt.exit(bar.Close, bar.Timestamp, "回测结束，强制平仓")
		}

		// 5. 记录权益
		bt.ledger.Snapshot(bar.Timestamp, map[string]float64{bt.symbol: bar.Close})

		if bt.cfg.ProgressEvery > 0 && i%bt.cfg.ProgressEvery == 0 && i > 0 {
			logger.Info("⏳ 回测进度: %.1f%%", float64(i)/float64(n)*100)
		}
	}

	trades := bt.ledger.TradeLog()
	equity := bt.ledger.EquityCurve()
	matches := MatchTrades(trades)
	initial := bt.ledger.InitialCapital()

	logger.Info("✅ 回测完成: %s %d 笔成交, %d 笔配对, 拒绝 %d, 无效信号 %d",
		bt.symbol, len(trades), len(matches), bt.rejections, bt.invalidSignals)

	first := bt.bars.At(0)
	last := bt.bars.At(n - 1)
	result := &Result{
		RunID:          uuid.NewString(),
		Symbol:         bt.symbol,
		Strategy:       bt.strategy.Name(),
		StartTime:      first.Timestamp,
		EndTime:        last.Timestamp,
		InitialCapital: initial,
		FinalCapital:   equity[len(equity)-1].TotalValue,
		Equity:         equity,
		Trades:         trades,
		Matches:        matches,
		Open:           bt.ledger.Positions(),
		Metrics:        CalculateMetrics(equity, matches, initial),
		RiskMetrics:    CalculateRiskMetrics(equity),
		Rejections:     bt.rejections,
		InvalidSignals: bt.invalidSignals,
		StopExits:      bt.stopExits,
		TargetExits:    bt.targetExits,
	}
	metrics.GetPrometheusMetrics().RecordBacktest(bt.symbol, result.Strategy, "success", time.Since(started), result.Metrics.TotalReturn)
	return result, nil
}

func (bt *Backtester) holding() float64 {
	pos, ok := bt.ledger.Position(bt.symbol)
	if !ok {
		return 0
	}
	return pos.Quantity
}

// checkExits 盘中触发止损/止盈，跳空时按开盘价成交
func (bt *Backtester) checkExits(bar market.Bar) {
	if bt.holding() <= 0 {
		return
	}
	if bt.stopLoss > 0 && bar.Low <= bt.stopLoss {
		price := math.Min(bt.stopLoss, bar.Open)
		if price <= 0 {
			price = bt.stopLoss
		}
		if bt.exit(price, bar.Timestamp, "触发止损") {
			bt.stopExits++
		}
		return
	}
	if bt.takeProfit > 0 && bar.High >= bt.takeProfit {
		price := math.Max(bt.takeProfit, bar.Open)
		if bt.exit(price, bar.Timestamp, "触发止盈") {
			bt.targetExits++
		}
	}
}

func (bt *Backtester) apply(signal Signal, bar market.Bar) {
	if signal.Action == "" || signal.Action == ActionHold {
		return
	}
	if signal.EntryPrice <= 0 {
		signal.EntryPrice = bar.Close
	}
	if signal.Action.IsBuy() && signal.PositionSizePct == 0 {
		signal.PositionSizePct = bt.cfg.DefaultPositionPct
	}

	held := bt.holding()
	equity := bt.ledger.MarkToMarket(map[string]float64{bt.symbol: bar.Close})
	allocated := 0.0
	if equity > 0 {
		allocated = held * bar.Close / equity * 100
	}

	sig, err := ValidateSignal(signal, bt.cfg.Limits, allocated)
	if err != nil {
		bt.invalidSignals++
		metrics.GetPrometheusMetrics().RecordRejection(bt.strategy.Name(), "invalid_signal")
		logger.Debug("⚠️ 忽略无效信号 %s@%s: %v", bt.symbol, bar.Timestamp.Format(time.RFC3339), err)
		return
	}

	switch {
	case sig.Action.IsBuy() && held == 0:
		bt.enter(sig, bar, equity)
	case sig.Action.IsSell() && held > 0:
		bt.exit(bar.Close, bar.Timestamp, fmt.Sprintf("%s %v", sig.Action, sig.Factors))
	}
}

// enter 按信号仓位开仓（以收盘价成交）
func (bt *Backtester) enter(sig Signal, bar market.Bar, equity float64) {
	if sig.PositionSizePct <= 0 {
		return
	}
	price := bar.Close
	feeRate := bt.cfg.Ledger.CommissionRate + bt.cfg.Ledger.SlippageRate
	budget := math.Min(equity*sig.PositionSizePct/100, bt.ledger.Cash())
	// 留出浮点误差余量，避免满仓时因舍入被拒
	quantity := budget / (price * (1 + feeRate)) * (1 - 1e-9)
	if quantity <= 0 {
		return
	}

	if _, err := bt.ledger.Buy(bt.symbol, price, quantity, bar.Timestamp); err != nil {
		bt.reject(err)
		return
	}
	bt.stopLoss = sig.StopLoss
	bt.takeProfit = sig.TakeProfit
	metrics.GetPrometheusMetrics().RecordTrade(bt.strategy.Name(), string(portfolio.SideBuy))
	logger.Debug("📈 开仓 %s: 价格=%.4f, 数量=%.4f, 止损=%.4f, 止盈=%.4f, 依据=%v",
		bt.symbol, price, quantity, sig.StopLoss, sig.TakeProfit, sig.Factors)
}

// exit 全部平仓
func (bt *Backtester) exit(price float64, ts time.Time, reason string) bool {
	quantity := bt.holding()
	if quantity <= 0 {
		return false
	}
	if _, err := bt.ledger.Sell(bt.symbol, price, quantity, ts); err != nil {
		bt.reject(err)
		return false
	}
	bt.stopLoss, bt.takeProfit = 0, 0
	metrics.GetPrometheusMetrics().RecordTrade(bt.strategy.Name(), string(portfolio.SideSell))
	logger.Debug("📉 平仓 %s: 价格=%.4f, 数量=%.4f, 原因=%s", bt.symbol, price, quantity, reason)
	return true
}

func (bt *Backtester) reject(err error) {
	bt.rejections++
	pm := metrics.GetPrometheusMetrics()
	switch {
	case errors.Is(err, portfolio.ErrInsufficientFunds):
		pm.RecordRejection(bt.strategy.Name(), "insufficient_funds")
	case errors.Is(err, portfolio.ErrInsufficientPosition):
		pm.RecordRejection(bt.strategy.Name(), "insufficient_position")
	default:
		pm.RecordRejection(bt.strategy.Name(), "execution_error")
	}
	if errors.Is(err, portfolio.ErrInsufficientFunds) || errors.Is(err, portfolio.ErrInsufficientPosition) {
		logger.Debug("⚠️ 订单被拒绝: %v", err)
		return
	}
	logger.Warn("⚠️ 订单执行失败: %v", err)
}
