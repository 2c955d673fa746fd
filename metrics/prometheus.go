// Package metrics Prometheus 指标
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once sync.Once
	// 回测指标
	backtestRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quantrisk_backtest_runs_total",
			Help: "Total number of backtest runs",
		},
		[]string{"strategy", "status"},
	)

	backtestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "quantrisk_backtest_duration_seconds",
			Help:    "Backtest run duration in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"strategy"},
	)

	backtestTrades = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quantrisk_backtest_trades_total",
			Help: "Total number of simulated trades",
		},
		[]string{"strategy", "side"},
	)

	backtestRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quantrisk_backtest_rejections_total",
			Help: "Total number of rejected simulated orders or signals",
		},
		[]string{"strategy", "reason"},
	)

	backtestReturn = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "quantrisk_backtest_total_return_pct",
			Help: "Total return percentage of the latest backtest",
		},
		[]string{"symbol", "strategy"},
	)

	// 风险指标
	riskVaR = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "quantrisk_risk_var",
			Help: "Historical value at risk (signed return, loss is negative)",
		},
		[]string{"confidence"},
	)

	riskCVaR = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "quantrisk_risk_cvar",
			Help: "Conditional value at risk (signed return, loss is negative)",
		},
		[]string{"confidence"},
	)

	riskEquity = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "quantrisk_risk_equity",
			Help: "Account equity at the latest risk snapshot",
		},
	)

	marginUsageRatio = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "quantrisk_margin_usage_ratio",
			Help: "Margin usage ratio (0-1)",
		},
	)

	liquidationWarnings = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "quantrisk_liquidation_warnings",
			Help: "Number of positions near liquidation",
		},
		[]string{"level"},
	)

	portfolioDelta = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "quantrisk_portfolio_dollar_delta",
			Help: "Aggregated dollar delta of the portfolio",
		},
	)

	riskRefreshTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quantrisk_risk_refresh_total",
			Help: "Total number of risk snapshot refreshes",
		},
		[]string{"trigger"},
	)

	riskRefreshDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "quantrisk_risk_refresh_duration_seconds",
			Help:    "Risk snapshot computation duration in seconds",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		},
	)

	riskCacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quantrisk_risk_cache_total",
			Help: "Risk snapshot cache lookups",
		},
		[]string{"result"},
	)

	// 并行执行指标
	parallelJobs = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quantrisk_parallel_jobs_total",
			Help: "Total number of parallel backtest jobs",
		},
		[]string{"status"},
	)

	parallelWorkers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "quantrisk_parallel_workers",
			Help: "Number of workers used by the latest parallel sweep",
		},
	)

	// 前推验证指标
	overfitScore = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "quantrisk_walkforward_overfit_score",
			Help: "Average train minus test sharpe of the latest walk-forward run",
		},
		[]string{"symbol", "strategy"},
	)

	// 系统指标
	goroutineCount = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "quantrisk_goroutines",
			Help: "Number of goroutines",
		},
	)

	memoryAlloc = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "quantrisk_memory_alloc_bytes",
			Help: "Bytes of allocated heap objects",
		},
	)

	systemMemoryPercent = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "quantrisk_system_memory_percent",
			Help: "System memory usage percentage",
		},
	)

	memoryPressure = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "quantrisk_memory_pressure",
			Help: "1 when system memory usage is above the parallel worker warning threshold",
		},
	)

	gcPauseDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "quantrisk_gc_pause_duration_seconds",
			Help:    "GC pause duration in seconds",
			Buckets: []float64{0.00001, 0.0001, 0.001, 0.01, 0.1},
		},
	)
)

// PrometheusMetrics Prometheus 指标封装
type PrometheusMetrics struct{}

var globalPrometheusMetrics *PrometheusMetrics

// NewPrometheusMetrics 创建 Prometheus 指标实例
func NewPrometheusMetrics() *PrometheusMetrics {
	return &PrometheusMetrics{}
}

// ========== 回测 ==========

// RecordBacktest 记录一次回测
func (pm *PrometheusMetrics) RecordBacktest(symbol, strategy, status string, duration time.Duration, totalReturnPct float64) {
	backtestRunsTotal.WithLabelValues(strategy, status).Inc()
	backtestDuration.WithLabelValues(strategy).Observe(duration.Seconds())
	if status == "success" {
		backtestReturn.WithLabelValues(symbol, strategy).Set(totalReturnPct)
	}
}

// RecordTrade 记录模拟成交
func (pm *PrometheusMetrics) RecordTrade(strategy, side string) {
	backtestTrades.WithLabelValues(strategy, side).Inc()
}

// RecordRejection 记录被拒绝的信号或订单
func (pm *PrometheusMetrics) RecordRejection(strategy, reason string) {
	backtestRejections.WithLabelValues(strategy, reason).Inc()
}

// ========== 风险 ==========

// SetVaR 设置 VaR/CVaR
func (pm *PrometheusMetrics) SetVaR(confidence string, v, cvar float64) {
	riskVaR.WithLabelValues(confidence).Set(v)
	riskCVaR.WithLabelValues(confidence).Set(cvar)
}

// SetEquity 设置账户权益
func (pm *PrometheusMetrics) SetEquity(equity float64) {
	riskEquity.Set(equity)
}

// SetMarginUsageRatio 设置保证金占用率
func (pm *PrometheusMetrics) SetMarginUsageRatio(ratio float64) {
	marginUsageRatio.Set(ratio)
}

// SetLiquidationWarnings 设置强平预警数量
func (pm *PrometheusMetrics) SetLiquidationWarnings(critical, warning int) {
	liquidationWarnings.WithLabelValues("critical").Set(float64(critical))
	liquidationWarnings.WithLabelValues("warning").Set(float64(warning))
}

// SetDollarDelta 设置组合美元 Delta
func (pm *PrometheusMetrics) SetDollarDelta(v float64) {
	portfolioDelta.Set(v)
}

// RecordRiskRefresh 记录快照刷新
func (pm *PrometheusMetrics) RecordRiskRefresh(trigger string, duration time.Duration) {
	riskRefreshTotal.WithLabelValues(trigger).Inc()
	riskRefreshDuration.Observe(duration.Seconds())
}

// RecordRiskCache 记录缓存命中情况
func (pm *PrometheusMetrics) RecordRiskCache(hit bool) {
	if hit {
		riskCacheHits.WithLabelValues("hit").Inc()
		return
	}
	riskCacheHits.WithLabelValues("miss").Inc()
}

// ========== 并行执行 ==========

// RecordJob 记录并行任务结果
func (pm *PrometheusMetrics) RecordJob(status string) {
	parallelJobs.WithLabelValues(status).Inc()
}

// SetWorkers 设置工作协程数
func (pm *PrometheusMetrics) SetWorkers(n int) {
	parallelWorkers.Set(float64(n))
}

// ========== 前推验证 ==========

// SetOverfitScore 设置过拟合分数
func (pm *PrometheusMetrics) SetOverfitScore(symbol, strategy string, score float64) {
	overfitScore.WithLabelValues(symbol, strategy).Set(score)
}

// ========== 系统 ==========

// SetGoroutineCount 设置 Goroutine 数量
func (pm *PrometheusMetrics) SetGoroutineCount(count int) {
	goroutineCount.Set(float64(count))
}

// SetMemoryAlloc 设置堆内存分配
func (pm *PrometheusMetrics) SetMemoryAlloc(bytes uint64) {
	memoryAlloc.Set(float64(bytes))
}

// SetSystemMemoryPercent 设置系统内存占用
func (pm *PrometheusMetrics) SetSystemMemoryPercent(pct float64) {
	systemMemoryPercent.Set(pct)
}

// SetMemoryPressure 设置内存压力状态
func (pm *PrometheusMetrics) SetMemoryPressure(high bool) {
	if high {
		memoryPressure.Set(1)
		return
	}
	memoryPressure.Set(0)
}

// RecordGCPause 记录 GC 停顿
func (pm *PrometheusMetrics) RecordGCPause(duration time.Duration) {
	gcPauseDuration.Observe(duration.Seconds())
}

// GetPrometheusMetrics 获取全局 Prometheus 指标实例
func GetPrometheusMetrics() *PrometheusMetrics {
	once.Do(func() {
		globalPrometheusMetrics = NewPrometheusMetrics()
	})
	return globalPrometheusMetrics
}
