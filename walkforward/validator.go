package walkforward

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"quantrisk/backtest"
	"quantrisk/indicators"
	"quantrisk/logger"
	"quantrisk/market"
	"quantrisk/metrics"
)

// Config 前推验证配置，窗口长度以观测数计
type Config struct {
	TrainSize int     `yaml:"train_size" json:"train_size"`
	TestSize  int     `yaml:"test_size" json:"test_size"`
	Threshold float64 `yaml:"threshold" json:"threshold"`
}

// DefaultConfig 默认配置
func DefaultConfig() Config {
	return Config{TrainSize: 730, TestSize: 365, Threshold: DefaultThreshold}
}

// PeriodMetrics 单个窗口的绩效
type PeriodMetrics struct {
	SharpeRatio float64 `json:"sharpe_ratio"`
	TotalReturn float64 `json:"total_return"`
	MaxDrawdown float64 `json:"max_drawdown"`
	Trades      int     `json:"trades"`
}

// SplitResult 单个窗口的训练/测试结果
type SplitResult struct {
	Split Split         `json:"split"`
	Train PeriodMetrics `json:"train"`
	Test  PeriodMetrics `json:"test"`
}

// Report 前推验证报告
type Report struct {
	ID             string        `json:"id"`
	Symbol         string        `json:"symbol"`
	Strategy       string        `json:"strategy"`
	CreatedAt      time.Time     `json:"created_at"`
	Config         Config        `json:"config"`
	Splits         []SplitResult `json:"splits"`
	AvgTrainSharpe float64       `json:"avg_train_sharpe"`
	AvgTestSharpe  float64       `json:"avg_test_sharpe"`
	AvgTrainReturn float64       `json:"avg_train_return"`
	AvgTestReturn  float64       `json:"avg_test_return"`
	Assessment     Assessment    `json:"assessment"`
}

// Validator 前推验证器
type Validator struct {
	cfg      Config
	btConfig backtest.Config
	factory  backtest.Factory
}

// NewValidator 创建验证器，每个窗口都用 factory 新建策略实例
func NewValidator(cfg Config, btConfig backtest.Config, factory backtest.Factory) (*Validator, error) {
	if cfg.TrainSize <= 0 || cfg.TestSize <= 0 {
		return nil, fmt.Errorf("%w: train_size=%d test_size=%d", ErrInsufficientData, cfg.TrainSize, cfg.TestSize)
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultThreshold
	}
	if factory == nil {
		return nil, fmt.Errorf("strategy factory is nil")
	}
	return &Validator{cfg: cfg, btConfig: btConfig, factory: factory}, nil
}

// Run 对单个标的执行前推验证
func (v *Validator) Run(symbol string, bars market.BarSeries) (*Report, error) {
	if err := market.ValidateSeries(bars); err != nil {
		return nil, fmt.Errorf("%s: %w", symbol, err)
	}
	splits, err := GenerateSplits(bars.Len(), v.cfg.TrainSize, v.cfg.TestSize)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", symbol, err)
	}

	report := &Report{
		ID:        uuid.NewString(),
		Symbol:    symbol,
		Strategy:  v.factory().Name(),
		CreatedAt: time.Now(),
		Config:    v.cfg,
		Splits:    make([]SplitResult, 0, len(splits)),
	}
	logger.Info("🔁 前推验证开始: %s %s, %d 个窗口 (训练 %d / 测试 %d)",
		symbol, report.Strategy, len(splits), v.cfg.TrainSize, v.cfg.TestSize)

	var trainSharpe, testSharpe, trainReturn, testReturn []float64
	for _, sp := range splits {
		train, err := v.runPeriod(symbol, market.Slice(bars, sp.TrainStart, sp.TrainEnd))
		if err != nil {
			return nil, fmt.Errorf("split %d train: %w", sp.Index, err)
		}
		test, err := v.runPeriod(symbol, market.Slice(bars, sp.TestStart, sp.TestEnd))
		if err != nil {
			return nil, fmt.Errorf("split %d test: %w", sp.Index, err)
		}
		report.Splits = append(report.Splits, SplitResult{Split: sp, Train: train, Test: test})
		trainSharpe = append(trainSharpe, train.SharpeRatio)
		testSharpe = append(testSharpe, test.SharpeRatio)
		trainReturn = append(trainReturn, train.TotalReturn)
		testReturn = append(testReturn, test.TotalReturn)

		logger.Debug("   窗口 %d: 训练夏普=%.3f 测试夏普=%.3f", sp.Index, train.SharpeRatio, test.SharpeRatio)
	}

	report.AvgTrainSharpe = indicators.Mean(trainSharpe)
	report.AvgTestSharpe = indicators.Mean(testSharpe)
	report.AvgTrainReturn = indicators.Mean(trainReturn)
	report.AvgTestReturn = indicators.Mean(testReturn)
	report.Assessment = Assess(report.AvgTrainSharpe, report.AvgTestSharpe, v.cfg.Threshold)
	metrics.GetPrometheusMetrics().SetOverfitScore(symbol, report.Strategy, report.Assessment.Score)

	if report.Assessment.Overfitted {
		logger.Warn("⚠️ 前推验证: %s %s 疑似过拟合 (分数 %.3f, %s)",
			symbol, report.Strategy, report.Assessment.Score, report.Assessment.Severity)
	} else {
		logger.Info("✅ 前推验证完成: %s %s 分数 %.3f (%s)",
			symbol, report.Strategy, report.Assessment.Score, report.Assessment.Severity)
	}
	return report, nil
}

// runPeriod 用全新的策略与账本回放一个窗口
func (v *Validator) runPeriod(symbol string, bars market.BarSeries) (PeriodMetrics, error) {
	bt, err := backtest.NewBacktester(symbol, bars, v.factory(), v.btConfig)
	if err != nil {
		return PeriodMetrics{}, err
	}
	res, err := bt.Run()
	if err != nil {
		return PeriodMetrics{}, err
	}
	return PeriodMetrics{
		SharpeRatio: res.Metrics.SharpeRatio,
		TotalReturn: res.Metrics.TotalReturn,
		MaxDrawdown: res.Metrics.MaxDrawdown,
		Trades:      len(res.Trades),
	}, nil
}
