package walkforward

import (
	"errors"
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quantrisk/backtest"
	"quantrisk/market"
)

func TestGenerateSplits(t *testing.T) {
	splits, err := GenerateSplits(100, 50, 10)
	require.NoError(t, err)
	require.Len(t, splits, 5)

	for i, sp := range splits {
		assert.Equal(t, i, sp.Index)
		assert.Equal(t, sp.TrainEnd, sp.TestStart)
		assert.Equal(t, 50, sp.TrainEnd-sp.TrainStart)
		assert.Equal(t, 10, sp.TestEnd-sp.TestStart)
		assert.LessOrEqual(t, sp.TestEnd, 100)
		if i > 0 {
			// 测试窗口互不重叠且按时间排列
			assert.Equal(t, splits[i-1].TestEnd, sp.TestStart)
		}
	}
	assert.Equal(t, 100, splits[4].TestEnd)

	_, err = GenerateSplits(59, 50, 10)
	assert.True(t, errors.Is(err, ErrInsufficientData))
	_, err = GenerateSplits(100, 0, 10)
	assert.True(t, errors.Is(err, ErrInsufficientData))

	one, err := GenerateSplits(60, 50, 10)
	require.NoError(t, err)
	assert.Len(t, one, 1)
}

func TestDefaultWindows(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 730, cfg.TrainSize)
	assert.Equal(t, 365, cfg.TestSize)
	assert.Equal(t, 0.5, cfg.Threshold)

	splits, err := GenerateSplits(730+365*2, cfg.TrainSize, cfg.TestSize)
	require.NoError(t, err)
	require.Len(t, splits, 2)
	assert.Equal(t, 365, splits[1].TrainStart)
	assert.Equal(t, 1460, splits[1].TestEnd)

	_, err = GenerateSplits(1094, cfg.TrainSize, cfg.TestSize)
	assert.True(t, errors.Is(err, ErrInsufficientData))
}

func TestIsOverfitted(t *testing.T) {
	assert.True(t, IsOverfitted(2.5, 0.8, 0.5))
	assert.False(t, IsOverfitted(2.5, 2.3, 0.5))
	assert.False(t, IsOverfitted(1.0, 0.5, 0.5))
}

func TestAssess(t *testing.T) {
	tests := []struct {
		train, test float64
		severity    Severity
		overfitted  bool
	}{
		{2.5, 2.3, SeverityLow, false},
		{2.5, 2.1, SeverityMedium, false},
		{2.5, 0.8, SeverityHigh, true},
		{0.5, 1.5, SeverityLow, false},
	}
	for _, tt := range tests {
		a := Assess(tt.train, tt.test, 0.5)
		assert.Equal(t, tt.severity, a.Severity, "train=%.2f test=%.2f", tt.train, tt.test)
		assert.Equal(t, tt.overfitted, a.Overfitted)
		assert.NotEmpty(t, a.Recommendation)
		assert.InDelta(t, tt.train-tt.test, a.Score, 1e-12)
	}
}

func mockBars(count int, seed int64) market.Bars {
	rng := rand.New(rand.NewSource(seed))
	start := time.Date(2022, 1, 3, 0, 0, 0, 0, time.UTC)
	bars := make(market.Bars, count)
	price := 100.0
	for i := range bars {
		open := price
		price = math.Max(price*(1+rng.NormFloat64()*0.015), 1)
		bars[i] = market.Bar{
			Timestamp: start.AddDate(0, 0, i),
			Open:      open,
			High:      math.Max(open, price) * 1.003,
			Low:       math.Min(open, price) * 0.997,
			Close:     price,
			Volume:    1000,
		}
	}
	return bars
}

// countingFactory 记录策略实例创建次数
func countingFactory(t *testing.T, n *int) backtest.Factory {
	base, err := backtest.NewStrategyFactory("ma_crossover", map[string]interface{}{"fast": 5, "slow": 15})
	require.NoError(t, err)
	return func() backtest.Strategy {
		*n++
		return base()
	}
}

func TestValidatorRun(t *testing.T) {
	created := 0
	v, err := NewValidator(Config{TrainSize: 120, TestSize: 40, Threshold: 0.5}, backtest.DefaultConfig(), countingFactory(t, &created))
	require.NoError(t, err)

	report, err := v.Run("AAA", mockBars(300, 9))
	require.NoError(t, err)
	require.Len(t, report.Splits, 4)
	assert.NotEmpty(t, report.ID)
	assert.Equal(t, "ma_crossover", report.Strategy)
	// 每个窗口训练和测试各一个新实例，外加读取名称的一次
	assert.Equal(t, 1+2*len(report.Splits), created)

	sum := 0.0
	for _, s := range report.Splits {
		sum += s.Test.SharpeRatio
	}
	assert.InDelta(t, sum/float64(len(report.Splits)), report.AvgTestSharpe, 1e-12)
	assert.InDelta(t, report.AvgTrainSharpe-report.AvgTestSharpe, report.Assessment.Score, 1e-12)
	t.Logf("平均训练夏普=%.3f 平均测试夏普=%.3f 严重程度=%s",
		report.AvgTrainSharpe, report.AvgTestSharpe, report.Assessment.Severity)
}

func TestValidatorInsufficientData(t *testing.T) {
	created := 0
	v, err := NewValidator(DefaultConfig(), backtest.DefaultConfig(), countingFactory(t, &created))
	require.NoError(t, err)

	_, err = v.Run("AAA", mockBars(100, 1))
	assert.True(t, errors.Is(err, ErrInsufficientData))
}
