package risk

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"math/rand"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quantrisk/cache"
	"quantrisk/margin"
	"quantrisk/portfolio"
)

func TestHistoricalVaR(t *testing.T) {
	returns := []float64{0.07, -0.10, 0.01, 0.03, -0.05, 0.02, 0, 0.05, 0.04, 0.06}

	res := HistoricalVaR(returns, 0.95, 1)
	// 排序后 rank = 0.45，-0.10 与 -0.05 之间插值
	assert.InDelta(t, -0.0775, res.VaR, 1e-12)
	assert.InDelta(t, -0.10, res.CVaR, 1e-12)
	assert.Equal(t, 1, res.TailCount)
	assert.LessOrEqual(t, res.CVaR, res.VaR)
	assert.Empty(t, res.Warning)

	scaled := HistoricalVaR(returns, 0.95, 4)
	assert.InDelta(t, res.VaR*2, scaled.VaR, 1e-12)
	assert.InDelta(t, res.CVaR*2, scaled.CVaR, 1e-12)

	empty := HistoricalVaR(nil, 0.95, 1)
	assert.Equal(t, 0.0, empty.VaR)
	assert.NotEmpty(t, empty.Warning)

	bad := HistoricalVaR(returns, 1.5, 1)
	assert.NotEmpty(t, bad.Warning)
}

func TestCVaRNeverExceedsVaR(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for trial := 0; trial < 50; trial++ {
		returns := make([]float64, 30+rng.Intn(200))
		for i := range returns {
			returns[i] = rng.NormFloat64() * 0.02
		}
		for _, conf := range []float64{0.9, 0.95, 0.99} {
			res := HistoricalVaR(returns, conf, 1+rng.Intn(10))
			require.LessOrEqual(t, res.CVaR, res.VaR+1e-15, "trial %d conf %.2f", trial, conf)
		}
	}
}

func TestPortfolioReturns(t *testing.T) {
	closes := map[string][]float64{
		"A": {100, 110, 99},
		"B": {50, 50, 55, 55},
	}
	out := PortfolioReturns(closes, map[string]float64{"A": 3000, "B": 1000})
	require.Len(t, out, 2)
	// 尾部对齐: A [0.10, -0.10], B [0.10, 0]
	assert.InDelta(t, 0.75*0.10+0.25*0.10, out[0], 1e-12)
	assert.InDelta(t, 0.75*-0.10, out[1], 1e-12)

	assert.Nil(t, PortfolioReturns(closes, map[string]float64{"C": 100}))
}

func TestCorrelationMatrix(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	n := 80
	a, b, c := make([]float64, n), make([]float64, n), make([]float64, n)
	a[0], b[0], c[0] = 100, 200, 50
	for i := 1; i < n; i++ {
		shock := rng.NormFloat64() * 0.01
		a[i] = a[i-1] * (1 + shock)
		b[i] = b[i-1] * (1 + shock + rng.NormFloat64()*0.001)
		c[i] = c[i-1] * (1 + rng.NormFloat64()*0.01)
	}

	calc := NewCorrelationCalculator(60, 0.7, time.Minute)
	res := calc.Matrix(map[string][]float64{"A": a, "B": b, "C": c})
	require.Equal(t, []string{"A", "B", "C"}, res.Symbols)
	assert.Equal(t, 60, res.Observations)

	for i := range res.Matrix {
		assert.Equal(t, 1.0, res.Matrix[i][i])
		for j := range res.Matrix {
			assert.GreaterOrEqual(t, res.Matrix[i][j], -1.0)
			assert.LessOrEqual(t, res.Matrix[i][j], 1.0)
			assert.Equal(t, res.Matrix[i][j], res.Matrix[j][i])
		}
	}

	ab, ok := res.Get("A", "B")
	require.True(t, ok)
	assert.Greater(t, ab, 0.9)
	require.NotEmpty(t, res.HighPairs)
	assert.Equal(t, "A", res.HighPairs[0].SymbolA)
	assert.Equal(t, "B", res.HighPairs[0].SymbolB)
	for i := 1; i < len(res.HighPairs); i++ {
		assert.GreaterOrEqual(t, math.Abs(res.HighPairs[i-1].Correlation), math.Abs(res.HighPairs[i].Correlation))
	}
	t.Logf("A/B 相关系数: %.4f, 高相关对: %d", ab, len(res.HighPairs))
}

func TestCorrelationCacheAndZeroVariance(t *testing.T) {
	calc := NewCorrelationCalculator(60, 0.7, time.Minute)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	calc.now = func() time.Time { return now }

	closes := map[string][]float64{
		"FLAT": {10, 10, 10, 10, 10},
		"UP":   {10, 11, 12, 13, 15},
	}
	res := calc.Matrix(closes)
	assert.Equal(t, 0.0, res.Matrix[0][0])
	assert.Equal(t, 0.0, res.Matrix[0][1])
	assert.NotEmpty(t, res.Warning)
	assert.Len(t, calc.entries, 1)

	calc.Matrix(closes)
	assert.Len(t, calc.entries, 1)

	now = now.Add(2 * time.Minute)
	closes["UP"] = append(closes["UP"], 16)
	calc.Matrix(closes)
	// 过期条目被清理
	assert.Len(t, calc.entries, 1)
}

func TestCorrelationCacheKeyTracksHistory(t *testing.T) {
	calc := NewCorrelationCalculator(60, 0.7, time.Minute)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	calc.now = func() time.Time { return now }

	first := calc.Matrix(map[string][]float64{
		"A": {10, 11, 12, 13, 14, 15},
		"B": {20, 22, 24, 26, 28, 30},
	})
	rho, ok := first.Get("A", "B")
	require.True(t, ok)
	assert.Greater(t, rho, 0.9)

	// 长度与最新收盘价相同，历史不同
	second := calc.Matrix(map[string][]float64{
		"A": {10, 11, 12, 13, 14, 15},
		"B": {36, 34, 32, 31, 30.5, 30},
	})
	rho, ok = second.Get("A", "B")
	require.True(t, ok)
	assert.Less(t, rho, 0.0, "历史变化后不应命中旧缓存")
	assert.Len(t, calc.entries, 2)
}

func TestPearson(t *testing.T) {
	assert.InDelta(t, 1, Pearson([]float64{1, 2, 3}, []float64{2, 4, 6}), 1e-12)
	assert.InDelta(t, -1, Pearson([]float64{1, 2, 3}, []float64{3, 2, 1}), 1e-12)
	assert.Equal(t, 0.0, Pearson([]float64{1, 1, 1}, []float64{1, 2, 3}))
	assert.Equal(t, 0.0, Pearson([]float64{1}, []float64{1}))
}

func TestConcentration(t *testing.T) {
	c := CalculateConcentration(map[string]float64{"A": 5000, "B": -3000, "C": 1000, "D": 1000})
	assert.Equal(t, "A", c.LargestSymbol)
	assert.InDelta(t, 50, c.LargestPct, 1e-9)
	assert.InDelta(t, 90, c.Top3Pct, 1e-9)
	assert.InDelta(t, 0.25+0.09+0.01+0.01, c.HHI, 1e-12)
	assert.Equal(t, 4, c.Positions)

	assert.Equal(t, Concentration{}, CalculateConcentration(nil))
}

func TestMarginUsage(t *testing.T) {
	assert.Equal(t, 0.5, MarginUsage(500, 1000))
	assert.Equal(t, 1.0, MarginUsage(5000, 1000))
	assert.Equal(t, 1.0, MarginUsage(10, -5))
	assert.Equal(t, 0.0, MarginUsage(0, 0))
}

func TestLiquidationWarnings(t *testing.T) {
	states := []margin.Snapshot{
		{Symbol: "FAR", Leveraged: true, LiquidationPrice: 90, DistanceToLiquidation: 10},
		{Symbol: "WARN", Leveraged: true, LiquidationPrice: 95, DistanceToLiquidation: 4.5},
		{Symbol: "CRIT", Leveraged: true, LiquidationPrice: 98, DistanceToLiquidation: 2},
		{Symbol: "EDGE", Leveraged: true, LiquidationPrice: 97, DistanceToLiquidation: 3},
		{Symbol: "CASH", Leveraged: false, DistanceToLiquidation: 0},
	}
	out := LiquidationWarnings(states, DefaultLiquidationThresholds())
	require.Len(t, out, 3)
	assert.Equal(t, "CRIT", out[0].Symbol)
	assert.Equal(t, LevelCritical, out[0].Level)
	assert.Equal(t, "EDGE", out[1].Symbol)
	assert.Equal(t, LevelCritical, out[1].Level)
	assert.Equal(t, "WARN", out[2].Symbol)
	assert.Equal(t, LevelWarning, out[2].Level)
}

func TestConfigValidate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())

	cfg := DefaultConfig()
	cfg.Liquidation = LiquidationThresholds{CriticalPct: 5, WarningPct: 3}
	assert.True(t, errors.Is(cfg.Validate(), ErrInvalidConfig))

	cfg = DefaultConfig()
	cfg.Margin.ForceCloseRate = 0.2
	_, err := NewEngine(cfg)
	assert.True(t, errors.Is(err, ErrInvalidConfig))
}

func sampleInputs() Inputs {
	closes := map[string][]float64{}
	rng := rand.New(rand.NewSource(3))
	for _, sym := range []string{"IF", "CU", "AAPL"} {
		series := make([]float64, 90)
		series[0] = 100
		for i := 1; i < len(series); i++ {
			series[i] = series[i-1] * (1 + rng.NormFloat64()*0.015)
		}
		closes[sym] = series
	}
	return Inputs{
		Timestamp: time.Date(2024, 6, 3, 9, 30, 0, 0, time.UTC),
		Cash:      1_000_000,
		Positions: []portfolio.Position{
			{Symbol: "IF", Quantity: 1, EntryPrice: 5000, Kind: portfolio.AssetFutures, Multiplier: 300, MarginRate: 0.15, Direction: portfolio.Long},
			{Symbol: "CU", Quantity: 5, EntryPrice: 100, Kind: portfolio.AssetFutures, Multiplier: 5, MarginRate: 0.15, Direction: portfolio.Short},
			{Symbol: "AAPL", Quantity: 100, EntryPrice: 180, Kind: portfolio.AssetEquity, Direction: portfolio.Long},
		},
		Prices: map[string]float64{"IF": 4850, "CU": 100.5, "AAPL": 190},
		Closes: closes,
	}
}

func TestEngineCompute(t *testing.T) {
	engine, err := NewEngine(DefaultConfig())
	require.NoError(t, err)

	in := sampleInputs()
	snap := engine.Compute(in)
	require.NotNil(t, snap)
	assert.NotEmpty(t, snap.ID)
	assert.Equal(t, in.Timestamp, snap.Timestamp)

	positionsValue := 4850.0*300 - 100.5*5*5 + 190*100
	assert.InDelta(t, positionsValue, snap.PositionsValue, 1e-6)
	assert.InDelta(t, in.Cash+positionsValue, snap.Equity, 1e-6)

	expectedMargin := 4850*300*0.15 + 100.5*5*5*0.15 + 190*100
	assert.InDelta(t, expectedMargin, snap.TotalMargin, 1e-6)
	assert.GreaterOrEqual(t, snap.MarginUsage, 0.0)
	assert.LessOrEqual(t, snap.MarginUsage, 1.0)

	require.Len(t, snap.LiquidationWarnings, 2)
	assert.Equal(t, "IF", snap.LiquidationWarnings[0].Symbol)
	assert.Equal(t, LevelCritical, snap.LiquidationWarnings[0].Level)
	assert.Equal(t, "CU", snap.LiquidationWarnings[1].Symbol)
	assert.Equal(t, LevelWarning, snap.LiquidationWarnings[1].Level)

	assert.Less(t, snap.VaR95.VaR, 0.0)
	assert.LessOrEqual(t, snap.VaR95.CVaR, snap.VaR95.VaR)
	assert.LessOrEqual(t, snap.VaR99.VaR, snap.VaR95.VaR)
	assert.Len(t, snap.Correlation.Symbols, 3)
	assert.Equal(t, "IF", snap.Concentration.LargestSymbol)

	// IF 多头 300 + CU 空头 -25 + AAPL 100
	assert.InDelta(t, 375, snap.Greeks.Total.Delta, 1e-9)
}

func TestEngineComputeDegradesOnMissingData(t *testing.T) {
	engine, err := NewEngine(DefaultConfig())
	require.NoError(t, err)

	in := Inputs{
		Cash:      1000,
		Positions: []portfolio.Position{{Symbol: "X", Quantity: 1, EntryPrice: 10, Kind: portfolio.AssetEquity}},
	}
	snap := engine.Compute(in)
	assert.Equal(t, 1000.0, snap.Equity)
	assert.Equal(t, 0.0, snap.VaR95.VaR)
	assert.NotEmpty(t, snap.Warnings)
	assert.Empty(t, snap.LiquidationWarnings)
}

func TestEngineComputeKeepsValidMarginsInMixedBook(t *testing.T) {
	engine, err := NewEngine(DefaultConfig())
	require.NoError(t, err)

	in := Inputs{
		Cash: 500_000,
		Positions: []portfolio.Position{
			{Symbol: "IF", Quantity: 1, EntryPrice: 5000, Kind: portfolio.AssetFutures, Multiplier: 300, MarginRate: 0.15, Direction: portfolio.Long},
			{Symbol: "XX", Quantity: 1, EntryPrice: 100, Kind: portfolio.AssetFutures, Multiplier: 10, MarginRate: 0.05, Direction: portfolio.Long},
		},
		Prices: map[string]float64{"IF": 4760, "XX": 100},
	}
	snap := engine.Compute(in)

	require.Len(t, snap.Margins, 1)
	assert.InDelta(t, 4760*300*0.15, snap.TotalMargin, 1e-6)
	assert.Greater(t, snap.MarginUsage, 0.0)
	require.Len(t, snap.LiquidationWarnings, 1)
	assert.Equal(t, "IF", snap.LiquidationWarnings[0].Symbol)
	assert.Equal(t, LevelCritical, snap.LiquidationWarnings[0].Level)

	found := false
	for _, w := range snap.Warnings {
		if strings.Contains(w, "XX") {
			found = true
		}
	}
	assert.True(t, found, "无效持仓应写入告警: %v", snap.Warnings)
	t.Logf("混合组合: 保证金=%.2f 占用率=%.4f 告警=%v", snap.TotalMargin, snap.MarginUsage, snap.Warnings)
}

func newTestService(t *testing.T, delay time.Duration) (*Service, *int64) {
	t.Helper()
	engine, err := NewEngine(DefaultConfig())
	require.NoError(t, err)

	var calls int64
	provider := func(ctx context.Context) (Inputs, error) {
		atomic.AddInt64(&calls, 1)
		time.Sleep(delay)
		return sampleInputs(), nil
	}
	return NewService(engine, provider, nil), &calls
}

func TestServiceCachesWithinTTL(t *testing.T) {
	svc, calls := newTestService(t, 0)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }
	ctx := context.Background()

	first, err := svc.Snapshot(ctx)
	require.NoError(t, err)
	second, err := svc.Snapshot(ctx)
	require.NoError(t, err)
	assert.Same(t, first, second)
	assert.Equal(t, int64(1), atomic.LoadInt64(calls))

	now = now.Add(6 * time.Second)
	third, err := svc.Snapshot(ctx)
	require.NoError(t, err)
	assert.NotSame(t, first, third)
	assert.Equal(t, int64(2), atomic.LoadInt64(calls))
}

func TestServiceCoalescesConcurrentMisses(t *testing.T) {
	svc, calls := newTestService(t, 50*time.Millisecond)
	ctx := context.Background()

	var wg sync.WaitGroup
	results := make([]*Snapshot, 16)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			snap, err := svc.Snapshot(ctx)
			assert.NoError(t, err)
			results[i] = snap
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int64(1), atomic.LoadInt64(calls))
	for _, r := range results {
		assert.Same(t, results[0], r)
	}
}

func TestServiceRefreshRateLimited(t *testing.T) {
	svc, _ := newTestService(t, 0)
	ctx := context.Background()

	var notified int64
	svc.OnRefresh(func(*Snapshot) { atomic.AddInt64(&notified, 1) })

	snap, err := svc.Refresh(ctx)
	require.NoError(t, err)
	require.NotNil(t, snap)

	again, err := svc.Refresh(ctx)
	assert.True(t, errors.Is(err, ErrRefreshThrottled))
	assert.Same(t, snap, again)
	assert.Equal(t, int64(1), atomic.LoadInt64(&notified))
}

func TestServiceProviderError(t *testing.T) {
	engine, err := NewEngine(DefaultConfig())
	require.NoError(t, err)
	svc := NewService(engine, func(context.Context) (Inputs, error) {
		return Inputs{}, errors.New("feed down")
	}, nil)

	_, err = svc.Snapshot(context.Background())
	assert.Error(t, err)
	assert.Nil(t, svc.Cached())
}

// memMirror 内存镜像，按 JSON 存取
type memMirror struct {
	mu   sync.Mutex
	data map[string][]byte
}

func (m *memMirror) Publish(ctx context.Context, key string, value any, ttl time.Duration) error {
	b, err := json.Marshal(value)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.data == nil {
		m.data = make(map[string][]byte)
	}
	m.data[key] = b
	return nil
}

func (m *memMirror) Fetch(ctx context.Context, key string, dst any) error {
	m.mu.Lock()
	b, ok := m.data[key]
	m.mu.Unlock()
	if !ok {
		return cache.ErrNotFound
	}
	return json.Unmarshal(b, dst)
}

func (m *memMirror) Close() error { return nil }

func TestServiceMirroredSnapshot(t *testing.T) {
	engine, err := NewEngine(DefaultConfig())
	require.NoError(t, err)
	mirror := &memMirror{}

	failing := NewService(engine, func(context.Context) (Inputs, error) {
		return Inputs{}, errors.New("feed down")
	}, mirror)
	_, err = failing.Mirrored(context.Background())
	assert.True(t, errors.Is(err, cache.ErrNotFound))

	publisher := NewService(engine, func(context.Context) (Inputs, error) {
		return sampleInputs(), nil
	}, mirror)
	published, err := publisher.Snapshot(context.Background())
	require.NoError(t, err)

	_, err = failing.Snapshot(context.Background())
	require.Error(t, err)
	mirrored, err := failing.Mirrored(context.Background())
	require.NoError(t, err)
	assert.Equal(t, published.ID, mirrored.ID)
	assert.InDelta(t, published.Equity, mirrored.Equity, 1e-6)
}

func TestServiceStartLoop(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RefreshInterval = 10 * time.Millisecond
	engine, err := NewEngine(cfg)
	require.NoError(t, err)

	var calls int64
	svc := NewService(engine, func(context.Context) (Inputs, error) {
		atomic.AddInt64(&calls, 1)
		return sampleInputs(), nil
	}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	svc.Start(ctx)

	require.Eventually(t, func() bool { return atomic.LoadInt64(&calls) >= 3 }, 2*time.Second, 5*time.Millisecond)
	assert.NotNil(t, svc.Cached())
}
