package margin

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quantrisk/portfolio"
)

func TestLiquidationPrice(t *testing.T) {
	long, err := LiquidationPrice(5000, portfolio.Long, 0.15, 0.10)
	require.NoError(t, err)
	assert.InDelta(t, 4750, long, 1e-9)

	short, err := LiquidationPrice(5000, portfolio.Short, 0.15, 0.10)
	require.NoError(t, err)
	assert.InDelta(t, 5250, short, 1e-9)

	_, err = LiquidationPrice(5000, portfolio.Long, 0.10, 0.10)
	assert.True(t, errors.Is(err, ErrInvalidRates))
	_, err = LiquidationPrice(5000, portfolio.Long, 0.10, 0.15)
	assert.True(t, errors.Is(err, ErrInvalidRates))
}

func TestIsForcedLiquidation(t *testing.T) {
	assert.True(t, IsForcedLiquidation(4750, 4750, portfolio.Long))
	assert.False(t, IsForcedLiquidation(4751, 4750, portfolio.Long))
	assert.True(t, IsForcedLiquidation(5250, 5250, portfolio.Short))
	assert.False(t, IsForcedLiquidation(5249, 5250, portfolio.Short))

	assert.InDelta(t, 5, DistanceToLiquidation(5000, 4750, portfolio.Long), 1e-9)
	assert.Equal(t, 0.0, DistanceToLiquidation(4700, 4750, portfolio.Long))
}

func TestCalculateMargin(t *testing.T) {
	assert.InDelta(t, 2*5000*10*0.15, CalculateMargin(portfolio.AssetFutures, -2, 5000, 10, 0.15), 1e-9)
	assert.InDelta(t, 100*50, CalculateMargin(portfolio.AssetEquity, 100, 50, 1, 0.15), 1e-9)
}

func TestNewEngineRejectsBadRates(t *testing.T) {
	_, err := NewEngine(Config{MarginRate: 0.1, ForceCloseRate: 0.2, HedgeReduction: 0.3})
	assert.True(t, errors.Is(err, ErrInvalidRates))
	_, err = NewEngine(Config{MarginRate: 0.1, ForceCloseRate: 0.05, HedgeReduction: 1.5})
	assert.True(t, errors.Is(err, ErrInvalidRates))
}

func TestEngineEvaluate(t *testing.T) {
	engine, err := NewEngine(DefaultConfig())
	require.NoError(t, err)

	pos := portfolio.Position{Symbol: "IF2406", Quantity: 1, EntryPrice: 5000, Kind: portfolio.AssetFutures,
		Multiplier: 300, MarginRate: 0.15, Direction: portfolio.Long}

	snap, err := engine.Evaluate(pos, 4800)
	require.NoError(t, err)
	assert.True(t, snap.Leveraged)
	assert.InDelta(t, 4800*300*0.15, snap.RequiredMargin, 1e-6)
	assert.InDelta(t, 4750, snap.LiquidationPrice, 1e-9)
	assert.False(t, snap.ForcedLiquidation)

	snap, err = engine.Evaluate(pos, 4700)
	require.NoError(t, err)
	assert.True(t, snap.ForcedLiquidation)

	equity := portfolio.Position{Symbol: "AAPL", Quantity: 10, EntryPrice: 100, Kind: portfolio.AssetEquity}
	snap, err = engine.Evaluate(equity, 110)
	require.NoError(t, err)
	assert.False(t, snap.Leveraged)
	assert.InDelta(t, 1100, snap.RequiredMargin, 1e-9)

	bad := pos
	bad.MarginRate = 0.05
	_, err = engine.Evaluate(bad, 4800)
	assert.True(t, errors.Is(err, ErrInvalidRates))

	snaps, missing, err := engine.EvaluateAll([]portfolio.Position{pos, equity}, map[string]float64{"AAPL": 110})
	require.NoError(t, err)
	assert.Len(t, snaps, 1)
	assert.Equal(t, []string{"IF2406"}, missing)
	assert.InDelta(t, 1100, TotalMargin(snaps), 1e-9)
}

func TestEvaluateAllSkipsInvalidPosition(t *testing.T) {
	engine, err := NewEngine(DefaultConfig())
	require.NoError(t, err)

	good := portfolio.Position{Symbol: "IF", Quantity: 1, EntryPrice: 5000, Kind: portfolio.AssetFutures,
		Multiplier: 300, MarginRate: 0.15, Direction: portfolio.Long}
	bad := portfolio.Position{Symbol: "XX", Quantity: 1, EntryPrice: 100, Kind: portfolio.AssetFutures,
		Multiplier: 10, MarginRate: 0.05, Direction: portfolio.Long}

	snaps, skipped, err := engine.EvaluateAll([]portfolio.Position{good, bad},
		map[string]float64{"IF": 4760, "XX": 100})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidRates))
	assert.Contains(t, err.Error(), "XX")
	assert.Equal(t, []string{"XX"}, skipped)

	require.Len(t, snaps, 1)
	assert.Equal(t, "IF", snaps[0].Symbol)
	assert.InDelta(t, 4750, snaps[0].LiquidationPrice, 1e-9)
	assert.InDelta(t, 4760*300*0.15, TotalMargin(snaps), 1e-6)
}

func TestCombinationMarginCoveredCall(t *testing.T) {
	engine, err := NewEngine(DefaultConfig())
	require.NoError(t, err)

	combo := Combination{Name: "covered call", Legs: []Leg{
		{Symbol: "AAPL", Kind: portfolio.AssetEquity, Action: Buy, Quantity: 100, EntryPrice: 180, Multiplier: 1},
		{Symbol: "AAPL", Kind: portfolio.AssetOption, OptionType: Call, Action: Sell, Quantity: 1, EntryPrice: 5, Strike: 190, Multiplier: 100},
	}}
	res, err := engine.CombinationMargin(combo)
	require.NoError(t, err)
	require.Len(t, res.Hedges, 1)
	assert.Equal(t, CoveredCall, res.Hedges[0].Kind)
	assert.Less(t, res.TotalMargin, res.IndividualSum)

	// 18000 + 500*0.15=75，减免 0.3*75
	assert.InDelta(t, 18075, res.IndividualSum, 1e-9)
	assert.InDelta(t, 18075-22.5, res.TotalMargin, 1e-9)
	assert.True(t, res.Debit)

	// 不同标的不构成对冲
	combo.Legs[1].Symbol = "MSFT"
	res, err = engine.CombinationMargin(combo)
	require.NoError(t, err)
	assert.Empty(t, res.Hedges)
	assert.Equal(t, res.IndividualSum, res.TotalMargin)
}

func TestCombinationMarginSpreads(t *testing.T) {
	engine, err := NewEngine(DefaultConfig())
	require.NoError(t, err)

	vertical := Combination{Name: "bull call", Legs: []Leg{
		{Symbol: "SPY", Kind: portfolio.AssetOption, OptionType: Call, Action: Buy, Quantity: 1, EntryPrice: 6, Strike: 500, Multiplier: 100},
		{Symbol: "SPY", Kind: portfolio.AssetOption, OptionType: Call, Action: Sell, Quantity: 1, EntryPrice: 3, Strike: 510, Multiplier: 100},
	}}
	res, err := engine.CombinationMargin(vertical)
	require.NoError(t, err)
	require.Len(t, res.Hedges, 1)
	assert.Equal(t, VerticalSpread, res.Hedges[0].Kind)
	assert.InDelta(t, 300, res.NetCost, 1e-9)

	straddle := Combination{Name: "short straddle", Legs: []Leg{
		{Symbol: "SPY", Kind: portfolio.AssetOption, OptionType: Call, Action: Sell, Quantity: 1, EntryPrice: 8, Strike: 500, Multiplier: 100},
		{Symbol: "SPY", Kind: portfolio.AssetOption, OptionType: Put, Action: Sell, Quantity: 1, EntryPrice: 7, Strike: 500, Multiplier: 100},
	}}
	res, err = engine.CombinationMargin(straddle)
	require.NoError(t, err)
	require.Len(t, res.Hedges, 1)
	assert.Equal(t, Straddle, res.Hedges[0].Kind)
	assert.False(t, res.Debit)
	assert.InDelta(t, -1500, res.NetCost, 1e-9)
	assert.GreaterOrEqual(t, res.TotalMargin, 0.0)

	_, err = engine.CombinationMargin(Combination{Name: "single", Legs: straddle.Legs[:1]})
	assert.True(t, errors.Is(err, ErrInvalidCombination))
}
