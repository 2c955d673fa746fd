package risk

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quantrisk/portfolio"
)

func TestInputStoreCopiesState(t *testing.T) {
	closes := []float64{100, 101}
	store := NewInputStore(Inputs{
		Cash:   1000,
		Prices: map[string]float64{"AAPL": 101},
		Closes: map[string][]float64{"AAPL": closes},
	})

	closes[0] = -1
	in := store.Current()
	assert.Equal(t, 100.0, in.Closes["AAPL"][0])

	in.Prices["AAPL"] = 5
	assert.Equal(t, 101.0, store.Current().Prices["AAPL"])

	require.NoError(t, store.UpdatePrice("AAPL", 102, true))
	assert.Equal(t, []float64{100, 101, 102}, store.Current().Closes["AAPL"])
	assert.Error(t, store.UpdatePrice("AAPL", 0, false))
}

func TestInputStoreRejectsBadInputs(t *testing.T) {
	store := NewInputStore(Inputs{})
	assert.Error(t, store.Replace(Inputs{Positions: []portfolio.Position{{Quantity: 1}}}))
	assert.Error(t, store.Replace(Inputs{Positions: []portfolio.Position{{Symbol: "X", Quantity: -1}}}))
	assert.Error(t, store.Replace(Inputs{Prices: map[string]float64{"X": -3}}))
}

func TestInputStoreProviderAndLedgerSync(t *testing.T) {
	ledger, err := portfolio.NewLedger(portfolio.Config{InitialCapital: 10000})
	require.NoError(t, err)
	_, err = ledger.Buy("AAPL", 100, 10, time.Now())
	require.NoError(t, err)

	store := NewInputStore(Inputs{})
	fixed := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return fixed }
	store.SyncLedger(ledger)

	in, err := store.Provider()(context.Background())
	require.NoError(t, err)
	assert.Equal(t, fixed, in.Timestamp)
	assert.InDelta(t, 9000, in.Cash, 1e-9)
	require.Len(t, in.Positions, 1)
	assert.Equal(t, "AAPL", in.Positions[0].Symbol)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = store.Provider()(ctx)
	assert.Error(t, err)
}

func TestServiceReconfigure(t *testing.T) {
	engine, err := NewEngine(DefaultConfig())
	require.NoError(t, err)
	store := NewInputStore(Inputs{Cash: 1000})
	svc := NewService(engine, store.Provider(), nil)

	_, err = svc.Snapshot(context.Background())
	require.NoError(t, err)
	require.NotNil(t, svc.Cached())

	cfg := DefaultConfig()
	cfg.VaRHorizon = 10
	require.NoError(t, svc.Reconfigure(cfg))
	assert.Equal(t, 10, svc.Engine().Config().VaRHorizon)

	bad := DefaultConfig()
	bad.VaRHorizon = 0
	assert.Error(t, svc.Reconfigure(bad))
	assert.Equal(t, 10, svc.Engine().Config().VaRHorizon)
}
