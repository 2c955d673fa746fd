package web

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quantrisk/cache"
	"quantrisk/config"
	"quantrisk/database"
	"quantrisk/event"
	"quantrisk/market"
	"quantrisk/parallel"
	"quantrisk/portfolio"
	"quantrisk/risk"
	"quantrisk/storage"
)

type testServer struct {
	router *gin.Engine
	svc    *risk.Service
	store  *risk.InputStore
	hub    *WebSocketHub
	db     database.Database
	events *capturedEvents
}

// capturedEvents 记录 API 发布的事件
type capturedEvents struct {
	mu     sync.Mutex
	events []*event.Event
}

func (c *capturedEvents) Publish(e *event.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
}

func (c *capturedEvents) types() []event.EventType {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]event.EventType, 0, len(c.events))
	for _, e := range c.events {
		out = append(out, e.Type)
	}
	return out
}

func sampleBars(n int, base float64) []market.Bar {
	start := time.Date(2023, 1, 2, 0, 0, 0, 0, time.UTC)
	bars := make([]market.Bar, n)
	for i := range bars {
		price := base + 10*math.Sin(float64(i)/6) + float64(i)*0.05
		bars[i] = market.Bar{
			Timestamp: start.AddDate(0, 0, i),
			Open:      price,
			High:      price * 1.01,
			Low:       price * 0.99,
			Close:     price,
			Volume:    1000,
		}
	}
	return bars
}

func sampleCloses(n int, base float64) []float64 {
	out := make([]float64, n)
	for i, b := range sampleBars(n, base) {
		out[i] = b.Close
	}
	return out
}

func newTestServer(t *testing.T, withDB bool) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := config.Default()
	engine, err := risk.NewEngine(cfg.RiskConfig())
	require.NoError(t, err)

	store := risk.NewInputStore(risk.Inputs{
		Cash: 500000,
		Positions: []portfolio.Position{
			{Symbol: "IF", Quantity: 1, EntryPrice: 4000, Kind: portfolio.AssetFutures, Multiplier: 300, Direction: portfolio.Long},
			{Symbol: "AAPL", Quantity: 100, EntryPrice: 180, Kind: portfolio.AssetEquity, Direction: portfolio.Long},
		},
		Prices: map[string]float64{"IF": 4010, "AAPL": 190},
		Closes: map[string][]float64{"IF": sampleCloses(80, 4000), "AAPL": sampleCloses(80, 180)},
	})
	svc := risk.NewService(engine, store.Provider(), nil)

	var rec *database.Recorder
	var gdb database.Database
	if withDB {
		db, err := database.NewGormDatabase(&database.DBConfig{
			Type: "sqlite",
			DSN:  filepath.Join(t.TempDir(), "web_test.db"),
		})
		require.NoError(t, err)
		t.Cleanup(func() { _ = db.Close() })
		rec = database.NewRecorder(db)
		gdb = db
	}

	hub := NewWebSocketHub()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)
	svc.OnRefresh(hub.BroadcastSnapshot)

	captured := &capturedEvents{}
	api := NewAPI(Deps{
		Settings: func() *config.Config { return cfg },
		Risk:     svc,
		Inputs:   store,
		Scaler:   parallel.NewScaler(cfg.Parallel.MemoryWarningPct),
		Recorder: rec,
		Events:   captured,
	}, hub)
	return &testServer{router: NewRouter(api, false), svc: svc, store: store, hub: hub, db: gdb, events: captured}
}

func (ts *testServer) do(t *testing.T, method, path string, body interface{}) (*httptest.ResponseRecorder, map[string]json.RawMessage) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)

	out := map[string]json.RawMessage{}
	_ = json.Unmarshal(w.Body.Bytes(), &out)
	return w, out
}

func TestHealthAndNotFound(t *testing.T) {
	ts := newTestServer(t, false)

	w, body := ts.do(t, http.MethodGet, "/api/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `"ok"`, string(body["status"]))

	w, _ = ts.do(t, http.MethodGet, "/api/nope", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, _ = ts.do(t, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRiskSnapshotAndThrottledRefresh(t *testing.T) {
	ts := newTestServer(t, false)

	w, body := ts.do(t, http.MethodGet, "/api/risk/snapshot", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var snap risk.Snapshot
	require.NoError(t, json.Unmarshal(body["snapshot"], &snap))
	assert.InDelta(t, 500000+4010*300+190*100, snap.Equity, 1e-6)

	w, _ = ts.do(t, http.MethodPost, "/api/risk/refresh", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	// 默认限速每秒 1 次，突发 1
	w, body = ts.do(t, http.MethodPost, "/api/risk/refresh", nil)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.NotEqual(t, "null", string(body["snapshot"]))
}

// sharedMirror 两个服务实例共享的内存镜像
type sharedMirror struct {
	mu   sync.Mutex
	data map[string][]byte
}

func (m *sharedMirror) Publish(ctx context.Context, key string, value any, ttl time.Duration) error {
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

func (m *sharedMirror) Fetch(ctx context.Context, key string, dst any) error {
	m.mu.Lock()
	b, ok := m.data[key]
	m.mu.Unlock()
	if !ok {
		return cache.ErrNotFound
	}
	return json.Unmarshal(b, dst)
}

func (m *sharedMirror) Close() error { return nil }

func TestRiskSnapshotFallsBackToMirror(t *testing.T) {
	cfg := config.Default()
	engine, err := risk.NewEngine(cfg.RiskConfig())
	require.NoError(t, err)
	mirror := &sharedMirror{}

	down := risk.NewService(engine, func(context.Context) (risk.Inputs, error) {
		return risk.Inputs{}, errors.New("feed down")
	}, mirror)
	router := NewRouter(NewAPI(Deps{
		Settings: func() *config.Config { return cfg },
		Risk:     down,
	}, NewWebSocketHub()), false)
	ts := &testServer{router: router}

	w, _ := ts.do(t, http.MethodGet, "/api/risk/snapshot", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	peer := risk.NewService(engine, risk.NewInputStore(risk.Inputs{
		Cash:      1000,
		Positions: []portfolio.Position{{Symbol: "AAPL", Quantity: 10, EntryPrice: 180, Kind: portfolio.AssetEquity, Direction: portfolio.Long}},
		Prices:    map[string]float64{"AAPL": 190},
	}).Provider(), mirror)
	published, err := peer.Snapshot(context.Background())
	require.NoError(t, err)

	w, body := ts.do(t, http.MethodGet, "/api/risk/snapshot", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, `"mirror"`, string(body["source"]))
	assert.Contains(t, string(body["warning"]), "feed down")
	var snap risk.Snapshot
	require.NoError(t, json.Unmarshal(body["snapshot"], &snap))
	assert.Equal(t, published.ID, snap.ID)
	assert.InDelta(t, 1000+1900, snap.Equity, 1e-6)
}

func TestRiskInputsEndpoints(t *testing.T) {
	ts := newTestServer(t, false)

	w, _ := ts.do(t, http.MethodPut, "/api/risk/inputs", map[string]interface{}{
		"cash":   1000,
		"prices": map[string]float64{"X": -1},
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = ts.do(t, http.MethodPut, "/api/risk/inputs", map[string]interface{}{
		"cash": 2000,
		"positions": []map[string]interface{}{
			{"symbol": "MSFT", "quantity": 10, "entry_price": 400, "kind": "equity", "direction": "long"},
		},
		"prices": map[string]float64{"MSFT": 410},
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 2000.0, ts.store.Current().Cash)

	w, _ = ts.do(t, http.MethodPost, "/api/risk/prices", map[string]interface{}{"symbol": "MSFT", "price": 420, "append_close": true})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 420.0, ts.store.Current().Prices["MSFT"])
	assert.Equal(t, []float64{420}, ts.store.Current().Closes["MSFT"])
}

func TestMarginEndpoints(t *testing.T) {
	ts := newTestServer(t, false)

	w, body := ts.do(t, http.MethodPost, "/api/margin/position", map[string]interface{}{
		"position":      map[string]interface{}{"symbol": "IF", "quantity": 1, "entry_price": 4000, "kind": "futures", "multiplier": 300, "direction": "long"},
		"current_price": 4000,
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, string(body["margin"]), `"leveraged":true`)

	w, body = ts.do(t, http.MethodPost, "/api/margin/combination", map[string]interface{}{
		"name": "covered call",
		"legs": []map[string]interface{}{
			{"symbol": "AAPL", "kind": "equity", "action": "buy", "quantity": 100, "entry_price": 190},
			{"symbol": "AAPL", "kind": "option", "option_type": "call", "action": "sell", "quantity": 1, "entry_price": 5, "strike": 200, "multiplier": 100},
		},
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, string(body["combination"]), `"covered_call"`)

	w, _ = ts.do(t, http.MethodPost, "/api/margin/combination", map[string]interface{}{"name": "single", "legs": []interface{}{}})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestOptionGreeksEndpoint(t *testing.T) {
	ts := newTestServer(t, false)
	asOf := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	w, _ := ts.do(t, http.MethodPost, "/api/greeks/option", map[string]interface{}{
		"quote": map[string]interface{}{
			"symbol": "X-C100", "underlying": "X", "type": "call", "implied_volatility": 0.2,
			"strike": 100, "expiry": asOf.AddDate(0, 0, 365), "underlying_price": 100,
		},
		"risk_free_rate": 0,
		"as_of":          asOf,
	})
	require.Equal(t, http.StatusOK, w.Code)
	var resp OptionGreeksResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.InDelta(t, 0.5398, resp.Greeks.Delta, 1e-4)
	assert.Equal(t, "implied", string(resp.Volatility.Source))

	w, body := ts.do(t, http.MethodPost, "/api/greeks/option", map[string]interface{}{
		"quote": map[string]interface{}{"symbol": "X-C100", "type": "call", "strike": 100},
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, string(body["missing"]), "expiry")
}

func TestBacktestAndHistory(t *testing.T) {
	ts := newTestServer(t, true)

	w, _ := ts.do(t, http.MethodPost, "/api/backtest", map[string]interface{}{
		"symbol": "AAPL", "strategy": "martingale", "bars": sampleBars(50, 100),
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, body := ts.do(t, http.MethodPost, "/api/backtest", map[string]interface{}{
		"symbol":   "AAPL",
		"strategy": "ma_crossover",
		"params":   map[string]interface{}{"fast": 5, "slow": 20},
		"bars":     sampleBars(150, 100),
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var result struct {
		RunID  string `json:"run_id"`
		Symbol string `json:"symbol"`
	}
	require.NoError(t, json.Unmarshal(body["result"], &result))
	assert.Equal(t, "AAPL", result.Symbol)
	require.NotEmpty(t, result.RunID)

	w, body = ts.do(t, http.MethodGet, "/api/backtest/runs?symbol=AAPL", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var runs []database.BacktestRun
	require.NoError(t, json.Unmarshal(body["runs"], &runs))
	require.Len(t, runs, 1)
	assert.Equal(t, result.RunID, runs[0].RunID)

	w, _ = ts.do(t, http.MethodGet, "/api/backtest/runs/"+result.RunID, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	w, _ = ts.do(t, http.MethodGet, "/api/backtest/runs/"+result.RunID+"/trades", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	w, _ = ts.do(t, http.MethodGet, "/api/backtest/runs/unknown", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	assert.Equal(t, []event.EventType{event.EventTypeBacktestCompleted}, ts.events.types())
}

func TestEventsEndpoint(t *testing.T) {
	ts := newTestServer(t, true)
	ctx := context.Background()
	require.NoError(t, ts.db.SaveEvent(ctx, &database.EventRecord{
		Type: string(event.EventTypeLiquidationCritical), Severity: "critical", Symbol: "IF", Title: "强平风险（严重）", CreatedAt: time.Now(),
	}))
	require.NoError(t, ts.db.SaveEvent(ctx, &database.EventRecord{
		Type: string(event.EventTypeBacktestCompleted), Severity: "info", Symbol: "AAPL", Title: "回测完成", CreatedAt: time.Now(),
	}))

	w, body := ts.do(t, http.MethodGet, "/api/events?severity=critical", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var events []database.EventRecord
	require.NoError(t, json.Unmarshal(body["events"], &events))
	require.Len(t, events, 1)
	assert.Equal(t, "IF", events[0].Symbol)

	w, _ = newTestServer(t, false).do(t, http.MethodGet, "/api/events", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestHistoryWithoutDatabase(t *testing.T) {
	ts := newTestServer(t, false)
	w, _ := ts.do(t, http.MethodGet, "/api/backtest/runs", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	w, _ = ts.do(t, http.MethodGet, "/api/risk/history", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestSweepEndpoint(t *testing.T) {
	ts := newTestServer(t, false)

	w, body := ts.do(t, http.MethodPost, "/api/backtest/sweep", map[string]interface{}{
		"data": map[string]interface{}{
			"AAPL": sampleBars(120, 100),
			"MSFT": sampleBars(120, 300),
		},
		"jobs": []map[string]interface{}{
			{"symbol": "AAPL", "strategy": "ma_crossover"},
			{"symbol": "MSFT", "strategy": "rsi_momentum"},
			{"symbol": "TSLA", "strategy": "ma_crossover"},
		},
		"workers": 2,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var report parallel.SweepReport
	require.NoError(t, json.Unmarshal(body["report"], &report))
	assert.Equal(t, 2, report.Succeeded)
	assert.Equal(t, 1, report.Failed)
}

func TestWalkForwardEndpoint(t *testing.T) {
	ts := newTestServer(t, true)

	w, _ := ts.do(t, http.MethodPost, "/api/walkforward", map[string]interface{}{
		"symbol": "AAPL", "strategy": "ma_crossover", "bars": sampleBars(100, 100),
	})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w, body := ts.do(t, http.MethodPost, "/api/walkforward", map[string]interface{}{
		"symbol":     "AAPL",
		"strategy":   "ma_crossover",
		"params":     map[string]interface{}{"fast": 5, "slow": 20},
		"bars":       sampleBars(200, 100),
		"train_size": 80,
		"test_size":  40,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, string(body["report"]), `"assessment"`)

	w, body = ts.do(t, http.MethodGet, "/api/walkforward/runs", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var runs []database.ValidationRun
	require.NoError(t, json.Unmarshal(body["runs"], &runs))
	assert.Len(t, runs, 1)
}

func TestWebSocketReceivesSnapshots(t *testing.T) {
	ts := newTestServer(t, false)
	srv := httptest.NewServer(ts.router)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return ts.hub.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	_, err = ts.svc.Refresh(context.Background())
	require.NoError(t, err)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var msg struct {
		Type string        `json:"type"`
		Data risk.Snapshot `json:"data"`
	}
	require.NoError(t, json.Unmarshal(data, &msg))
	assert.Equal(t, "risk_snapshot", msg.Type)
	assert.NotEmpty(t, msg.Data.ID)
}

type stubLogs struct {
	params storage.LogQueryParams
}

func (s *stubLogs) GetLogs(params storage.LogQueryParams) ([]*storage.LogRecord, int, error) {
	s.params = params
	return []*storage.LogRecord{{ID: 1, Level: "WARN", Message: "🚨 [风险] 1 个持仓接近强平"}}, 1, nil
}

func TestLogsEndpoint(t *testing.T) {
	w, _ := newTestServer(t, false).do(t, http.MethodGet, "/api/logs", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	logs := &stubLogs{}
	ts := &testServer{router: NewRouter(NewAPI(Deps{Logs: logs}, NewWebSocketHub()), false)}

	w, body := ts.do(t, http.MethodGet, "/api/logs?level=warn&keyword=%E5%BC%BA%E5%B9%B3&limit=20&start=2024-01-01T00:00:00Z", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "warn", logs.params.Level)
	assert.Equal(t, "强平", logs.params.Keyword)
	assert.Equal(t, 20, logs.params.Limit)
	assert.Equal(t, 2024, logs.params.StartTime.Year())
	assert.JSONEq(t, "1", string(body["total"]))

	w, _ = ts.do(t, http.MethodGet, "/api/logs?end=yesterday", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
