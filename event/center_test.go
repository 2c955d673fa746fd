package event

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quantrisk/database"
	"quantrisk/risk"
)

// mockStore 模拟事件存储
type mockStore struct {
	mu       sync.Mutex
	records  []*database.EventRecord
	cleanups []string
}

func (m *mockStore) SaveEvent(ctx context.Context, event *database.EventRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, event)
	return nil
}

func (m *mockStore) CleanupOldEvents(ctx context.Context, severity string, keepCount int, keepDays int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cleanups = append(m.cleanups, severity)
	return nil
}

func (m *mockStore) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}

// mockNotifier 模拟通知服务
type mockNotifier struct {
	mu     sync.Mutex
	events []*Event
}

func (m *mockNotifier) Send(event *Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
}

func (m *mockNotifier) sent() []*Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*Event(nil), m.events...)
}

// recordingPublisher 同步记录发布的事件
type recordingPublisher struct {
	events []*Event
}

func (r *recordingPublisher) Publish(event *Event) {
	r.events = append(r.events, event)
}

func (r *recordingPublisher) types() []EventType {
	out := make([]EventType, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}

func (r *recordingPublisher) reset() { r.events = nil }

func TestEventSeverity(t *testing.T) {
	tests := []struct {
		eventType EventType
		severity  EventSeverity
		source    EventSource
	}{
		{EventTypeLiquidationCritical, SeverityCritical, SourceRisk},
		{EventTypeMarginUsageHigh, SeverityCritical, SourceRisk},
		{EventTypeLiquidationWarning, SeverityWarning, SourceRisk},
		{EventTypeOverfitDetected, SeverityWarning, SourceValidation},
		{EventTypeBacktestCompleted, SeverityInfo, SourceBacktest},
		{EventTypeConfigReloaded, SeverityInfo, SourceSystem},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.severity, GetEventSeverity(tt.eventType), tt.eventType)
		assert.Equal(t, tt.source, GetEventSource(tt.eventType), tt.eventType)
		assert.NotEmpty(t, GetEventTitle(tt.eventType))
	}
	assert.Equal(t, SeverityInfo, ParseSeverity("bogus"))
	assert.Greater(t, SeverityCritical.Rank(), SeverityWarning.Rank())

	t.Log("✅ 事件严重程度测试通过")
}

func TestEventBusDropsWhenFullOrClosed(t *testing.T) {
	bus := NewEventBus(1)
	bus.Publish(&Event{Type: EventTypeSystemStart})
	bus.Publish(&Event{Type: EventTypeSystemStop})

	evt := <-bus.Subscribe()
	assert.Equal(t, EventTypeSystemStart, evt.Type)
	assert.False(t, evt.Timestamp.IsZero())

	bus.Close()
	bus.Close()
	assert.NotPanics(t, func() { bus.Publish(&Event{Type: EventTypeSystemStop}) })
}

func TestEventCenterPersistsAndNotifies(t *testing.T) {
	store := &mockStore{}
	notifier := &mockNotifier{}
	center := NewEventCenter(store, NewEventBus(10), notifier, &EventCenterConfig{Enabled: true})
	require.NoError(t, center.Start())
	defer center.Stop()

	center.PublishEvent(EventTypeLiquidationCritical, map[string]interface{}{
		"symbol": "IF", "distance_pct": 2.5, "current_price": 4000.0, "liquidation_price": 3900.0,
	})
	center.PublishEvent(EventTypeBacktestCompleted, map[string]interface{}{"symbol": "AAPL", "strategy": "ma_crossover"})

	require.Eventually(t, func() bool { return store.count() == 2 }, 2*time.Second, 10*time.Millisecond)

	store.mu.Lock()
	first := store.records[0]
	store.mu.Unlock()
	assert.Equal(t, "critical", first.Severity)
	assert.Equal(t, "IF", first.Symbol)
	assert.Contains(t, first.Message, "2.50%")
	assert.Contains(t, first.Details, "liquidation_price")

	// 默认只通知 warning 及以上
	sent := notifier.sent()
	require.Len(t, sent, 1)
	assert.Equal(t, EventTypeLiquidationCritical, sent[0].Type)

	stats := center.Stats()
	assert.Equal(t, 1, stats[SeverityCritical])
	assert.Equal(t, 1, stats[SeverityInfo])
}

func TestEventCenterDisabledDropsEvents(t *testing.T) {
	store := &mockStore{}
	center := NewEventCenter(store, NewEventBus(10), nil, &EventCenterConfig{Enabled: false})
	require.NoError(t, center.Start())
	center.PublishEvent(EventTypeVaRBreach, nil)
	center.Stop()
	assert.Equal(t, 0, store.count())

	var nilCenter *EventCenter
	assert.NotPanics(t, func() { nilCenter.Publish(&Event{Type: EventTypeSystemStart}) })
}

func TestPerformCleanupCoversAllSeverities(t *testing.T) {
	store := &mockStore{}
	center := NewEventCenter(store, NewEventBus(1), nil, &EventCenterConfig{
		Enabled:   true,
		Retention: RetentionConfig{CriticalDays: 365, WarningDays: 90, InfoDays: 30},
	})
	center.performCleanup()
	assert.Equal(t, []string{"critical", "warning", "info"}, store.cleanups)
}

func TestRiskMonitorTransitions(t *testing.T) {
	pub := &recordingPublisher{}
	m := NewRiskMonitor(pub, MonitorConfig{MarginUsagePct: 80, VaRLimitPct: 5})

	calm := &risk.Snapshot{Equity: 100000, MarginUsage: 0.3, VaR95: risk.VaRResult{VaR: -1000}}
	m.Observe(calm)
	assert.Empty(t, pub.events)

	stressed := &risk.Snapshot{
		Equity:      100000,
		MarginUsage: 0.85,
		VaR95:       risk.VaRResult{VaR: -6000, CVaR: -8000},
		LiquidationWarnings: []risk.LiquidationWarning{
			{Symbol: "IF", Level: risk.LevelCritical, DistancePct: 2},
			{Symbol: "CU", Level: risk.LevelWarning, DistancePct: 4},
		},
		Correlation: risk.CorrelationResult{HighPairs: []risk.CorrelatedPair{{SymbolA: "IF", SymbolB: "IH", Correlation: 0.92}}},
	}
	m.Observe(stressed)
	assert.ElementsMatch(t, []EventType{
		EventTypeLiquidationCritical, EventTypeLiquidationWarning,
		EventTypeMarginUsageHigh, EventTypeVaRBreach, EventTypeCorrelationHigh,
	}, pub.types())

	// 状态未变不重复告警
	pub.reset()
	m.Observe(stressed)
	assert.Empty(t, pub.events)

	// CU 升级为严重，IF 脱离预警
	pub.reset()
	escalated := *stressed
	escalated.LiquidationWarnings = []risk.LiquidationWarning{{Symbol: "CU", Level: risk.LevelCritical, DistancePct: 2.5}}
	m.Observe(&escalated)
	require.Len(t, pub.events, 2)
	assert.ElementsMatch(t, []EventType{EventTypeLiquidationCritical, EventTypeRiskRecovered}, pub.types())

	pub.reset()
	m.Observe(calm)
	assert.ElementsMatch(t, []EventType{EventTypeRiskRecovered, EventTypeRiskRecovered, EventTypeRiskRecovered}, pub.types())
	t.Logf("✅ 快照监控状态转换: %v", pub.types())
}

func TestRiskMonitorDisabledThresholds(t *testing.T) {
	pub := &recordingPublisher{}
	m := NewRiskMonitor(pub, MonitorConfig{})
	m.Observe(&risk.Snapshot{Equity: 1000, MarginUsage: 1, VaR95: risk.VaRResult{VaR: -900}})
	assert.Empty(t, pub.events)

	m.SetConfig(MonitorConfig{MarginUsagePct: 50})
	m.Observe(&risk.Snapshot{Equity: 1000, MarginUsage: 1})
	assert.Equal(t, []EventType{EventTypeMarginUsageHigh}, pub.types())
	m.Observe(nil)
}
