// Package event 风险事件：事件总线、事件中心（持久化与通知）以及快照状态监控
package event

import (
	"sync"
	"time"

	"quantrisk/logger"
)

// EventType 事件类型
type EventType string

const (
	EventTypeLiquidationCritical EventType = "liquidation_critical"
	EventTypeLiquidationWarning  EventType = "liquidation_warning"
	EventTypeMarginUsageHigh     EventType = "margin_usage_high"
	EventTypeVaRBreach           EventType = "var_breach"
	EventTypeCorrelationHigh     EventType = "correlation_high"
	EventTypeRiskRecovered       EventType = "risk_recovered"
	EventTypeOverfitDetected     EventType = "overfit_detected"
	EventTypeBacktestCompleted   EventType = "backtest_completed"
	EventTypeConfigReloaded      EventType = "config_reloaded"
	EventTypeSystemStart         EventType = "system_start"
	EventTypeSystemStop          EventType = "system_stop"
)

// EventSeverity 事件严重程度
type EventSeverity string

const (
	SeverityCritical EventSeverity = "critical"
	SeverityWarning  EventSeverity = "warning"
	SeverityInfo     EventSeverity = "info"
)

// Rank 严重程度排序值，越大越严重
func (s EventSeverity) Rank() int {
	switch s {
	case SeverityCritical:
		return 2
	case SeverityWarning:
		return 1
	}
	return 0
}

// ParseSeverity 解析严重程度，无法识别时返回 info
func ParseSeverity(s string) EventSeverity {
	switch EventSeverity(s) {
	case SeverityCritical, SeverityWarning:
		return EventSeverity(s)
	}
	return SeverityInfo
}

// EventSource 事件来源
type EventSource string

const (
	SourceRisk       EventSource = "risk"
	SourceValidation EventSource = "validation"
	SourceBacktest   EventSource = "backtest"
	SourceSystem     EventSource = "system"
)

// GetEventSeverity 事件严重程度
func GetEventSeverity(t EventType) EventSeverity {
	switch t {
	case EventTypeLiquidationCritical, EventTypeMarginUsageHigh, EventTypeVaRBreach:
		return SeverityCritical
	case EventTypeLiquidationWarning, EventTypeCorrelationHigh, EventTypeOverfitDetected:
		return SeverityWarning
	}
	return SeverityInfo
}

// GetEventSource 事件来源
func GetEventSource(t EventType) EventSource {
	switch t {
	case EventTypeLiquidationCritical, EventTypeLiquidationWarning, EventTypeMarginUsageHigh,
		EventTypeVaRBreach, EventTypeCorrelationHigh, EventTypeRiskRecovered:
		return SourceRisk
	case EventTypeOverfitDetected:
		return SourceValidation
	case EventTypeBacktestCompleted:
		return SourceBacktest
	}
	return SourceSystem
}

// GetEventTitle 事件标题
func GetEventTitle(t EventType) string {
	switch t {
	case EventTypeLiquidationCritical:
		return "强平风险（严重）"
	case EventTypeLiquidationWarning:
		return "强平风险预警"
	case EventTypeMarginUsageHigh:
		return "保证金占用过高"
	case EventTypeVaRBreach:
		return "VaR 超限"
	case EventTypeCorrelationHigh:
		return "持仓高度相关"
	case EventTypeRiskRecovered:
		return "风险解除"
	case EventTypeOverfitDetected:
		return "策略过拟合"
	case EventTypeBacktestCompleted:
		return "回测完成"
	case EventTypeConfigReloaded:
		return "配置已热更新"
	case EventTypeSystemStart:
		return "系统启动"
	case EventTypeSystemStop:
		return "系统停止"
	}
	return "系统通知"
}

// Event 事件结构
type Event struct {
	Type      EventType              `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// Severity 事件严重程度
func (e *Event) Severity() EventSeverity {
	return GetEventSeverity(e.Type)
}

// Publisher 事件发布接口
type Publisher interface {
	Publish(event *Event)
}

// EventBus 事件总线
type EventBus struct {
	mu         sync.RWMutex
	eventCh    chan *Event
	bufferSize int
	closed     bool
}

// NewEventBus 创建事件总线
func NewEventBus(bufferSize int) *EventBus {
	if bufferSize <= 0 {
		bufferSize = 1000
	}
	return &EventBus{
		eventCh:    make(chan *Event, bufferSize),
		bufferSize: bufferSize,
	}
}

// Publish 发布事件（非阻塞），队列满或已关闭时丢弃
func (eb *EventBus) Publish(event *Event) {
	if eb == nil || event == nil {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	eb.mu.RLock()
	defer eb.mu.RUnlock()
	if eb.closed {
		return
	}
	select {
	case eb.eventCh <- event:
	default:
		logger.Warn("⚠️ 事件队列已满，丢弃事件: %s", event.Type)
	}
}

// Subscribe 订阅事件（返回 channel）
func (eb *EventBus) Subscribe() <-chan *Event {
	return eb.eventCh
}

// Close 关闭事件总线
func (eb *EventBus) Close() {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	if eb.closed {
		return
	}
	eb.closed = true
	close(eb.eventCh)
}
