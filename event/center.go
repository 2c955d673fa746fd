package event

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"quantrisk/database"
	"quantrisk/logger"
)

// Store 事件持久化接口，database.Database 满足该接口
type Store interface {
	SaveEvent(ctx context.Context, event *database.EventRecord) error
	CleanupOldEvents(ctx context.Context, severity string, keepCount int, keepDays int) error
}

// NotificationService 通知服务接口
type NotificationService interface {
	Send(event *Event)
}

// EventCenterConfig 事件中心配置
type EventCenterConfig struct {
	Enabled           bool
	NotifyMinSeverity EventSeverity
	CleanupInterval   int // 小时
	Retention         RetentionConfig
}

// RetentionConfig 保留策略配置
type RetentionConfig struct {
	CriticalDays     int
	WarningDays      int
	InfoDays         int
	CriticalMaxCount int
	WarningMaxCount  int
	InfoMaxCount     int
}

// EventCenter 事件中心
type EventCenter struct {
	store    Store
	eventBus *EventBus
	notifier NotificationService
	config   *EventCenterConfig
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup

	mu      sync.Mutex
	handled map[EventSeverity]int
}

// NewEventCenter 创建事件中心，store 与 notifier 均可为 nil
func NewEventCenter(store Store, eventBus *EventBus, notifier NotificationService, config *EventCenterConfig) *EventCenter {
	ctx, cancel := context.WithCancel(context.Background())
	if config == nil {
		config = &EventCenterConfig{Enabled: true}
	}
	if config.NotifyMinSeverity == "" {
		config.NotifyMinSeverity = SeverityWarning
	}
	return &EventCenter{
		store:    store,
		eventBus: eventBus,
		notifier: notifier,
		config:   config,
		ctx:      ctx,
		cancel:   cancel,
		handled:  make(map[EventSeverity]int),
	}
}

// Start 启动事件中心
func (ec *EventCenter) Start() error {
	if !ec.config.Enabled {
		logger.Info("⏸️ 事件中心未启用")
		return nil
	}

	logger.Info("🚀 启动事件中心...")

	ec.wg.Add(1)
	go ec.processEvents()

	if ec.store != nil && ec.config.CleanupInterval > 0 {
		ec.wg.Add(1)
		go ec.cleanupTask()
	}

	logger.Info("✅ 事件中心已启动（通知阈值: %s）", ec.config.NotifyMinSeverity)
	return nil
}

// Stop 停止事件中心
func (ec *EventCenter) Stop() {
	logger.Info("🛑 停止事件中心...")
	ec.cancel()
	ec.wg.Wait()
	logger.Info("✅ 事件中心已停止")
}

// Publish 发布事件到总线，事件中心未启用时丢弃
func (ec *EventCenter) Publish(event *Event) {
	if ec == nil || !ec.config.Enabled {
		return
	}
	ec.eventBus.Publish(event)
}

// PublishEvent 发布事件（便捷方法）
func (ec *EventCenter) PublishEvent(eventType EventType, data map[string]interface{}) {
	ec.Publish(&Event{
		Type:      eventType,
		Timestamp: time.Now(),
		Data:      data,
	})
}

// Stats 已处理事件数（按严重程度）
func (ec *EventCenter) Stats() map[EventSeverity]int {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	out := make(map[EventSeverity]int, len(ec.handled))
	for k, v := range ec.handled {
		out[k] = v
	}
	return out
}

func (ec *EventCenter) processEvents() {
	defer ec.wg.Done()

	eventCh := ec.eventBus.Subscribe()
	for {
		select {
		case <-ec.ctx.Done():
			return
		case event, ok := <-eventCh:
			if !ok {
				return
			}
			ec.handleEvent(event)
		}
	}
}

// handleEvent 处理单个事件：记录日志、持久化、按严重程度通知
func (ec *EventCenter) handleEvent(event *Event) {
	if event == nil {
		return
	}

	severity := GetEventSeverity(event.Type)
	title := GetEventTitle(event.Type)
	message := ec.buildMessage(event)

	switch severity {
	case SeverityCritical:
		logger.Warn("🚨 [事件] %s: %s", title, message)
	case SeverityWarning:
		logger.Warn("⚠️ [事件] %s: %s", title, message)
	default:
		logger.Info("ℹ️ [事件] %s: %s", title, message)
	}

	ec.mu.Lock()
	ec.handled[severity]++
	ec.mu.Unlock()

	if ec.store != nil {
		detailsJSON, err := json.Marshal(event.Data)
		if err != nil {
			logger.Warn("⚠️ 序列化事件详情失败: %v", err)
			detailsJSON = []byte("{}")
		}
		record := &database.EventRecord{
			Type:      string(event.Type),
			Severity:  string(severity),
			Source:    string(GetEventSource(event.Type)),
			Symbol:    extractString(event.Data, "symbol"),
			Title:     title,
			Message:   message,
			Details:   string(detailsJSON),
			CreatedAt: event.Timestamp,
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err = ec.store.SaveEvent(ctx, record)
		cancel()
		if err != nil {
			logger.Error("❌ 保存事件失败: %v", err)
		}
	}

	if ec.notifier != nil && severity.Rank() >= ec.config.NotifyMinSeverity.Rank() {
		ec.notifier.Send(event)
	}
}

func extractString(data map[string]interface{}, key string) string {
	if val, ok := data[key]; ok {
		if str, ok := val.(string); ok {
			return str
		}
	}
	return ""
}

func extractFloat(data map[string]interface{}, key string) float64 {
	switch v := data[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	}
	return 0
}

// buildMessage 构建事件消息
func (ec *EventCenter) buildMessage(event *Event) string {
	d := event.Data
	switch event.Type {
	case EventTypeLiquidationCritical, EventTypeLiquidationWarning:
		return fmt.Sprintf("%s 距强平 %.2f%%（现价 %.4f，强平价 %.4f）",
			extractString(d, "symbol"), extractFloat(d, "distance_pct"),
			extractFloat(d, "current_price"), extractFloat(d, "liquidation_price"))
	case EventTypeMarginUsageHigh:
		return fmt.Sprintf("保证金占用率 %.2f%%（阈值 %.2f%%）",
			extractFloat(d, "usage_pct"), extractFloat(d, "threshold_pct"))
	case EventTypeVaRBreach:
		return fmt.Sprintf("VaR95 %.2f 占权益 %.2f%%（阈值 %.2f%%）",
			extractFloat(d, "var_95"), extractFloat(d, "loss_pct"), extractFloat(d, "threshold_pct"))
	case EventTypeCorrelationHigh:
		return fmt.Sprintf("%s / %s 相关系数 %.3f",
			extractString(d, "symbol"), extractString(d, "peer"), extractFloat(d, "correlation"))
	case EventTypeOverfitDetected:
		return fmt.Sprintf("%s %s 过拟合评分 %.2f（%s）",
			extractString(d, "symbol"), extractString(d, "strategy"),
			extractFloat(d, "score"), extractString(d, "severity"))
	case EventTypeBacktestCompleted:
		return fmt.Sprintf("%s %s 收益率 %.2f%%，夏普 %.2f",
			extractString(d, "symbol"), extractString(d, "strategy"),
			extractFloat(d, "total_return"), extractFloat(d, "sharpe_ratio"))
	}
	if msg := extractString(d, "message"); msg != "" {
		return msg
	}
	return fmt.Sprintf("事件类型: %s", event.Type)
}

func (ec *EventCenter) cleanupTask() {
	defer ec.wg.Done()

	ticker := time.NewTicker(time.Duration(ec.config.CleanupInterval) * time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ec.ctx.Done():
			return
		case <-ticker.C:
			ec.performCleanup()
		}
	}
}

// performCleanup 按严重程度执行保留策略
func (ec *EventCenter) performCleanup() {
	logger.Info("🧹 开始清理旧事件...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	r := ec.config.Retention
	policies := []struct {
		severity EventSeverity
		count    int
		days     int
	}{
		{SeverityCritical, r.CriticalMaxCount, r.CriticalDays},
		{SeverityWarning, r.WarningMaxCount, r.WarningDays},
		{SeverityInfo, r.InfoMaxCount, r.InfoDays},
	}
	for _, p := range policies {
		if err := ec.store.CleanupOldEvents(ctx, string(p.severity), p.count, p.days); err != nil {
			logger.Error("❌ 清理 %s 事件失败: %v", p.severity, err)
		}
	}

	logger.Info("✅ 事件清理完成")
}
