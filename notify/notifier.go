// Package notify 风险事件外部通知渠道：Webhook、Slack、Telegram
package notify

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"quantrisk/config"
	"quantrisk/event"
	"quantrisk/logger"
)

// Notifier 通知接口
type Notifier interface {
	Send(event *event.Event) error
	Name() string
}

// NotificationService 通知服务
type NotificationService struct {
	notifiers []Notifier
	inflight  sync.WaitGroup
}

// NewNotificationService 按配置初始化启用的通知渠道
func NewNotificationService(cfg *config.Config) *NotificationService {
	ns := &NotificationService{}
	if !cfg.Notifications.Enabled {
		return ns
	}

	if cfg.Notifications.Webhook.Enabled {
		if n, err := NewWebhookNotifier(cfg); err != nil {
			logger.Warn("⚠️ 初始化 Webhook 通知失败: %v", err)
		} else {
			ns.notifiers = append(ns.notifiers, n)
			logger.Info("✅ Webhook 通知已启用")
		}
	}

	if cfg.Notifications.Slack.Enabled {
		if n, err := NewSlackNotifier(cfg); err != nil {
			logger.Warn("⚠️ 初始化 Slack 通知失败: %v", err)
		} else {
			ns.notifiers = append(ns.notifiers, n)
			logger.Info("✅ Slack 通知已启用")
		}
	}

	if cfg.Notifications.Telegram.Enabled {
		if n, err := NewTelegramNotifier(cfg); err != nil {
			logger.Warn("⚠️ 初始化 Telegram 通知失败: %v", err)
		} else {
			ns.notifiers = append(ns.notifiers, n)
			logger.Info("✅ Telegram 通知已启用")
		}
	}

	return ns
}

// Count 已启用渠道数
func (ns *NotificationService) Count() int {
	return len(ns.notifiers)
}

// Send 发送通知（异步，不阻塞）
func (ns *NotificationService) Send(evt *event.Event) {
	if evt == nil || len(ns.notifiers) == 0 {
		return
	}

	ns.inflight.Add(len(ns.notifiers))
	for _, notifier := range ns.notifiers {
		go func(n Notifier) {
			defer ns.inflight.Done()
			if err := n.Send(evt); err != nil {
				logger.Warn("⚠️ [%s] 通知发送失败: %v", n.Name(), err)
			}
		}(notifier)
	}
}

// Wait 等待已发出的通知完成
func (ns *NotificationService) Wait() {
	ns.inflight.Wait()
}

func severityEmoji(s event.EventSeverity) string {
	switch s {
	case event.SeverityCritical:
		return "🚨"
	case event.SeverityWarning:
		return "⚠️"
	}
	return "ℹ️"
}

// liquidationAlert 强平预警结构化数据，各渠道共用
type liquidationAlert struct {
	Symbol           string  `json:"symbol"`
	Level            string  `json:"level"`
	DistancePct      float64 `json:"distance_pct"`
	CurrentPrice     float64 `json:"current_price"`
	LiquidationPrice float64 `json:"liquidation_price"`
}

// liquidationOf 非强平事件返回 nil
func liquidationOf(evt *event.Event) *liquidationAlert {
	if evt.Type != event.EventTypeLiquidationCritical && evt.Type != event.EventTypeLiquidationWarning {
		return nil
	}
	return &liquidationAlert{
		Symbol:           dataString(evt, "symbol"),
		Level:            string(evt.Severity()),
		DistancePct:      dataFloat(evt, "distance_pct"),
		CurrentPrice:     dataFloat(evt, "current_price"),
		LiquidationPrice: dataFloat(evt, "liquidation_price"),
	}
}

// priceDirection 强平价在现价下方为多头，上方为空头
func (a *liquidationAlert) priceDirection() string {
	if a.LiquidationPrice > a.CurrentPrice {
		return "空头"
	}
	return "多头"
}

func dataString(evt *event.Event, key string) string {
	if v, ok := evt.Data[key].(string); ok {
		return v
	}
	return ""
}

func dataFloat(evt *event.Event, key string) float64 {
	switch v := evt.Data[key].(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int64:
		return float64(v)
	}
	return 0
}

// detailLines 事件数据按 key 排序输出
func detailLines(evt *event.Event, format string) string {
	keys := make([]string, 0, len(evt.Data))
	for k := range evt.Data {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		b.WriteString(fmt.Sprintf(format, k, evt.Data[k]))
	}
	return b.String()
}
