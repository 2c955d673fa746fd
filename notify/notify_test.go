package notify

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quantrisk/config"
	"quantrisk/event"
)

// receiver 记录收到的请求体
type receiver struct {
	mu     sync.Mutex
	paths  []string
	bodies []map[string]interface{}
	status int
}

func (r *receiver) handler(w http.ResponseWriter, req *http.Request) {
	var body map[string]interface{}
	_ = json.NewDecoder(req.Body).Decode(&body)
	r.mu.Lock()
	r.paths = append(r.paths, req.URL.Path)
	r.bodies = append(r.bodies, body)
	status := r.status
	r.mu.Unlock()
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
}

func (r *receiver) received() []map[string]interface{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]map[string]interface{}(nil), r.bodies...)
}

func sampleEvent() *event.Event {
	return &event.Event{
		Type:      event.EventTypeLiquidationCritical,
		Timestamp: time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC),
		Data: map[string]interface{}{
			"symbol":            "IF",
			"distance_pct":      2.5,
			"current_price":     3900.0,
			"liquidation_price": 3802.5,
		},
	}
}

func TestNotificationServiceFansOut(t *testing.T) {
	rcv := &receiver{}
	srv := httptest.NewServer(http.HandlerFunc(rcv.handler))
	defer srv.Close()

	cfg := config.Default()
	cfg.Notifications.Enabled = true
	cfg.Notifications.Webhook.Enabled = true
	cfg.Notifications.Webhook.URL = srv.URL + "/hook"
	cfg.Notifications.Slack.Enabled = true
	cfg.Notifications.Slack.Webhook = srv.URL + "/slack"
	cfg.Notifications.Telegram.Enabled = true // 未配置 token，初始化失败被跳过

	ns := NewNotificationService(cfg)
	require.Equal(t, 2, ns.Count())

	ns.Send(sampleEvent())
	ns.Wait()

	bodies := rcv.received()
	require.Len(t, bodies, 2)
	var hook, slack map[string]interface{}
	for i, p := range rcv.paths {
		if p == "/hook" {
			hook = bodies[i]
		} else {
			slack = bodies[i]
		}
	}
	require.NotNil(t, hook)
	require.NotNil(t, slack)
	assert.Equal(t, "liquidation_critical", hook["type"])
	assert.Equal(t, "critical", hook["severity"])
	assert.Equal(t, "risk", hook["source"])
	assert.Equal(t, "IF", hook["symbol"])
	liq, ok := hook["liquidation"].(map[string]interface{})
	require.True(t, ok, "强平事件应带结构化 liquidation 块")
	assert.Equal(t, "IF", liq["symbol"])
	assert.Equal(t, "critical", liq["level"])
	assert.Equal(t, 2.5, liq["distance_pct"])
	assert.Equal(t, 3802.5, liq["liquidation_price"])

	assert.Contains(t, slack["text"], "IF 距强平 2.50%")
	blocks, ok := slack["blocks"].([]interface{})
	require.True(t, ok)
	require.Len(t, blocks, 3)
	header := blocks[0].(map[string]interface{})
	assert.Equal(t, "header", header["type"])
	fields := blocks[1].(map[string]interface{})["fields"].([]interface{})
	require.Len(t, fields, 4)
	assert.Contains(t, fields[0].(map[string]interface{})["text"], "IF（多头）")
	assert.Contains(t, fields[3].(map[string]interface{})["text"], "3802.5000")
	t.Logf("Slack 消息: %v", slack["text"])
}

func TestDisabledNotificationsSendNothing(t *testing.T) {
	cfg := config.Default()
	ns := NewNotificationService(cfg)
	assert.Equal(t, 0, ns.Count())
	ns.Send(sampleEvent())
	ns.Wait()
}

func TestWebhookReportsErrorStatus(t *testing.T) {
	rcv := &receiver{status: http.StatusInternalServerError}
	srv := httptest.NewServer(http.HandlerFunc(rcv.handler))
	defer srv.Close()

	cfg := config.Default()
	cfg.Notifications.Webhook.URL = srv.URL
	n, err := NewWebhookNotifier(cfg)
	require.NoError(t, err)
	err = n.Send(sampleEvent())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "500")

	cfg.Notifications.Webhook.URL = ""
	_, err = NewWebhookNotifier(cfg)
	assert.Error(t, err)
}

func TestTelegramNotifier(t *testing.T) {
	rcv := &receiver{}
	srv := httptest.NewServer(http.HandlerFunc(rcv.handler))
	defer srv.Close()

	cfg := config.Default()
	cfg.Notifications.Telegram.BotToken = "token"
	cfg.Notifications.Telegram.ChatID = "42"
	n, err := NewTelegramNotifier(cfg)
	require.NoError(t, err)
	n.apiBase = srv.URL

	require.NoError(t, n.Send(sampleEvent()))
	bodies := rcv.received()
	require.Len(t, bodies, 1)
	assert.Equal(t, "/bottoken/sendMessage", rcv.paths[0])
	assert.Equal(t, "42", bodies[0]["chat_id"])
	text, _ := bodies[0]["text"].(string)
	assert.True(t, strings.HasPrefix(text, "🚨"))
	assert.Contains(t, text, "合约: `IF`（多头）")
	assert.Contains(t, text, "距强平: *2.50%*")
	assert.Contains(t, text, "现价 `3900.0000` → 强平价 `3802.5000`")
}

func TestNonLiquidationEventPayloads(t *testing.T) {
	evt := &event.Event{
		Type:      event.EventTypeMarginUsageHigh,
		Timestamp: time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC),
		Data:      map[string]interface{}{"usage_pct": 85.0, "threshold_pct": 80.0},
	}

	raw, err := json.Marshal(buildWebhookPayload(evt))
	require.NoError(t, err)
	var hook map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &hook))
	_, hasLiq := hook["liquidation"]
	assert.False(t, hasLiq)
	_, hasSymbol := hook["symbol"]
	assert.False(t, hasSymbol)
	assert.Equal(t, "risk", hook["source"])

	msg := buildSlackMessage(evt)
	require.Len(t, msg.Blocks, 3)
	require.NotNil(t, msg.Blocks[1].Text)
	assert.Contains(t, msg.Blocks[1].Text.Text, "usage_pct: 85")
	assert.Contains(t, msg.Blocks[2].Elements[0].Text, "risk · critical")

	text := formatTelegramMessage(evt)
	assert.Contains(t, text, "threshold_pct: `80`")
	assert.NotContains(t, text, "距强平")
}

func TestShortLiquidationDirection(t *testing.T) {
	evt := &event.Event{
		Type: event.EventTypeLiquidationWarning,
		Data: map[string]interface{}{"symbol": "RB", "distance_pct": 6, "current_price": 3600.0, "liquidation_price": 3816.0},
	}
	liq := liquidationOf(evt)
	require.NotNil(t, liq)
	assert.Equal(t, "warning", liq.Level)
	assert.Equal(t, 6.0, liq.DistancePct)
	assert.Equal(t, "空头", liq.priceDirection())
	t.Log("✅ 空头强平价位于现价上方")
}
