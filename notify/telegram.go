package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"quantrisk/config"
	"quantrisk/event"
)

const telegramAPIBase = "https://api.telegram.org"

// TelegramNotifier Telegram 通知器
type TelegramNotifier struct {
	botToken string
	chatID   string
	apiBase  string
	client   *http.Client
}

// NewTelegramNotifier 创建 Telegram 通知器
func NewTelegramNotifier(cfg *config.Config) (*TelegramNotifier, error) {
	if cfg.Notifications.Telegram.BotToken == "" || cfg.Notifications.Telegram.ChatID == "" {
		return nil, fmt.Errorf("Telegram BotToken 或 ChatID 未配置")
	}

	return &TelegramNotifier{
		botToken: cfg.Notifications.Telegram.BotToken,
		chatID:   cfg.Notifications.Telegram.ChatID,
		apiBase:  telegramAPIBase,
		client:   &http.Client{Timeout: 3 * time.Second},
	}, nil
}

// Name 返回通知器名称
func (tn *TelegramNotifier) Name() string {
	return "Telegram"
}

// Send 发送通知
func (tn *TelegramNotifier) Send(evt *event.Event) error {
	url := fmt.Sprintf("%s/bot%s/sendMessage", tn.apiBase, tn.botToken)

	jsonData, err := json.Marshal(map[string]interface{}{
		"chat_id":    tn.chatID,
		"text":       formatTelegramMessage(evt),
		"parse_mode": "Markdown",
	})
	if err != nil {
		return fmt.Errorf("序列化消息失败: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("创建请求失败: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := tn.client.Do(req)
	if err != nil {
		return fmt.Errorf("发送请求失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("Telegram API 返回错误: %d", resp.StatusCode)
	}
	return nil
}

// formatTelegramMessage 格式化 Telegram 消息，强平事件输出价格对照
func formatTelegramMessage(evt *event.Event) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s *%s*\n", severityEmoji(evt.Severity()), event.GetEventTitle(evt.Type))
	if liq := liquidationOf(evt); liq != nil {
		fmt.Fprintf(&b, "合约: `%s`（%s）\n", liq.Symbol, liq.priceDirection())
		fmt.Fprintf(&b, "距强平: *%.2f%%*\n", liq.DistancePct)
		fmt.Fprintf(&b, "现价 `%.4f` → 强平价 `%.4f`\n", liq.CurrentPrice, liq.LiquidationPrice)
	} else {
		b.WriteString(detailLines(evt, "%s: `%v`\n"))
	}
	fmt.Fprintf(&b, "时间: %s", evt.Timestamp.Format("2006-01-02 15:04:05"))
	return b.String()
}
