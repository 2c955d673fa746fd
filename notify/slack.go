package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"quantrisk/config"
	"quantrisk/event"
)

// SlackNotifier Slack 通知器
type SlackNotifier struct {
	webhook string
	client  *http.Client
}

// NewSlackNotifier 创建 Slack 通知器
func NewSlackNotifier(cfg *config.Config) (*SlackNotifier, error) {
	if cfg.Notifications.Slack.Webhook == "" {
		return nil, fmt.Errorf("Slack Webhook URL 未配置")
	}

	return &SlackNotifier{
		webhook: cfg.Notifications.Slack.Webhook,
		client:  &http.Client{Timeout: 3 * time.Second},
	}, nil
}

// Name 返回通知器名称
func (sn *SlackNotifier) Name() string {
	return "Slack"
}

// Send 发送通知
func (sn *SlackNotifier) Send(evt *event.Event) error {
	jsonData, err := json.Marshal(buildSlackMessage(evt))
	if err != nil {
		return fmt.Errorf("序列化消息失败: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sn.webhook, bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("创建请求失败: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := sn.client.Do(req)
	if err != nil {
		return fmt.Errorf("发送请求失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("Slack API 返回错误: %d", resp.StatusCode)
	}
	return nil
}

type slackText struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type slackBlock struct {
	Type     string      `json:"type"`
	Text     *slackText  `json:"text,omitempty"`
	Fields   []slackText `json:"fields,omitempty"`
	Elements []slackText `json:"elements,omitempty"`
}

type slackMessage struct {
	Text   string       `json:"text"`
	Blocks []slackBlock `json:"blocks"`
}

func mrkdwn(format string, args ...interface{}) slackText {
	return slackText{Type: "mrkdwn", Text: fmt.Sprintf(format, args...)}
}

// buildSlackMessage 构建 Block Kit 消息，text 作为通知栏摘要
func buildSlackMessage(evt *event.Event) slackMessage {
	title := fmt.Sprintf("%s %s", severityEmoji(evt.Severity()), event.GetEventTitle(evt.Type))
	msg := slackMessage{
		Text: title,
		Blocks: []slackBlock{
			{Type: "header", Text: &slackText{Type: "plain_text", Text: title}},
		},
	}

	if liq := liquidationOf(evt); liq != nil {
		msg.Text = fmt.Sprintf("%s %s 距强平 %.2f%%", title, liq.Symbol, liq.DistancePct)
		msg.Blocks = append(msg.Blocks, slackBlock{
			Type: "section",
			Fields: []slackText{
				mrkdwn("*合约*\n%s（%s）", liq.Symbol, liq.priceDirection()),
				mrkdwn("*距强平*\n%.2f%%", liq.DistancePct),
				mrkdwn("*现价*\n%.4f", liq.CurrentPrice),
				mrkdwn("*强平价*\n%.4f", liq.LiquidationPrice),
			},
		})
	} else if len(evt.Data) > 0 {
		msg.Blocks = append(msg.Blocks, slackBlock{
			Type: "section",
			Text: &slackText{Type: "mrkdwn", Text: detailLines(evt, "• %s: %v\n")},
		})
	}

	msg.Blocks = append(msg.Blocks, slackBlock{
		Type: "context",
		Elements: []slackText{
			mrkdwn("%s · %s · %s", event.GetEventSource(evt.Type), evt.Severity(),
				evt.Timestamp.Format("2006-01-02 15:04:05")),
		},
	})
	return msg
}
