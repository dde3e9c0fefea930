package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"
)

const sendTimeout = 10 * time.Second

// postJSON POSTs body as JSON and treats any non-2xx status as an error.
func postJSON(ctx context.Context, client *http.Client, url string, body any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("send: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return nil
}

// webhookPayload is the JSON body POSTed to a generic webhook.
type webhookPayload struct {
	Alert
	Source string `json:"source"`
	TS     string `json:"ts"`
}

// WebhookNotifier POSTs alerts as JSON to an HTTP endpoint.
type WebhookNotifier struct {
	url    string
	client *http.Client
	now    func() time.Time
}

// NewWebhookNotifier creates a notifier for url.
func NewWebhookNotifier(url string) *WebhookNotifier {
	return &WebhookNotifier{
		url:    url,
		client: &http.Client{Timeout: sendTimeout},
		now:    time.Now,
	}
}

func (w *WebhookNotifier) Send(ctx context.Context, alert Alert) error {
	payload := webhookPayload{
		Alert:  alert,
		Source: "ohlcvsync",
		TS:     w.now().UTC().Format(time.RFC3339Nano),
	}
	if err := postJSON(ctx, w.client, w.url, payload); err != nil {
		return fmt.Errorf("webhook: %w", err)
	}
	log.Printf("[webhook] sent %s alert: %s", alert.Level, alert.Title)
	return nil
}

type telegramMessage struct {
	ChatID    string `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode"`
}

// TelegramNotifier sends alerts through the Telegram Bot API.
type TelegramNotifier struct {
	baseURL  string
	botToken string
	chatID   string
	client   *http.Client
}

// NewTelegramNotifier creates a notifier for a bot token and a target
// chat, group or channel ID.
func NewTelegramNotifier(botToken, chatID string) *TelegramNotifier {
	return &TelegramNotifier{
		baseURL:  "https://api.telegram.org",
		botToken: botToken,
		chatID:   chatID,
		client:   &http.Client{Timeout: sendTimeout},
	}
}

func (t *TelegramNotifier) Send(ctx context.Context, alert Alert) error {
	msg := telegramMessage{
		ChatID:    t.chatID,
		Text:      formatTelegram(alert),
		ParseMode: "MarkdownV2",
	}
	url := fmt.Sprintf("%s/bot%s/sendMessage", t.baseURL, t.botToken)
	if err := postJSON(ctx, t.client, url, msg); err != nil {
		return fmt.Errorf("telegram: %w", err)
	}
	log.Printf("[telegram] sent %s alert: %s", alert.Level, alert.Title)
	return nil
}

var levelIcon = map[AlertLevel]string{
	AlertInfo:     "ℹ️",
	AlertWarning:  "⚠️",
	AlertCritical: "🚨",
}

// formatTelegram renders an alert as MarkdownV2: bold title, body, and the
// run ID in italics when present.
func formatTelegram(a Alert) string {
	var b strings.Builder
	if icon, ok := levelIcon[a.Level]; ok {
		b.WriteString(icon + " ")
	}
	fmt.Fprintf(&b, "*%s*\n\n%s", escapeMarkdown(a.Title), escapeMarkdown(a.Message))
	if a.RunID != "" {
		fmt.Fprintf(&b, "\n\n_run %s_", escapeMarkdown(a.RunID))
	}
	return b.String()
}

const markdownSpecials = "_*[]()~`>#+-=|{}.!\\"

// escapeMarkdown backslash-escapes the MarkdownV2 reserved characters.
func escapeMarkdown(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if strings.ContainsRune(markdownSpecials, r) {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
