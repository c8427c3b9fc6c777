package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/engels74/comradarr-sub004/internal/model"
)

// SendResult is the outcome of one channel send attempt (spec §4.8 Channel
// senders contract: "send(channel, sensitiveConfig, payload) ->
// {success, error?, durationMs}").
type SendResult struct {
	Success    bool
	Error      string
	DurationMs int64
}

// Sender is the interface every channel type implements. Sensitive fields
// (webhook URLs, bot tokens) are decrypted just-in-time by the caller and
// passed in as sensitiveConfig, never cached on the Sender itself.
type Sender interface {
	Send(ctx context.Context, channel model.NotificationChannel, sensitiveConfig map[string]string, payload Payload) SendResult
}

// Factory resolves a Sender by channel type, caching instances the same
// way the teacher's NewFCMSender is constructed once and reused (spec §9
// "Dynamic dispatch across channel senders... a factory keyed by type; the
// factory caches instances").
type Factory struct {
	httpClient *http.Client
	senders    map[model.NotificationChannelType]Sender
}

// NewFactory constructs a Factory with one Sender instance per channel type.
func NewFactory(httpClient *http.Client) *Factory {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	f := &Factory{httpClient: httpClient, senders: make(map[model.NotificationChannelType]Sender)}
	f.senders[model.ChannelDiscord] = &webhookSender{httpClient: httpClient, envelope: discordEnvelope}
	f.senders[model.ChannelSlack] = &webhookSender{httpClient: httpClient, envelope: slackEnvelope}
	f.senders[model.ChannelTelegram] = &telegramSender{httpClient: httpClient}
	f.senders[model.ChannelWebhook] = &webhookSender{httpClient: httpClient, envelope: rawEnvelope, signed: true}
	f.senders[model.ChannelEmail] = &emailSender{}
	return f
}

// For resolves the Sender for a channel type.
func (f *Factory) For(t model.NotificationChannelType) (Sender, bool) {
	s, ok := f.senders[t]
	return s, ok
}

// webhookSender posts a JSON envelope to a configured URL, optionally
// HMAC-signing the body when the channel config carries a signing secret
// (spec §6 "sign outgoing webhooks if configured (HMAC)").
type webhookSender struct {
	httpClient *http.Client
	envelope   func(Payload) map[string]any
	signed     bool
}

func (s *webhookSender) Send(ctx context.Context, channel model.NotificationChannel, sensitiveConfig map[string]string, payload Payload) SendResult {
	start := time.Now()
	url := sensitiveConfig["url"]
	if url == "" {
		return SendResult{Success: false, Error: "missing webhook url", DurationMs: sinceMs(start)}
	}

	body, err := json.Marshal(s.envelope(payload))
	if err != nil {
		return SendResult{Success: false, Error: err.Error(), DurationMs: sinceMs(start)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return SendResult{Success: false, Error: err.Error(), DurationMs: sinceMs(start)}
	}
	req.Header.Set("Content-Type", "application/json")
	if s.signed {
		if secret := sensitiveConfig["signingSecret"]; secret != "" {
			req.Header.Set("X-Signature", signHMAC(secret, body))
		}
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return SendResult{Success: false, Error: err.Error(), DurationMs: sinceMs(start)}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return SendResult{Success: false, Error: fmt.Sprintf("webhook status %d", resp.StatusCode), DurationMs: sinceMs(start)}
	}
	return SendResult{Success: true, DurationMs: sinceMs(start)}
}

// telegramSender posts to the Telegram bot API sendMessage endpoint.
type telegramSender struct {
	httpClient *http.Client
}

func (s *telegramSender) Send(ctx context.Context, channel model.NotificationChannel, sensitiveConfig map[string]string, payload Payload) SendResult {
	start := time.Now()
	token := sensitiveConfig["botToken"]
	chatID := sensitiveConfig["chatId"]
	if token == "" || chatID == "" {
		return SendResult{Success: false, Error: "missing botToken/chatId", DurationMs: sinceMs(start)}
	}

	text := payload.Title + "\n" + payload.Message
	body, _ := json.Marshal(map[string]string{"chat_id": chatID, "text": text})
	url := fmt.Sprintf("https://api.telegram.org/bot%s/sendMessage", token)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return SendResult{Success: false, Error: err.Error(), DurationMs: sinceMs(start)}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return SendResult{Success: false, Error: err.Error(), DurationMs: sinceMs(start)}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return SendResult{Success: false, Error: fmt.Sprintf("telegram status %d", resp.StatusCode), DurationMs: sinceMs(start)}
	}
	return SendResult{Success: true, DurationMs: sinceMs(start)}
}

// emailSender is a structured placeholder: no SMTP library is wired (none
// of the example pack's retrieved repos import one), so this reports
// failure rather than silently pretending to send,
// matching the teacher's own FCMSender placeholder shape for an
// unintegrated channel.
type emailSender struct{}

func (s *emailSender) Send(ctx context.Context, channel model.NotificationChannel, sensitiveConfig map[string]string, payload Payload) SendResult {
	return SendResult{Success: false, Error: "email sender not configured", DurationMs: 0}
}

func discordEnvelope(p Payload) map[string]any {
	embed := map[string]any{"title": p.Title, "description": p.Message}
	if p.Color != "" {
		embed["color"] = p.Color
	}
	if len(p.Fields) > 0 {
		fields := make([]map[string]any, 0, len(p.Fields))
		for _, f := range p.Fields {
			fields = append(fields, map[string]any{"name": f.Name, "value": f.Value, "inline": f.Inline})
		}
		embed["fields"] = fields
	}
	return map[string]any{"embeds": []map[string]any{embed}}
}

func slackEnvelope(p Payload) map[string]any {
	return map[string]any{"text": fmt.Sprintf("*%s*\n%s", p.Title, p.Message)}
}

func rawEnvelope(p Payload) map[string]any {
	fields := make([]map[string]any, 0, len(p.Fields))
	for _, f := range p.Fields {
		fields = append(fields, map[string]any{"name": f.Name, "value": f.Value, "inline": f.Inline})
	}
	return map[string]any{
		"title":     p.Title,
		"message":   p.Message,
		"fields":    fields,
		"color":     p.Color,
		"timestamp": p.Timestamp,
	}
}

func signHMAC(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func sinceMs(start time.Time) int64 {
	return time.Since(start).Milliseconds()
}
