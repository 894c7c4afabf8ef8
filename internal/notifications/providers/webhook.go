package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strings"

	notifications "github.com/getdatasurge/fresh-staged-sub013/internal/notifications/domain"
)

type webhookPayload struct {
	MsgType string      `json:"msgtype"`
	Text    webhookText `json:"text"`
	Subject string      `json:"subject,omitempty"`
	JobID   string      `json:"job_id"`
}

type webhookText struct {
	Content string `json:"content"`
}

// WebhookProvider posts notifications to the recipient URL.
type WebhookProvider struct {
	client *http.Client
}

// WebhookOption configures the webhook provider.
type WebhookOption func(*WebhookProvider)

// WithWebhookHTTPClient overrides the HTTP client.
func WithWebhookHTTPClient(client *http.Client) WebhookOption {
	return func(p *WebhookProvider) {
		if client != nil {
			p.client = client
		}
	}
}

// NewWebhookProvider constructs a webhook provider.
func NewWebhookProvider(opts ...WebhookOption) *WebhookProvider {
	p := &WebhookProvider{client: defaultClient()}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Channel implements notifications.Provider.
func (p *WebhookProvider) Channel() notifications.Channel { return notifications.ChannelWebhook }

// Send posts a DingTalk/WeCom-compatible text payload to the recipient URL.
func (p *WebhookProvider) Send(ctx context.Context, d notifications.Delivery) (string, error) {
	if !strings.HasPrefix(d.Recipient, "http://") && !strings.HasPrefix(d.Recipient, "https://") {
		return "", notifications.Recoverable("invalid_url", "webhook recipient is not an http(s) url", nil)
	}
	body, err := json.Marshal(webhookPayload{
		MsgType: "text",
		Text:    webhookText{Content: d.Message},
		Subject: d.Subject,
		JobID:   d.JobID,
	})
	if err != nil {
		return "", notifications.Recoverable("encode", err.Error(), err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.Recipient, bytes.NewReader(body))
	if err != nil {
		return "", notifications.Recoverable("request", err.Error(), err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := p.client.Do(req)
	if err != nil {
		return "", transportError(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return "", statusError(resp.StatusCode, strings.TrimSpace(string(readErrorBody(resp))))
	}
	return resp.Header.Get("X-Request-Id"), nil
}
