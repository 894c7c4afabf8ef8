package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	notifications "github.com/getdatasurge/fresh-staged-sub013/internal/notifications/domain"
)

// EmailProvider sends mail through a Postmark-compatible API.
type EmailProvider struct {
	baseURL string
	token   string
	from    string
	stream  string
	client  *http.Client
}

// EmailOption configures the provider.
type EmailOption func(*EmailProvider)

// WithEmailHTTPClient overrides the HTTP client.
func WithEmailHTTPClient(client *http.Client) EmailOption {
	return func(p *EmailProvider) {
		if client != nil {
			p.client = client
		}
	}
}

// WithMessageStream selects the provider message stream.
func WithMessageStream(stream string) EmailOption {
	return func(p *EmailProvider) {
		if stream != "" {
			p.stream = stream
		}
	}
}

// NewEmailProvider constructs the provider.
func NewEmailProvider(baseURL, token, from string, opts ...EmailOption) (*EmailProvider, error) {
	if baseURL == "" || token == "" || from == "" {
		return nil, errors.New("email provider: base url, server token and sender are required")
	}
	p := &EmailProvider{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		from:    from,
		stream:  "outbound",
		client:  defaultClient(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Channel implements notifications.Provider.
func (p *EmailProvider) Channel() notifications.Channel { return notifications.ChannelEmail }

type emailRequest struct {
	From          string `json:"From"`
	To            string `json:"To"`
	Subject       string `json:"Subject"`
	TextBody      string `json:"TextBody"`
	MessageStream string `json:"MessageStream"`
}

type emailResponse struct {
	ErrorCode int    `json:"ErrorCode"`
	Message   string `json:"Message"`
	MessageID string `json:"MessageID"`
}

// Send implements notifications.Provider.
func (p *EmailProvider) Send(ctx context.Context, d notifications.Delivery) (string, error) {
	payload, err := json.Marshal(emailRequest{
		From:          p.from,
		To:            d.Recipient,
		Subject:       d.Subject,
		TextBody:      d.Message,
		MessageStream: p.stream,
	})
	if err != nil {
		return "", notifications.Recoverable("encode", err.Error(), err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/email", bytes.NewReader(payload))
	if err != nil {
		return "", notifications.Recoverable("request", err.Error(), err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Postmark-Server-Token", p.token)

	resp, err := p.client.Do(req)
	if err != nil {
		return "", transportError(err)
	}
	defer resp.Body.Close()

	var body emailResponse
	if resp.StatusCode < 300 {
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			return "", nil
		}
		if body.ErrorCode != 0 {
			return "", classifyEmail(resp.StatusCode, body)
		}
		return body.MessageID, nil
	}
	_ = json.Unmarshal(readErrorBody(resp), &body)
	return "", classifyEmail(resp.StatusCode, body)
}

// classifyEmail applies Postmark API error codes before falling back to the HTTP status.
func classifyEmail(status int, body emailResponse) *notifications.DeliveryError {
	message := body.Message
	if message == "" {
		message = http.StatusText(status)
	}
	code := strconv.Itoa(body.ErrorCode)
	switch body.ErrorCode {
	case 406:
		// inactive recipient (hard bounce or spam complaint)
		return notifications.Fatal(code, message, nil)
	case 10, 300, 400, 401, 412:
		// bad token, invalid request, sender signature problems
		return notifications.Recoverable(code, message, nil)
	case 429:
		return notifications.Transient(code, message, nil)
	}
	if status < 300 {
		return notifications.Recoverable(code, message, nil)
	}
	return statusError(status, message)
}
