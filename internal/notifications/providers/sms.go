package providers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	notifications "github.com/getdatasurge/fresh-staged-sub013/internal/notifications/domain"
)

// SMSProvider sends text messages through a Twilio-compatible Messages API.
type SMSProvider struct {
	baseURL    string
	accountSID string
	authToken  string
	from       string
	client     *http.Client
}

// SMSOption configures the provider.
type SMSOption func(*SMSProvider)

// WithSMSHTTPClient overrides the HTTP client.
func WithSMSHTTPClient(client *http.Client) SMSOption {
	return func(p *SMSProvider) {
		if client != nil {
			p.client = client
		}
	}
}

// NewSMSProvider constructs the provider.
func NewSMSProvider(baseURL, accountSID, authToken, from string, opts ...SMSOption) (*SMSProvider, error) {
	if baseURL == "" || accountSID == "" || authToken == "" || from == "" {
		return nil, errors.New("sms provider: base url, account sid, auth token and sender are required")
	}
	p := &SMSProvider{
		baseURL:    strings.TrimRight(baseURL, "/"),
		accountSID: accountSID,
		authToken:  authToken,
		from:       from,
		client:     defaultClient(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Channel implements notifications.Provider.
func (p *SMSProvider) Channel() notifications.Channel { return notifications.ChannelSMS }

type smsResponse struct {
	SID     string `json:"sid"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Send implements notifications.Provider.
func (p *SMSProvider) Send(ctx context.Context, d notifications.Delivery) (string, error) {
	form := url.Values{}
	form.Set("To", d.Recipient)
	form.Set("From", p.from)
	form.Set("Body", d.Message)
	endpoint := p.baseURL + "/2010-04-01/Accounts/" + url.PathEscape(p.accountSID) + "/Messages.json"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", notifications.Recoverable("request", err.Error(), err)
	}
	req.SetBasicAuth(p.accountSID, p.authToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Idempotency-Key", d.JobID)

	resp, err := p.client.Do(req)
	if err != nil {
		return "", transportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 300 {
		var body smsResponse
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			return "", nil
		}
		return body.SID, nil
	}
	var body smsResponse
	_ = json.Unmarshal(readErrorBody(resp), &body)
	return "", classifySMS(resp.StatusCode, body)
}

// classifySMS applies Twilio error codes before falling back to the HTTP status.
func classifySMS(status int, body smsResponse) *notifications.DeliveryError {
	message := body.Message
	if message == "" {
		message = http.StatusText(status)
	}
	code := strconv.Itoa(body.Code)
	switch body.Code {
	case 21610, 21614:
		// unsubscribed recipient, number cannot receive SMS
		return notifications.Fatal(code, message, nil)
	case 21211, 21408, 21606, 20003:
		// invalid number, region disabled, bad sender, bad credentials
		return notifications.Recoverable(code, message, nil)
	case 20429:
		return notifications.Transient(code, message, nil)
	}
	return statusError(status, message)
}
