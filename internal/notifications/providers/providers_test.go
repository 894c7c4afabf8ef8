package providers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	notifications "github.com/getdatasurge/fresh-staged-sub013/internal/notifications/domain"
)

func delivery(recipient string) notifications.Delivery {
	return notifications.Delivery{JobID: "job-1", Recipient: recipient, Subject: "Cooler warm", Message: "Unit: cooler"}
}

func tierOf(t *testing.T, err error) notifications.Tier {
	t.Helper()
	require.Error(t, err)
	return notifications.Classify(err).Tier
}

func TestSMSProviderSendsForm(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/2010-04-01/Accounts/AC123/Messages.json", r.URL.Path)
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "AC123", user)
		assert.Equal(t, "secret", pass)
		body, _ := io.ReadAll(r.Body)
		form, err := url.ParseQuery(string(body))
		assert.NoError(t, err)
		assert.Equal(t, "+15550001", form.Get("To"))
		assert.Equal(t, "+15559999", form.Get("From"))
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"sid":"SM1"}`))
	}))
	defer server.Close()

	p, err := NewSMSProvider(server.URL, "AC123", "secret", "+15559999")
	require.NoError(t, err)
	ref, err := p.Send(context.Background(), delivery("+15550001"))
	require.NoError(t, err)
	assert.Equal(t, "SM1", ref)
}

func TestSMSProviderClassifiesErrors(t *testing.T) {
	cases := []struct {
		status int
		body   string
		tier   notifications.Tier
	}{
		{http.StatusBadRequest, `{"code":21610,"message":"unsubscribed"}`, notifications.TierFatal},
		{http.StatusBadRequest, `{"code":21211,"message":"invalid To"}`, notifications.TierRecoverable},
		{http.StatusTooManyRequests, `{"code":20429}`, notifications.TierTransient},
		{http.StatusServiceUnavailable, ``, notifications.TierTransient},
		{http.StatusUnauthorized, `{"code":20003}`, notifications.TierRecoverable},
	}
	for _, tc := range cases {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(tc.status)
			_, _ = w.Write([]byte(tc.body))
		}))
		p, err := NewSMSProvider(server.URL, "AC123", "secret", "+15559999")
		require.NoError(t, err)
		_, err = p.Send(context.Background(), delivery("+15550001"))
		assert.Equal(t, tc.tier, tierOf(t, err), "status %d body %s", tc.status, tc.body)
		server.Close()
	}
}

func TestSMSProviderTimeoutIsTransient(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	p, err := NewSMSProvider(server.URL, "AC123", "secret", "+15559999")
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err = p.Send(ctx, delivery("+15550001"))
	derr := notifications.Classify(err)
	assert.Equal(t, notifications.TierTransient, derr.Tier)
	assert.Equal(t, "timeout", derr.Code)
}

func TestEmailProvider(t *testing.T) {
	var got emailRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/email", r.URL.Path)
		assert.Equal(t, "token", r.Header.Get("X-Postmark-Server-Token"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		if got.To == "bounced@example.com" {
			w.WriteHeader(http.StatusUnprocessableEntity)
			_, _ = w.Write([]byte(`{"ErrorCode":406,"Message":"inactive recipient"}`))
			return
		}
		_, _ = w.Write([]byte(`{"ErrorCode":0,"MessageID":"msg-1"}`))
	}))
	defer server.Close()

	p, err := NewEmailProvider(server.URL, "token", "alerts@example.com")
	require.NoError(t, err)
	ref, err := p.Send(context.Background(), delivery("ops@example.com"))
	require.NoError(t, err)
	assert.Equal(t, "msg-1", ref)
	assert.Equal(t, "Cooler warm", got.Subject)
	assert.Equal(t, "outbound", got.MessageStream)

	_, err = p.Send(context.Background(), delivery("bounced@example.com"))
	assert.Equal(t, notifications.TierFatal, tierOf(t, err))
}

func TestWebhookProvider(t *testing.T) {
	payloads := make(chan webhookPayload, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/gone" {
			w.WriteHeader(http.StatusGone)
			return
		}
		var payload webhookPayload
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		payloads <- payload
	}))
	defer server.Close()

	p := NewWebhookProvider()
	_, err := p.Send(context.Background(), delivery(server.URL+"/hook"))
	require.NoError(t, err)
	payload := <-payloads
	assert.Equal(t, "text", payload.MsgType)
	assert.Equal(t, "Unit: cooler", payload.Text.Content)
	assert.Equal(t, "job-1", payload.JobID)

	_, err = p.Send(context.Background(), delivery(server.URL+"/gone"))
	assert.Equal(t, notifications.TierFatal, tierOf(t, err))

	_, err = p.Send(context.Background(), delivery("not a url"))
	assert.Equal(t, notifications.TierRecoverable, tierOf(t, err))
}

func TestProviderConstructorsRequireCredentials(t *testing.T) {
	_, err := NewSMSProvider("https://api.twilio.com", "", "secret", "+1")
	assert.Error(t, err)
	_, err = NewEmailProvider("https://api.postmarkapp.com", "", "a@example.com")
	assert.Error(t, err)
}
