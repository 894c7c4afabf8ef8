package audit

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryLoggerFillsRequestMeta(t *testing.T) {
	logger := NewMemoryLogger()
	handler := Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, logger.Log(r.Context(), Entry{
			OrganizationID: "org-a",
			Actor:          "user-1",
			Action:         ActionAlertAcknowledge,
			Metadata:       Metadata(map[string]string{"note": "door shut"}),
		}))
	}))
	req := httptest.NewRequest(http.MethodPost, "/api/v1/alerts/a/acknowledge", nil)
	req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	req.Header.Set("User-Agent", "dashboard")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	entries := logger.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, "203.0.113.7", entries[0].IP)
	assert.Equal(t, "dashboard", entries[0].UserAgent)
	assert.NotEmpty(t, entries[0].ID)
	assert.NotEmpty(t, entries[0].PayloadDigest)
	assert.False(t, entries[0].CreatedAt.IsZero())
}

func TestClientIPFallsBackToRemoteAddr(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.1:5555"
	assert.Equal(t, "192.0.2.1", ClientIP(req))
	assert.Empty(t, ClientIP(nil))
}
