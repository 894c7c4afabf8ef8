package auth

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	// HeaderIngestTimestamp carries the unix seconds the sensor gateway signed.
	HeaderIngestTimestamp = "X-Ingest-Timestamp"
	// HeaderIngestSignature carries hex(hmac_sha256(secret, timestamp + "\n" + body)).
	HeaderIngestSignature = "X-Ingest-Signature"

	maxIngestBody = 1 << 20
)

// IngestAuthMiddleware validates signatures from sensor gateways.
type IngestAuthMiddleware struct {
	secret  []byte
	maxSkew time.Duration
	now     func() time.Time
}

// NewIngestAuthMiddleware constructs ingest auth middleware.
func NewIngestAuthMiddleware(secret []byte, maxSkew time.Duration) *IngestAuthMiddleware {
	return &IngestAuthMiddleware{secret: secret, maxSkew: maxSkew, now: time.Now}
}

// Wrap enforces ingest signature validation.
func (m *IngestAuthMiddleware) Wrap(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(m.secret) == 0 {
			writeError(w, http.StatusUnauthorized, "ingest_auth_not_configured")
			return
		}
		timestamp := strings.TrimSpace(r.Header.Get(HeaderIngestTimestamp))
		signature := strings.TrimSpace(r.Header.Get(HeaderIngestSignature))
		if timestamp == "" || signature == "" {
			writeError(w, http.StatusUnauthorized, "missing_signature")
			return
		}
		ts, err := strconv.ParseInt(timestamp, 10, 64)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid_timestamp")
			return
		}
		skew := m.now().Sub(time.Unix(ts, 0))
		if skew < 0 {
			skew = -skew
		}
		if m.maxSkew > 0 && skew > m.maxSkew {
			writeError(w, http.StatusUnauthorized, "signature_expired")
			return
		}

		body, err := io.ReadAll(io.LimitReader(r.Body, maxIngestBody))
		if err != nil {
			writeError(w, http.StatusBadRequest, "read_body")
			return
		}
		_ = r.Body.Close()

		expected := SignIngest(m.secret, timestamp, body)
		if !hmac.Equal([]byte(strings.ToLower(signature)), []byte(expected)) {
			writeError(w, http.StatusUnauthorized, "invalid_signature")
			return
		}

		r.Body = io.NopCloser(bytes.NewReader(body))
		next.ServeHTTP(w, r)
	})
}

// SignIngest computes the signature a gateway must send.
func SignIngest(secret []byte, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	_, _ = mac.Write([]byte(timestamp))
	_, _ = mac.Write([]byte("\n"))
	_, _ = mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
