package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Actions recorded for human alert handling.
const (
	ActionAlertAcknowledge = "alert.acknowledge"
	ActionAlertResolve     = "alert.resolve"
	ActionJobRetry         = "notification_job.retry"
	ActionRecipientEnable  = "notification_recipient.enable"
)

// Entry represents an audit log entry.
type Entry struct {
	ID             string
	OrganizationID string
	Actor          string
	Role           string
	Action         string
	ResourceType   string
	ResourceID     string
	SiteID         string
	Metadata       json.RawMessage
	PayloadDigest  string
	IP             string
	UserAgent      string
	CreatedAt      time.Time
}

// Logger writes audit entries.
type Logger interface {
	Log(ctx context.Context, entry Entry) error
}

// NewID generates a random audit id.
func NewID() string {
	return "audit-" + uuid.NewString()
}

// DigestJSON computes a SHA256 hex digest for metadata payloads.
func DigestJSON(data []byte) string {
	if len(data) == 0 {
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Metadata marshals v, returning nil on failure.
func Metadata(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return data
}

func normalize(entry Entry) Entry {
	if entry.ID == "" {
		entry.ID = NewID()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	if entry.PayloadDigest == "" {
		entry.PayloadDigest = DigestJSON(entry.Metadata)
	}
	return entry
}
