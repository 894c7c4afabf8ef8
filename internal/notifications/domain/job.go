package notifications

import (
	"errors"
	"strings"
	"time"

	alerts "github.com/getdatasurge/fresh-staged-sub013/internal/alerts/domain"
)

// Channel is a delivery medium.
type Channel string

const (
	ChannelSMS     Channel = "sms"
	ChannelEmail   Channel = "email"
	ChannelWebhook Channel = "webhook"
)

// ParseChannel normalizes a channel name.
func ParseChannel(value string) (Channel, bool) {
	switch Channel(strings.ToLower(strings.TrimSpace(value))) {
	case ChannelSMS:
		return ChannelSMS, true
	case ChannelEmail:
		return ChannelEmail, true
	case ChannelWebhook:
		return ChannelWebhook, true
	default:
		return "", false
	}
}

// Kind distinguishes transition notices from escalation reminders.
type Kind string

const (
	KindTransition Kind = "transition"
	KindReminder   Kind = "reminder"
)

// JobStatus is the delivery state of a job.
type JobStatus string

const (
	StatusPending    JobStatus = "pending"
	StatusDelivering JobStatus = "delivering"
	StatusRetrying   JobStatus = "retrying"
	StatusDelivered  JobStatus = "delivered"
	StatusHeld       JobStatus = "held"
	StatusFailed     JobStatus = "failed"
	StatusSuppressed JobStatus = "suppressed"
)

// Valid reports whether s is a known status.
func (s JobStatus) Valid() bool {
	switch s {
	case StatusPending, StatusDelivering, StatusRetrying, StatusDelivered, StatusHeld, StatusFailed, StatusSuppressed:
		return true
	default:
		return false
	}
}

// Terminal reports whether the job will never be attempted again without operator action.
func (s JobStatus) Terminal() bool {
	switch s {
	case StatusDelivered, StatusFailed, StatusSuppressed:
		return true
	default:
		return false
	}
}

// Job is one outbound message to one recipient over one channel.
type Job struct {
	ID             string
	Seq            int64
	OrganizationID string
	AlertID        string
	UnitID         string
	RuleID         string
	Transition     alerts.EventType
	Kind           Kind
	Channel        Channel
	Recipient      string
	Subject        string
	Message        string
	DedupKey       string
	OrderingKey    string
	Status         JobStatus
	AttemptCount   int
	LastError      string
	LastErrorTier  Tier
	ProviderRef    string
	NextAttemptAt  time.Time
	LeaseUntil     time.Time
	DeliveredAt    time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Validate checks job invariants before enqueue.
func (j Job) Validate() error {
	switch {
	case j.ID == "":
		return errors.New("notification job: empty id")
	case j.AlertID == "":
		return errors.New("notification job: empty alert id")
	case j.Recipient == "":
		return errors.New("notification job: empty recipient")
	case j.DedupKey == "":
		return errors.New("notification job: empty dedup key")
	case j.OrderingKey == "":
		return errors.New("notification job: empty ordering key")
	}
	if _, ok := ParseChannel(string(j.Channel)); !ok {
		return errors.New("notification job: unknown channel")
	}
	return nil
}

// DedupKey identifies a notification so redelivered events never enqueue it twice.
func DedupKey(alertID string, transition string, channel Channel, recipient string) string {
	return alertID + ":" + transition + ":" + string(channel) + ":" + strings.ToLower(recipient)
}

// OrderingKey groups jobs that must be delivered in creation order.
func OrderingKey(unitID, ruleID string, kind Kind) string {
	key := unitID + "|" + ruleID
	if kind == KindReminder {
		return key + "|reminder"
	}
	return key
}

// JobFilter narrows job listings.
type JobFilter struct {
	OrganizationID string
	AlertID        string
	Statuses       []JobStatus
	Limit          int
}
