package notifications

import (
	"context"
	"strings"
	"time"

	alerts "github.com/getdatasurge/fresh-staged-sub013/internal/alerts/domain"
)

// Recipient is an address subscribed to an organization's alerts.
type Recipient struct {
	ID             string
	OrganizationID string
	// SiteID limits the recipient to one site; empty means every site.
	SiteID      string
	Channel     Channel
	Address     string
	MinSeverity alerts.Severity
}

// Matches reports whether the recipient wants notices for the alert.
func (r Recipient) Matches(siteID string, severity alerts.Severity) bool {
	if r.SiteID != "" && siteID != "" && r.SiteID != siteID {
		return false
	}
	if r.MinSeverity == "" {
		return true
	}
	return severity.AtLeast(r.MinSeverity)
}

// RecipientDirectory lists the recipients of an organization.
type RecipientDirectory interface {
	ListRecipients(ctx context.Context, organizationID string) ([]Recipient, error)
}

// Suppression blocks an address after a fatal delivery failure.
type Suppression struct {
	Channel   Channel
	Address   string
	Reason    string
	CreatedAt time.Time
}

// SuppressionStore records addresses that must not be contacted.
type SuppressionStore interface {
	IsSuppressed(ctx context.Context, channel Channel, address string) (bool, error)
	Suppress(ctx context.Context, s Suppression) error
	Lift(ctx context.Context, channel Channel, address string) (bool, error)
	ListSuppressions(ctx context.Context) ([]Suppression, error)
}

// NormalizeAddress canonicalizes an address for suppression lookups.
func NormalizeAddress(address string) string {
	return strings.ToLower(strings.TrimSpace(address))
}
