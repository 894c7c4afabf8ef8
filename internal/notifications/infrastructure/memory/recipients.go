package memory

import (
	"context"
	"sort"
	"sync"

	notifications "github.com/getdatasurge/fresh-staged-sub013/internal/notifications/domain"
)

// StaticDirectory serves a fixed recipient list, typically loaded from configuration.
type StaticDirectory struct {
	byOrg map[string][]notifications.Recipient
}

// NewStaticDirectory indexes recipients by organization.
func NewStaticDirectory(recipients []notifications.Recipient) *StaticDirectory {
	byOrg := make(map[string][]notifications.Recipient)
	for _, r := range recipients {
		byOrg[r.OrganizationID] = append(byOrg[r.OrganizationID], r)
	}
	return &StaticDirectory{byOrg: byOrg}
}

// ListRecipients implements notifications.RecipientDirectory.
func (d *StaticDirectory) ListRecipients(_ context.Context, organizationID string) ([]notifications.Recipient, error) {
	return append([]notifications.Recipient(nil), d.byOrg[organizationID]...), nil
}

// Suppressions is an in-process notifications.SuppressionStore.
type Suppressions struct {
	mu      sync.RWMutex
	entries map[string]notifications.Suppression
}

// NewSuppressions constructs an empty store.
func NewSuppressions() *Suppressions {
	return &Suppressions{entries: make(map[string]notifications.Suppression)}
}

func suppressionKey(channel notifications.Channel, address string) string {
	return string(channel) + "/" + notifications.NormalizeAddress(address)
}

// IsSuppressed implements notifications.SuppressionStore.
func (s *Suppressions) IsSuppressed(_ context.Context, channel notifications.Channel, address string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.entries[suppressionKey(channel, address)]
	return ok, nil
}

// Suppress implements notifications.SuppressionStore.
func (s *Suppressions) Suppress(_ context.Context, entry notifications.Suppression) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry.Address = notifications.NormalizeAddress(entry.Address)
	s.entries[suppressionKey(entry.Channel, entry.Address)] = entry
	return nil
}

// Lift implements notifications.SuppressionStore.
func (s *Suppressions) Lift(_ context.Context, channel notifications.Channel, address string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := suppressionKey(channel, address)
	_, ok := s.entries[key]
	delete(s.entries, key)
	return ok, nil
}

// ListSuppressions implements notifications.SuppressionStore.
func (s *Suppressions) ListSuppressions(_ context.Context) ([]notifications.Suppression, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]notifications.Suppression, 0, len(s.entries))
	for _, entry := range s.entries {
		out = append(out, entry)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}
