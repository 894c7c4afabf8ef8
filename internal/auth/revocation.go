package auth

import (
	"context"
	"sync"
	"time"
)

// RevocationChecker reports whether a token or its subject has been revoked.
type RevocationChecker interface {
	IsRevoked(ctx context.Context, identity Identity) (bool, error)
}

// MemoryRevocations is a process-local revocation list.
type MemoryRevocations struct {
	mu       sync.RWMutex
	tokens   map[string]time.Time
	subjects map[string]time.Time
}

// NewMemoryRevocations constructs an empty list.
func NewMemoryRevocations() *MemoryRevocations {
	return &MemoryRevocations{
		tokens:   make(map[string]time.Time),
		subjects: make(map[string]time.Time),
	}
}

// RevokeToken revokes a single token id.
func (m *MemoryRevocations) RevokeToken(tokenID string, at time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens[tokenID] = at
}

// RevokeSubject revokes every session of a subject.
func (m *MemoryRevocations) RevokeSubject(subject string, at time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subjects[subject] = at
}

// IsRevoked implements RevocationChecker.
func (m *MemoryRevocations) IsRevoked(_ context.Context, identity Identity) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if identity.TokenID != "" {
		if _, ok := m.tokens[identity.TokenID]; ok {
			return true, nil
		}
	}
	_, ok := m.subjects[identity.Subject]
	return ok, nil
}
