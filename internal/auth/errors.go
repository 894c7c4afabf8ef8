package auth

import (
	"errors"
	"fmt"
)

var (
	ErrUnauthorized = errors.New("auth: unauthorized")
	ErrForbidden    = errors.New("auth: forbidden")
	// ErrTenantMismatch indicates the resource belongs to a different organization.
	ErrTenantMismatch = errors.New("auth: tenant mismatch")
	// ErrNotFound indicates the resource does not exist.
	ErrNotFound = errors.New("auth: resource not found")
)

// TokenReason classifies why a bearer token was rejected.
type TokenReason string

const (
	ReasonMissing          TokenReason = "missing"
	ReasonMalformed        TokenReason = "malformed"
	ReasonExpired          TokenReason = "expired"
	ReasonRevoked          TokenReason = "revoked"
	ReasonInvalidSignature TokenReason = "invalid_signature"
	ReasonInvalidClaims    TokenReason = "invalid_claims"
)

// TokenError is returned for every rejected token.
type TokenError struct {
	Reason TokenReason
	Err    error
}

func (e *TokenError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("auth: token rejected: %s", e.Reason)
	}
	return fmt.Sprintf("auth: token rejected: %s: %v", e.Reason, e.Err)
}

func (e *TokenError) Unwrap() error { return e.Err }

// ReasonOf returns the rejection reason carried by err, or "".
func ReasonOf(err error) TokenReason {
	var tokenErr *TokenError
	if errors.As(err, &tokenErr) {
		return tokenErr.Reason
	}
	return ""
}

func tokenError(reason TokenReason, err error) error {
	return &TokenError{Reason: reason, Err: err}
}
