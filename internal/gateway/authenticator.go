package gateway

import (
	"context"
	"errors"

	"github.com/getdatasurge/fresh-staged-sub013/internal/auth"
	"github.com/getdatasurge/fresh-staged-sub013/internal/observability/metrics"
)

// TokenVerifier validates bearer tokens.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (auth.Identity, error)
}

// Authenticator validates connect-time credentials.
type Authenticator struct {
	verifier    TokenVerifier
	revocations auth.RevocationChecker
}

// NewAuthenticator constructs an authenticator. revocations may be nil.
func NewAuthenticator(verifier TokenVerifier, revocations auth.RevocationChecker) (*Authenticator, error) {
	if verifier == nil {
		return nil, errors.New("gateway: nil token verifier")
	}
	return &Authenticator{verifier: verifier, revocations: revocations}, nil
}

// Authenticate returns the identity or an *AuthRejectedError.
// Infrastructure failures (revocation store down) are returned unwrapped.
func (a *Authenticator) Authenticate(ctx context.Context, token string) (auth.Identity, error) {
	identity, err := a.verifier.Verify(ctx, token)
	if err != nil {
		reason := auth.ReasonOf(err)
		if reason == "" {
			return auth.Identity{}, err
		}
		metrics.IncGatewayAuthRejected(string(reason))
		return auth.Identity{}, &AuthRejectedError{Reason: reason, Err: err}
	}
	return identity, nil
}

// Revoked re-checks a live connection's identity.
func (a *Authenticator) Revoked(ctx context.Context, identity auth.Identity) (bool, error) {
	if a.revocations == nil {
		return false, nil
	}
	return a.revocations.IsRevoked(ctx, identity)
}
