package auth

import (
	"context"
	"errors"
	"fmt"
)

// Verifier validates bearer tokens and consults revocations.
type Verifier struct {
	secret      []byte
	revocations RevocationChecker
}

// NewVerifier constructs a verifier. revocations may be nil.
func NewVerifier(secret []byte, revocations RevocationChecker) (*Verifier, error) {
	if len(secret) == 0 {
		return nil, errors.New("auth: empty secret")
	}
	return &Verifier{secret: secret, revocations: revocations}, nil
}

// Verify returns the identity for a token or a *TokenError.
func (v *Verifier) Verify(ctx context.Context, token string) (Identity, error) {
	claims, err := ParseJWT(token, v.secret)
	if err != nil {
		return Identity{}, err
	}
	identity := claims.Identity()
	if v.revocations != nil {
		revoked, err := v.revocations.IsRevoked(ctx, identity)
		if err != nil {
			return Identity{}, fmt.Errorf("auth: revocation lookup: %w", err)
		}
		if revoked {
			return Identity{}, tokenError(ReasonRevoked, nil)
		}
	}
	return identity, nil
}
