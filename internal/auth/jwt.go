package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims represents JWT claims used by this service.
type Claims struct {
	OrganizationID string `json:"org_id"`
	Role           string `json:"role"`
	jwt.RegisteredClaims
}

// ParseJWT validates a JWT and returns claims. Failures are *TokenError.
func ParseJWT(tokenString string, secret []byte) (*Claims, error) {
	if tokenString == "" {
		return nil, tokenError(ReasonMissing, nil)
	}
	if len(secret) == 0 {
		return nil, errors.New("auth: empty secret")
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	)
	claims := &Claims{}
	token, err := parser.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("auth: invalid signing method")
		}
		return secret, nil
	})
	if err != nil {
		return nil, classify(err)
	}
	if !token.Valid {
		return nil, tokenError(ReasonInvalidSignature, nil)
	}
	if claims.OrganizationID == "" {
		return nil, tokenError(ReasonInvalidClaims, errors.New("missing org_id"))
	}
	if claims.Subject == "" {
		return nil, tokenError(ReasonInvalidClaims, errors.New("missing sub"))
	}
	if _, ok := NormalizeRole(claims.Role); !ok {
		return nil, tokenError(ReasonInvalidClaims, errors.New("invalid role"))
	}
	return claims, nil
}

// SignJWT issues an HS256 token for the identity.
func SignJWT(identity Identity, secret []byte, ttl time.Duration, now time.Time) (string, error) {
	if len(secret) == 0 {
		return "", errors.New("auth: empty secret")
	}
	claims := Claims{
		OrganizationID: identity.OrganizationID,
		Role:           string(identity.Role),
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        identity.TokenID,
			Subject:   identity.Subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

// Identity converts validated claims.
func (c *Claims) Identity() Identity {
	role, _ := NormalizeRole(c.Role)
	return Identity{
		OrganizationID: c.OrganizationID,
		Subject:        c.Subject,
		Role:           role,
		TokenID:        c.ID,
	}
}

func classify(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return tokenError(ReasonExpired, err)
	case errors.Is(err, jwt.ErrTokenMalformed):
		return tokenError(ReasonMalformed, err)
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return tokenError(ReasonInvalidSignature, err)
	case errors.Is(err, jwt.ErrTokenNotValidYet), errors.Is(err, jwt.ErrTokenUsedBeforeIssued), errors.Is(err, jwt.ErrTokenInvalidClaims):
		return tokenError(ReasonInvalidClaims, err)
	default:
		return tokenError(ReasonMalformed, err)
	}
}
