package auth

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/rs/zerolog"
)

// Middleware validates JWTs and enforces RBAC.
type Middleware struct {
	verifier *Verifier
	policy   Policy
	logger   zerolog.Logger
}

// NewMiddleware constructs an auth middleware.
func NewMiddleware(verifier *Verifier, policy Policy, logger zerolog.Logger) *Middleware {
	return &Middleware{verifier: verifier, policy: policy, logger: logger}
}

// Wrap applies auth and RBAC to the handler.
func (m *Middleware) Wrap(next http.Handler) http.Handler {
	if m == nil || m.verifier == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.policy.IsExempt(r) {
			next.ServeHTTP(w, r)
			return
		}

		required, ok := m.policy.RequiredRole(r)
		if !ok {
			next.ServeHTTP(w, r)
			return
		}

		identity, err := m.verifier.Verify(r.Context(), BearerToken(r))
		if err != nil {
			reason := ReasonOf(err)
			if reason == "" {
				m.logger.Error().Err(err).Msg("token verification failed")
				writeError(w, http.StatusServiceUnavailable, "auth_unavailable")
				return
			}
			writeError(w, http.StatusUnauthorized, string(reason))
			return
		}
		if !RoleAtLeast(identity.Role, required) {
			writeError(w, http.StatusForbidden, "forbidden")
			return
		}
		next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), identity)))
	})
}

// BearerToken reads the Authorization header, falling back to the access_token query parameter.
func BearerToken(r *http.Request) string {
	if r == nil {
		return ""
	}
	header := r.Header.Get("Authorization")
	if header == "" {
		return strings.TrimSpace(r.URL.Query().Get("access_token"))
	}
	parts := strings.Fields(header)
	if len(parts) != 2 {
		return ""
	}
	if !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return parts[1]
}

func writeError(w http.ResponseWriter, status int, reason string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": reason})
}
