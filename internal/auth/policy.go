package auth

import (
	"net/http"
	"strings"
)

// RouteRule grants access to requests whose path starts with Prefix.
// An empty Methods list matches every method.
type RouteRule struct {
	Prefix  string
	Methods []string
	Role    Role
}

func (rule RouteRule) matches(r *http.Request) bool {
	path := strings.TrimSuffix(r.URL.Path, "/")
	prefix := strings.TrimSuffix(rule.Prefix, "/")
	if path != prefix && !strings.HasPrefix(path, prefix+"/") {
		return false
	}
	if len(rule.Methods) == 0 {
		return true
	}
	for _, method := range rule.Methods {
		if r.Method == method {
			return true
		}
	}
	return false
}

// Policy maps requests to the minimum role they need. Rules are checked in order.
type Policy struct {
	exempt   map[string]bool
	prefixes []string
	rules    []RouteRule
}

var readMethods = []string{http.MethodGet, http.MethodHead, http.MethodOptions}

// DefaultRules protects the alert and notification API.
func DefaultRules() []RouteRule {
	return []RouteRule{
		{Prefix: "/api/v1/notifications", Role: RoleAdmin},
		{Prefix: "/api/v1/alerts", Methods: readMethods, Role: RoleViewer},
		{Prefix: "/api/v1/alerts", Role: RoleOperator},
		{Prefix: "/api", Methods: readMethods, Role: RoleViewer},
		{Prefix: "/api", Role: RoleOperator},
	}
}

// NewDefaultPolicy builds a policy from DefaultRules. exemptPaths match exactly and
// exemptPrefixes by prefix; both skip authentication entirely.
func NewDefaultPolicy(exemptPaths []string, exemptPrefixes []string) Policy {
	exempt := make(map[string]bool, len(exemptPaths))
	for _, path := range exemptPaths {
		exempt[path] = true
	}
	return Policy{exempt: exempt, prefixes: exemptPrefixes, rules: DefaultRules()}
}

// IsExempt reports whether r bypasses authentication.
func (p Policy) IsExempt(r *http.Request) bool {
	if r == nil || p.exempt[r.URL.Path] {
		return true
	}
	for _, prefix := range p.prefixes {
		if strings.HasPrefix(r.URL.Path, prefix) {
			return true
		}
	}
	return false
}

// RequiredRole returns the role r needs; ok is false for unprotected paths.
func (p Policy) RequiredRole(r *http.Request) (Role, bool) {
	if r == nil {
		return "", false
	}
	for _, rule := range p.rules {
		if rule.matches(r) {
			return rule.Role, true
		}
	}
	return "", false
}
