package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPolicyRequiredRoles(t *testing.T) {
	policy := NewDefaultPolicy([]string{"/healthz", "/metrics"}, []string{"/ingest/", "/api/v1/live"})

	cases := []struct {
		method, path string
		exempt       bool
		role         Role
		protected    bool
	}{
		{http.MethodGet, "/healthz", true, "", false},
		{http.MethodPost, "/ingest/readings", true, "", false},
		{http.MethodGet, "/api/v1/live/stream", true, "", false},
		{http.MethodGet, "/api/v1/alerts", false, RoleViewer, true},
		{http.MethodGet, "/api/v1/alerts/a-1/incident.pdf", false, RoleViewer, true},
		{http.MethodPost, "/api/v1/alerts/a-1/resolve", false, RoleOperator, true},
		{http.MethodGet, "/api/v1/notifications/jobs", false, RoleAdmin, true},
		{http.MethodDelete, "/api/v1/notifications/suppressions", false, RoleAdmin, true},
		{http.MethodGet, "/api/v1/alertsx", false, RoleViewer, true},
		{http.MethodGet, "/other", false, "", false},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(tc.method, tc.path, nil)
		assert.Equal(t, tc.exempt, policy.IsExempt(req), tc.path)
		if tc.exempt {
			continue
		}
		role, ok := policy.RequiredRole(req)
		assert.Equal(t, tc.protected, ok, tc.path)
		assert.Equal(t, tc.role, role, tc.path)
	}
}
