package auth

import "strings"

// Role represents a user role.
type Role string

const (
	// RoleViewer reads dashboards and alerts.
	RoleViewer Role = "viewer"
	// RoleOperator handles alerts: acknowledge and resolve.
	RoleOperator Role = "operator"
	// RoleAdmin manages notification operations.
	RoleAdmin Role = "admin"
)

// NormalizeRole validates and normalizes a role string.
func NormalizeRole(value string) (Role, bool) {
	role := Role(strings.ToLower(strings.TrimSpace(value)))
	switch role {
	case RoleViewer, RoleOperator, RoleAdmin:
		return role, true
	default:
		return "", false
	}
}

// RoleAtLeast returns true when role satisfies required role.
func RoleAtLeast(role Role, required Role) bool {
	return roleRank(role) >= roleRank(required)
}

var roleRanks = map[Role]int{
	RoleViewer:   1,
	RoleOperator: 2,
	RoleAdmin:    3,
}

func roleRank(role Role) int {
	return roleRanks[role]
}
