package alerts

import "strings"

// Severity is an ordered alert tier.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// ParseSeverity normalizes a severity string.
func ParseSeverity(value string) (Severity, bool) {
	switch Severity(strings.ToLower(strings.TrimSpace(value))) {
	case SeverityInfo:
		return SeverityInfo, true
	case SeverityWarning:
		return SeverityWarning, true
	case SeverityCritical:
		return SeverityCritical, true
	default:
		return "", false
	}
}

// Valid reports whether the severity is a known tier.
func (s Severity) Valid() bool {
	return s.Rank() > 0
}

// Rank orders tiers; unknown tiers rank 0.
func (s Severity) Rank() int {
	switch s {
	case SeverityInfo:
		return 1
	case SeverityWarning:
		return 2
	case SeverityCritical:
		return 3
	default:
		return 0
	}
}

// AtLeast reports whether s is at or above target.
func (s Severity) AtLeast(target Severity) bool {
	return s.Rank() >= target.Rank()
}
