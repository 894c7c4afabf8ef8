package alerts

import (
	"math"
	"time"
)

// AlertRule is a fixed-shape temperature threshold for one unit.
type AlertRule struct {
	ID              string    `json:"id"`
	OrganizationID  string    `json:"organizationId"`
	SiteID          string    `json:"siteId"`
	UnitID          string    `json:"unitId"`
	Name            string    `json:"name"`
	MinTemp         *float64  `json:"minTemp,omitempty"`
	MaxTemp         *float64  `json:"maxTemp,omitempty"`
	CriticalMin     *float64  `json:"criticalMin,omitempty"`
	CriticalMax     *float64  `json:"criticalMax,omitempty"`
	Hysteresis      float64   `json:"hysteresis"`
	DurationSeconds int       `json:"durationSeconds"`
	Severity        Severity  `json:"severity"`
	Enabled         bool      `json:"enabled"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// Validate checks rule invariants.
func (r AlertRule) Validate() error {
	const op = "rule.validate"
	switch {
	case r.ID == "":
		return Validation(op, "empty id")
	case r.OrganizationID == "":
		return Validation(op, "empty organization id")
	case r.UnitID == "":
		return Validation(op, "empty unit id")
	case r.Name == "":
		return Validation(op, "empty name")
	case r.MinTemp == nil && r.MaxTemp == nil:
		return Validation(op, "at least one of min or max is required")
	case r.DurationSeconds < 0:
		return Validation(op, "negative duration")
	case r.Hysteresis < 0:
		return Validation(op, "negative hysteresis")
	}
	if r.Severity != "" && !r.Severity.Valid() {
		return Validation(op, "invalid severity")
	}
	if r.MinTemp != nil && r.MaxTemp != nil {
		if *r.MinTemp >= *r.MaxTemp {
			return Validation(op, "min must be below max")
		}
		if 2*r.Hysteresis >= *r.MaxTemp-*r.MinTemp {
			return Validation(op, "hysteresis leaves no recovery band")
		}
	}
	if r.CriticalMin != nil && (r.MinTemp == nil || *r.CriticalMin > *r.MinTemp) {
		return Validation(op, "critical min must lie at or below min")
	}
	if r.CriticalMax != nil && (r.MaxTemp == nil || *r.CriticalMax < *r.MaxTemp) {
		return Validation(op, "critical max must lie at or above max")
	}
	return nil
}

// Breached reports whether value lies outside [min, max].
func (r AlertRule) Breached(value float64) bool {
	if r.MinTemp != nil && value < *r.MinTemp {
		return true
	}
	return r.MaxTemp != nil && value > *r.MaxTemp
}

// Recovered reports whether value is back inside the band narrowed by hysteresis.
func (r AlertRule) Recovered(value float64) bool {
	h := math.Max(r.Hysteresis, 0)
	if r.MinTemp != nil && value < *r.MinTemp+h {
		return false
	}
	if r.MaxTemp != nil && value > *r.MaxTemp-h {
		return false
	}
	return true
}

// SeverityFor returns the tier a breaching value falls into.
func (r AlertRule) SeverityFor(value float64) Severity {
	if r.CriticalMin != nil && value < *r.CriticalMin {
		return SeverityCritical
	}
	if r.CriticalMax != nil && value > *r.CriticalMax {
		return SeverityCritical
	}
	return r.BaseSeverity()
}

// BaseSeverity defaults to warning.
func (r AlertRule) BaseSeverity() Severity {
	if r.Severity.Valid() {
		return r.Severity
	}
	return SeverityWarning
}

// Debounce is the sustained-breach duration before triggering.
func (r AlertRule) Debounce() time.Duration {
	if r.DurationSeconds <= 0 {
		return 0
	}
	return time.Duration(r.DurationSeconds) * time.Second
}

// Float returns a pointer to v, for building rules.
func Float(v float64) *float64 {
	return &v
}
