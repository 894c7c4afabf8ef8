package alerts

import "time"

// Status is an alert lifecycle state.
type Status string

const (
	StatusTriggered    Status = "triggered"
	StatusAcknowledged Status = "acknowledged"
	StatusResolved     Status = "resolved"
)

// Open reports whether the status counts toward the single-open-alert invariant.
func (s Status) Open() bool {
	return s == StatusTriggered || s == StatusAcknowledged
}

// Resolution reasons.
const (
	ReasonRecovered   = "recovered"
	ReasonRuleRemoved = "rule_removed"
	ReasonManual      = "manual"
)

// Alert is an active or past threshold breach for a (unit, rule) pair.
type Alert struct {
	ID               string    `json:"id"`
	OrganizationID   string    `json:"organizationId"`
	SiteID           string    `json:"siteId"`
	UnitID           string    `json:"unitId"`
	RuleID           string    `json:"ruleId"`
	Status           Status    `json:"status"`
	Severity         Severity  `json:"severity"`
	PeakSeverity     Severity  `json:"peakSeverity"`
	BreachValue      float64   `json:"breachValue"`
	LastValue        float64   `json:"lastValue"`
	BreachStartedAt  time.Time `json:"breachStartedAt"`
	OpenedAt         time.Time `json:"openedAt"`
	LastReadingAt    time.Time `json:"lastReadingAt"`
	AcknowledgedAt   time.Time `json:"acknowledgedAt,omitempty"`
	AcknowledgedBy   string    `json:"acknowledgedBy,omitempty"`
	ResolvedAt       time.Time `json:"resolvedAt,omitempty"`
	ResolvedBy       string    `json:"resolvedBy,omitempty"`
	ResolutionReason string    `json:"resolutionReason,omitempty"`
	ResolutionNote   string    `json:"resolutionNote,omitempty"`
	CreatedAt        time.Time `json:"createdAt"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

// BreachState tracks an ongoing breach that has not yet satisfied the debounce.
type BreachState struct {
	OrganizationID string
	UnitID         string
	RuleID         string
	Since          time.Time
	LastValue      float64
	UpdatedAt      time.Time
}

// OpenAttrs describes a new open alert.
type OpenAttrs struct {
	ID              string
	OrganizationID  string
	SiteID          string
	UnitID          string
	RuleID          string
	Severity        Severity
	BreachValue     float64
	BreachStartedAt time.Time
	OpenedAt        time.Time
	// Event, when set, is stored atomically with the new alert by stores that keep an outbox.
	Event *Event
}

// TransitionAttrs describes a status change guarded by the allowed source statuses.
type TransitionAttrs struct {
	To     Status
	From   []Status
	At     time.Time
	Actor  string
	Reason string
	Note   string
	Value  *float64
	// Event, when set, is stored atomically with the transition by stores that keep an outbox.
	Event *Event
}

// AlertFilter narrows alert listings. OrganizationID is mandatory.
type AlertFilter struct {
	OrganizationID string
	SiteID         string
	UnitID         string
	Status         Status
	From           time.Time
	To             time.Time
	Limit          int
}

func (a Alert) resolvedCopy(at time.Time, reason string, value float64) Alert {
	next := a
	next.Status = StatusResolved
	next.ResolvedAt = at
	next.ResolutionReason = reason
	next.LastValue = value
	next.UpdatedAt = at
	return next
}
