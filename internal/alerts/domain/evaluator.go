package alerts

import "time"

// Action is the transition chosen by Evaluate.
type Action string

const (
	ActionNone     Action = "none"
	ActionTrack    Action = "track"
	ActionOpen     Action = "open"
	ActionEscalate Action = "escalate"
	ActionUpdate   Action = "update"
	ActionResolve  Action = "resolve"
)

// BreachOp tells the caller what to do with persisted breach tracking.
type BreachOp int

const (
	BreachKeep BreachOp = iota
	BreachSet
	BreachClear
)

// EvaluationInput is everything one evaluation needs. Open must be read fresh.
type EvaluationInput struct {
	Reading Reading
	// Rule is nil when the rule was deleted; a disabled rule behaves the same way.
	Rule   *AlertRule
	Open   *Alert
	Breach *BreachState
	// LastResolved is the pair's most recently resolved alert, read when none is open.
	LastResolved *Alert
}

// Decision is the outcome of one evaluation.
type Decision struct {
	Action Action
	// Alert is the next state of the open alert, or the alert to open.
	Alert *Alert
	// PreviousSeverity is the tier the stored alert must still carry for an escalate/update to apply.
	PreviousSeverity Severity
	BreachOp         BreachOp
	Breach           *BreachState
	// Event is nil when the transition is silent. AlertID is empty for ActionOpen.
	Event *Event
}

// Evaluate computes the next alert state for a reading. It performs no I/O.
func Evaluate(in EvaluationInput) Decision {
	at := in.Reading.RecordedAt.UTC()
	value := in.Reading.Value

	open := in.Open
	if open != nil && !open.Status.Open() {
		open = nil
	}

	if in.Rule == nil || !in.Rule.Enabled {
		if open == nil {
			return Decision{Action: ActionNone, BreachOp: clearIfTracked(in.Breach)}
		}
		next := open.resolvedCopy(at, ReasonRuleRemoved, value)
		return resolveDecision(next, at)
	}
	rule := *in.Rule

	if open != nil {
		return evaluateOpen(rule, *open, value, at)
	}

	if late(at, in.Breach, in.LastResolved) {
		return Decision{Action: ActionNone}
	}
	if !rule.Breached(value) {
		return Decision{Action: ActionNone, BreachOp: clearIfTracked(in.Breach)}
	}

	since := at
	if in.Breach != nil && !in.Breach.Since.IsZero() {
		since = in.Breach.Since.UTC()
	}
	if at.Sub(since) < rule.Debounce() {
		return Decision{
			Action:   ActionTrack,
			BreachOp: BreachSet,
			Breach: &BreachState{
				OrganizationID: rule.OrganizationID,
				UnitID:         rule.UnitID,
				RuleID:         rule.ID,
				Since:          since,
				LastValue:      value,
				UpdatedAt:      at,
			},
		}
	}

	severity := rule.SeverityFor(value)
	alert := Alert{
		OrganizationID:  rule.OrganizationID,
		SiteID:          firstNonEmpty(in.Reading.SiteID, rule.SiteID),
		UnitID:          rule.UnitID,
		RuleID:          rule.ID,
		Status:          StatusTriggered,
		Severity:        severity,
		PeakSeverity:    severity,
		BreachValue:     value,
		LastValue:       value,
		BreachStartedAt: since,
		OpenedAt:        at,
		LastReadingAt:   at,
		CreatedAt:       at,
		UpdatedAt:       at,
	}
	event := NewAlertEvent(EventAlertTriggered, alert, at)
	return Decision{Action: ActionOpen, Alert: &alert, BreachOp: BreachClear, Event: &event}
}

func evaluateOpen(rule AlertRule, open Alert, value float64, at time.Time) Decision {
	// Late readings never move an alert that opened after them.
	if at.Before(open.OpenedAt) {
		return Decision{Action: ActionNone}
	}
	if rule.Recovered(value) {
		return resolveDecision(open.resolvedCopy(at, ReasonRecovered, value), at)
	}

	next := open
	next.LastValue = value
	next.LastReadingAt = at
	next.UpdatedAt = at
	if !rule.Breached(value) {
		// inside the hysteresis band
		return Decision{Action: ActionUpdate, Alert: &next, PreviousSeverity: open.Severity}
	}

	tier := rule.SeverityFor(value)
	switch {
	case tier.Rank() > open.Severity.Rank():
		next.Severity = tier
		if tier.Rank() > next.PeakSeverity.Rank() {
			next.PeakSeverity = tier
		}
		event := NewAlertEvent(EventAlertEscalated, next, at)
		return Decision{Action: ActionEscalate, Alert: &next, PreviousSeverity: open.Severity, Event: &event}
	case tier.Rank() < open.Severity.Rank():
		// Lowering the tier silently lets a later increase escalate again.
		next.Severity = tier
	}
	return Decision{Action: ActionUpdate, Alert: &next, PreviousSeverity: open.Severity}
}

func resolveDecision(next Alert, at time.Time) Decision {
	event := NewAlertEvent(EventAlertResolved, next, at)
	return Decision{Action: ActionResolve, Alert: &next, BreachOp: BreachClear, Event: &event}
}

// late reports whether a reading predates the tracked breach or the last resolution.
// Such a reading neither opens an alert nor resets breach tracking.
func late(at time.Time, breach *BreachState, resolved *Alert) bool {
	if breach != nil && !breach.Since.IsZero() && at.Before(breach.Since) {
		return true
	}
	if resolved == nil {
		return false
	}
	watermark := resolved.LastReadingAt
	// a manual resolve happens on the wall clock, not on a reading
	if resolved.ResolutionReason != ReasonManual && resolved.ResolvedAt.After(watermark) {
		watermark = resolved.ResolvedAt
	}
	return at.Before(watermark)
}

func clearIfTracked(state *BreachState) BreachOp {
	if state != nil {
		return BreachClear
	}
	return BreachKeep
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
