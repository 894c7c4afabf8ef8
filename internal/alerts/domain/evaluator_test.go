package alerts

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

func coolerRule() AlertRule {
	return AlertRule{
		ID:              "rule-1",
		OrganizationID:  "org-a",
		SiteID:          "site-1",
		UnitID:          "unit-u",
		Name:            "walk-in cooler",
		MinTemp:         Float(0),
		MaxTemp:         Float(5),
		DurationSeconds: 120,
		Severity:        SeverityWarning,
		Enabled:         true,
	}
}

func reading(value float64, at time.Time) Reading {
	return Reading{OrganizationID: "org-a", SiteID: "site-1", UnitID: "unit-u", Value: value, RecordedAt: at}
}

// replay feeds readings through Evaluate, carrying state the way the service does.
func replay(t *testing.T, rule *AlertRule, readings []Reading) ([]Event, *Alert) {
	t.Helper()
	var (
		open     *Alert
		resolved *Alert
		breach   *BreachState
		events   []Event
	)
	for _, r := range readings {
		in := EvaluationInput{Reading: r, Rule: rule, Open: open, Breach: breach}
		if open == nil {
			in.LastResolved = resolved
		}
		d := Evaluate(in)
		switch d.BreachOp {
		case BreachSet:
			breach = d.Breach
		case BreachClear:
			breach = nil
		}
		switch d.Action {
		case ActionOpen, ActionEscalate, ActionUpdate:
			open = d.Alert
		case ActionResolve:
			open, resolved = nil, d.Alert
		}
		if d.Event != nil {
			events = append(events, *d.Event)
		}
	}
	return events, open
}

func TestEvaluateDebounceScenario(t *testing.T) {
	rule := coolerRule()
	events, open := replay(t, &rule, []Reading{
		reading(7, t0),
		reading(8, t0.Add(time.Minute)),
		reading(8, t0.Add(3*time.Minute)),
	})

	require.Len(t, events, 1)
	assert.Equal(t, EventAlertTriggered, events[0].Type)
	assert.Equal(t, t0.Add(3*time.Minute), events[0].OccurredAt)
	require.NotNil(t, open)
	assert.Equal(t, 8.0, open.BreachValue)
	assert.Equal(t, t0, open.BreachStartedAt)
	assert.Equal(t, t0.Add(3*time.Minute), open.OpenedAt)
	assert.Equal(t, StatusTriggered, open.Status)
}

func TestEvaluateFlapShorterThanDebounceNeverTriggers(t *testing.T) {
	rule := coolerRule()
	events, open := replay(t, &rule, []Reading{
		reading(9, t0),
		reading(9, t0.Add(90*time.Second)),
		reading(4, t0.Add(100*time.Second)),
		reading(9, t0.Add(110*time.Second)),
		reading(9, t0.Add(200*time.Second)),
		reading(3, t0.Add(220*time.Second)),
	})
	assert.Empty(t, events)
	assert.Nil(t, open)
}

func TestEvaluateRecoveryResolvesOnce(t *testing.T) {
	rule := coolerRule()
	rule.DurationSeconds = 0
	events, open := replay(t, &rule, []Reading{
		reading(8, t0),
		reading(3, t0.Add(5*time.Minute)),
		reading(2, t0.Add(6*time.Minute)),
	})
	require.Len(t, events, 2)
	assert.Equal(t, EventAlertTriggered, events[0].Type)
	assert.Equal(t, EventAlertResolved, events[1].Type)
	assert.Equal(t, t0.Add(5*time.Minute), events[1].OccurredAt)
	assert.Equal(t, ReasonRecovered, events[1].Reason)
	assert.Nil(t, open)
}

func TestEvaluateRecoveryIgnoresAcknowledgement(t *testing.T) {
	rule := coolerRule()
	open := &Alert{
		ID: "alert-1", OrganizationID: "org-a", UnitID: "unit-u", RuleID: rule.ID,
		Status: StatusAcknowledged, Severity: SeverityWarning, OpenedAt: t0,
	}
	d := Evaluate(EvaluationInput{Reading: reading(4, t0.Add(time.Minute)), Rule: &rule, Open: open})
	require.Equal(t, ActionResolve, d.Action)
	require.NotNil(t, d.Event)
	assert.Equal(t, EventAlertResolved, d.Event.Type)
	assert.Equal(t, "alert-1", d.Event.AlertID)
	assert.Equal(t, StatusResolved, d.Alert.Status)
}

func TestEvaluateEscalatesOncePerIncrease(t *testing.T) {
	rule := coolerRule()
	rule.DurationSeconds = 0
	rule.CriticalMax = Float(10)
	events, open := replay(t, &rule, []Reading{
		reading(6, t0),
		reading(12, t0.Add(time.Minute)),
		reading(13, t0.Add(2*time.Minute)),
		reading(7, t0.Add(3*time.Minute)),
		reading(11, t0.Add(4*time.Minute)),
	})
	types := make([]EventType, 0, len(events))
	for _, e := range events {
		types = append(types, e.Type)
	}
	assert.Equal(t, []EventType{EventAlertTriggered, EventAlertEscalated, EventAlertEscalated}, types)
	require.NotNil(t, open)
	assert.Equal(t, SeverityCritical, open.Severity)
	assert.Equal(t, SeverityCritical, open.PeakSeverity)
}

func TestEvaluateRuleRemovedForceResolves(t *testing.T) {
	open := &Alert{ID: "alert-1", OrganizationID: "org-a", UnitID: "unit-u", RuleID: "rule-1", Status: StatusTriggered, OpenedAt: t0}
	d := Evaluate(EvaluationInput{Reading: reading(9, t0.Add(time.Minute)), Rule: nil, Open: open})
	require.Equal(t, ActionResolve, d.Action)
	assert.Equal(t, ReasonRuleRemoved, d.Alert.ResolutionReason)
	assert.Equal(t, BreachClear, d.BreachOp)

	rule := coolerRule()
	rule.Enabled = false
	d = Evaluate(EvaluationInput{Reading: reading(9, t0.Add(time.Minute)), Rule: &rule, Open: open})
	require.Equal(t, ActionResolve, d.Action)
	assert.Equal(t, ReasonRuleRemoved, d.Alert.ResolutionReason)
}

func TestEvaluateAbsentRuleWithoutAlertIsNoop(t *testing.T) {
	d := Evaluate(EvaluationInput{Reading: reading(9, t0)})
	assert.Equal(t, ActionNone, d.Action)
	assert.Nil(t, d.Event)
}

func TestEvaluateHysteresisHoldsAlertOpen(t *testing.T) {
	rule := coolerRule()
	rule.DurationSeconds = 0
	rule.Hysteresis = 1
	events, open := replay(t, &rule, []Reading{
		reading(6, t0),
		reading(4.5, t0.Add(time.Minute)),
	})
	require.Len(t, events, 1)
	require.NotNil(t, open)
	assert.Equal(t, 4.5, open.LastValue)

	events, open = replay(t, &rule, []Reading{
		reading(6, t0),
		reading(3.9, t0.Add(time.Minute)),
	})
	require.Len(t, events, 2)
	assert.Nil(t, open)
}

func TestEvaluateLateReadingDoesNotResolve(t *testing.T) {
	rule := coolerRule()
	open := &Alert{ID: "alert-1", OrganizationID: "org-a", UnitID: "unit-u", RuleID: rule.ID, Status: StatusTriggered, Severity: SeverityWarning, OpenedAt: t0}
	d := Evaluate(EvaluationInput{Reading: reading(2, t0.Add(-time.Minute)), Rule: &rule, Open: open})
	assert.Equal(t, ActionNone, d.Action)
	assert.Nil(t, d.Event)
}

func TestEvaluateLateReadingAfterResolutionDoesNotReopen(t *testing.T) {
	rule := coolerRule()
	rule.DurationSeconds = 0
	events, open := replay(t, &rule, []Reading{
		reading(8, t0),
		reading(3, t0.Add(5*time.Minute)),
		reading(8, t0.Add(2*time.Minute)),
	})

	require.Len(t, events, 2)
	assert.Equal(t, EventAlertTriggered, events[0].Type)
	assert.Equal(t, EventAlertResolved, events[1].Type)
	assert.Nil(t, open)

	// a fresh breach after the resolution still opens a new alert
	events, open = replay(t, &rule, []Reading{
		reading(8, t0),
		reading(3, t0.Add(5*time.Minute)),
		reading(8, t0.Add(6*time.Minute)),
	})
	require.Len(t, events, 3)
	assert.Equal(t, EventAlertTriggered, events[2].Type)
	require.NotNil(t, open)
}

func TestEvaluateLateInBoundsReadingKeepsBreachTracking(t *testing.T) {
	rule := coolerRule()
	events, open := replay(t, &rule, []Reading{
		reading(7, t0),
		reading(8, t0.Add(time.Minute)),
		reading(3, t0.Add(-time.Minute)),
		reading(8, t0.Add(3*time.Minute)),
	})

	require.Len(t, events, 1)
	assert.Equal(t, EventAlertTriggered, events[0].Type)
	require.NotNil(t, open)
	assert.Equal(t, t0, open.BreachStartedAt)
}

func TestEvaluateAfterManualResolveUsesLastReading(t *testing.T) {
	rule := coolerRule()
	resolved := &Alert{
		Status:           StatusResolved,
		OpenedAt:         t0,
		LastReadingAt:    t0.Add(time.Minute),
		ResolvedAt:       t0.Add(time.Hour),
		ResolutionReason: ReasonManual,
	}

	d := Evaluate(EvaluationInput{Reading: reading(9, t0.Add(30*time.Second)), Rule: &rule, LastResolved: resolved})
	assert.Equal(t, ActionNone, d.Action)

	d = Evaluate(EvaluationInput{Reading: reading(9, t0.Add(2*time.Minute)), Rule: &rule, LastResolved: resolved})
	assert.Equal(t, ActionTrack, d.Action)
}

func TestEvaluateZeroDurationTriggersImmediately(t *testing.T) {
	rule := coolerRule()
	rule.DurationSeconds = 0
	d := Evaluate(EvaluationInput{Reading: reading(-2, t0), Rule: &rule})
	require.Equal(t, ActionOpen, d.Action)
	assert.Equal(t, -2.0, d.Alert.BreachValue)
	assert.Equal(t, "site-1", d.Alert.SiteID)
}

func TestRuleValidate(t *testing.T) {
	rule := coolerRule()
	require.NoError(t, rule.Validate())

	bad := rule
	bad.MinTemp, bad.MaxTemp = nil, nil
	assert.True(t, IsKind(bad.Validate(), KindValidation))

	bad = rule
	bad.MinTemp = Float(6)
	assert.True(t, IsKind(bad.Validate(), KindValidation))

	bad = rule
	bad.CriticalMax = Float(4)
	assert.True(t, IsKind(bad.Validate(), KindValidation))

	bad = rule
	bad.Hysteresis = 3
	assert.True(t, IsKind(bad.Validate(), KindValidation))
}

func TestReadingValidate(t *testing.T) {
	require.NoError(t, reading(1, t0).Validate())
	r := reading(1, t0)
	r.UnitID = ""
	assert.True(t, IsKind(r.Validate(), KindValidation))
	r = reading(1, time.Time{})
	assert.True(t, IsKind(r.Validate(), KindValidation))
}
