package alerts

import "time"

// EventType names a wire event.
type EventType string

const (
	EventAlertTriggered        EventType = "alert.triggered"
	EventAlertEscalated        EventType = "alert.escalated"
	EventAlertResolved         EventType = "alert.resolved"
	EventAlertAcknowledged     EventType = "alert.acknowledged"
	EventAlertManuallyResolved EventType = "alert.manually_resolved"
	EventReadingCreated        EventType = "reading.created"
)

// Event is a domain event emitted after a persisted transition.
type Event struct {
	ID             string    `json:"id"`
	Type           EventType `json:"type"`
	AlertID        string    `json:"alertId,omitempty"`
	OrganizationID string    `json:"organizationId"`
	SiteID         string    `json:"siteId,omitempty"`
	UnitID         string    `json:"unitId"`
	RuleID         string    `json:"ruleId,omitempty"`
	Severity       Severity  `json:"severity,omitempty"`
	Status         Status    `json:"status,omitempty"`
	Value          float64   `json:"value"`
	Reason         string    `json:"reason,omitempty"`
	ActorID        string    `json:"actorId,omitempty"`
	OccurredAt     time.Time `json:"occurredAt"`
}

// OrderingKey groups events that must be consumed in emission order.
func (e Event) OrderingKey() string {
	if e.RuleID == "" {
		return e.UnitID
	}
	return e.UnitID + "|" + e.RuleID
}

// NewAlertEvent builds an event from an alert snapshot.
func NewAlertEvent(eventType EventType, alert Alert, at time.Time) Event {
	return Event{
		Type:           eventType,
		AlertID:        alert.ID,
		OrganizationID: alert.OrganizationID,
		SiteID:         alert.SiteID,
		UnitID:         alert.UnitID,
		RuleID:         alert.RuleID,
		Severity:       alert.Severity,
		Status:         alert.Status,
		Value:          alert.LastValue,
		Reason:         alert.ResolutionReason,
		OccurredAt:     at.UTC(),
	}
}

// NewReadingEvent builds the live-chart pass-through event.
func NewReadingEvent(reading Reading) Event {
	return Event{
		Type:           EventReadingCreated,
		OrganizationID: reading.OrganizationID,
		SiteID:         reading.SiteID,
		UnitID:         reading.UnitID,
		Value:          reading.Value,
		OccurredAt:     reading.RecordedAt.UTC(),
	}
}
