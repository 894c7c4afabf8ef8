package gateway

import (
	"encoding/json"
	"time"

	alerts "github.com/getdatasurge/fresh-staged-sub013/internal/alerts/domain"
)

// Message is the wire format pushed to clients.
type Message struct {
	Type           alerts.EventType `json:"type"`
	AlertID        string           `json:"alertId,omitempty"`
	OrganizationID string           `json:"organizationId"`
	SiteID         string           `json:"siteId,omitempty"`
	UnitID         string           `json:"unitId"`
	Severity       alerts.Severity  `json:"severity,omitempty"`
	Status         alerts.Status    `json:"status,omitempty"`
	Value          float64          `json:"value"`
	OccurredAt     time.Time        `json:"occurredAt"`
}

// NewMessage converts a domain event into its wire form.
func NewMessage(event alerts.Event) Message {
	return Message{
		Type:           event.Type,
		AlertID:        event.AlertID,
		OrganizationID: event.OrganizationID,
		SiteID:         event.SiteID,
		UnitID:         event.UnitID,
		Severity:       event.Severity,
		Status:         event.Status,
		Value:          event.Value,
		OccurredAt:     event.OccurredAt.UTC(),
	}
}

// Frame is what travels between gateway processes.
type Frame struct {
	OrganizationID string          `json:"organizationId"`
	Rooms          []string        `json:"rooms"`
	Payload        json.RawMessage `json:"payload"`
}

// NewFrame builds the fan-out frame for an event.
func NewFrame(event alerts.Event) (Frame, error) {
	payload, err := json.Marshal(NewMessage(event))
	if err != nil {
		return Frame{}, err
	}
	return Frame{OrganizationID: event.OrganizationID, Rooms: RoomsFor(event), Payload: payload}, nil
}
