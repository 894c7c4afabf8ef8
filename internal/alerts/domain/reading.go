package alerts

import (
	"math"
	"time"
)

// Reading is a single temperature sample for a unit.
type Reading struct {
	ID             string    `json:"id"`
	OrganizationID string    `json:"organizationId"`
	SiteID         string    `json:"siteId"`
	UnitID         string    `json:"unitId"`
	SensorID       string    `json:"sensorId,omitempty"`
	Value          float64   `json:"value"`
	RecordedAt     time.Time `json:"recordedAt"`
}

// Validate checks reading shape.
func (r Reading) Validate() error {
	const op = "reading.validate"
	switch {
	case r.OrganizationID == "":
		return Validation(op, "empty organization id")
	case r.UnitID == "":
		return Validation(op, "empty unit id")
	case r.RecordedAt.IsZero():
		return Validation(op, "missing timestamp")
	case math.IsNaN(r.Value) || math.IsInf(r.Value, 0):
		return Validation(op, "value is not a finite number")
	}
	return nil
}
