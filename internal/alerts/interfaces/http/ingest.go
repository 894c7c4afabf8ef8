package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	alertapp "github.com/getdatasurge/fresh-staged-sub013/internal/alerts/application"
	alerts "github.com/getdatasurge/fresh-staged-sub013/internal/alerts/domain"
	masterdata "github.com/getdatasurge/fresh-staged-sub013/internal/masterdata/domain"
)

const maxBatch = 500

// UnitDirectory resolves the owner of a unit.
type UnitDirectory interface {
	GetUnit(ctx context.Context, id string) (*masterdata.Unit, error)
}

// IngestHandler accepts readings from signed sensor gateways.
type IngestHandler struct {
	service   *alertapp.Service
	directory UnitDirectory
	logger    zerolog.Logger
}

// NewIngestHandler constructs an ingest handler. Readings are attributed to the unit's
// organization and site as recorded in directory.
func NewIngestHandler(service *alertapp.Service, directory UnitDirectory, logger zerolog.Logger) (*IngestHandler, error) {
	if service == nil {
		return nil, errors.New("ingest handler: nil service")
	}
	if directory == nil {
		return nil, errors.New("ingest handler: nil directory")
	}
	return &IngestHandler{service: service, directory: directory, logger: logger}, nil
}

type readingRequest struct {
	OrganizationID string   `json:"organizationId"`
	UnitID         string   `json:"unitId"`
	SensorID       string   `json:"sensorId"`
	Value          *float64 `json:"value"`
	RecordedAt     string   `json:"recordedAt"`
}

type ingestRequest struct {
	readingRequest
	Readings []readingRequest `json:"readings"`
}

type ingestItem struct {
	UnitID    string         `json:"unitId"`
	ReadingID string         `json:"readingId,omitempty"`
	Events    []alerts.Event `json:"events,omitempty"`
	Error     string         `json:"error,omitempty"`
}

// ServeHTTP handles POST /ingest/readings with either one reading or {"readings": [...]}.
func (h *IngestHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req ingestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body")
		return
	}

	if req.Readings == nil {
		item, status := h.ingest(r.Context(), req.readingRequest)
		if item.Error != "" {
			writeError(w, status, item.Error)
			return
		}
		writeJSON(w, http.StatusCreated, alertapp.IngestResult{ReadingID: item.ReadingID, Events: item.Events})
		return
	}
	if len(req.Readings) > maxBatch {
		writeError(w, http.StatusRequestEntityTooLarge, "batch_too_large")
		return
	}
	results := make([]ingestItem, 0, len(req.Readings))
	for _, reading := range req.Readings {
		item, _ := h.ingest(r.Context(), reading)
		results = append(results, item)
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

func (h *IngestHandler) ingest(ctx context.Context, req readingRequest) (ingestItem, int) {
	item := ingestItem{UnitID: req.UnitID}
	if req.UnitID == "" {
		item.Error = "unit_id_required"
		return item, http.StatusBadRequest
	}
	if req.Value == nil {
		item.Error = "value_required"
		return item, http.StatusBadRequest
	}
	recordedAt, err := time.Parse(time.RFC3339Nano, req.RecordedAt)
	if err != nil {
		item.Error = "recorded_at_must_be_rfc3339"
		return item, http.StatusBadRequest
	}

	unit, err := h.directory.GetUnit(ctx, req.UnitID)
	if err != nil {
		h.logger.Error().Err(err).Str("unit_id", req.UnitID).Msg("unit lookup failed")
		item.Error = "internal"
		return item, http.StatusInternalServerError
	}
	if unit == nil {
		item.Error = "unknown_unit"
		return item, http.StatusNotFound
	}
	if req.OrganizationID != "" && req.OrganizationID != unit.OrganizationID {
		h.logger.Warn().Str("unit_id", req.UnitID).Str("organization_id", req.OrganizationID).Msg("reading claims foreign organization")
		item.Error = "forbidden"
		return item, http.StatusForbidden
	}

	result, err := h.service.IngestReading(ctx, alerts.Reading{
		OrganizationID: unit.OrganizationID,
		SiteID:         unit.SiteID,
		UnitID:         unit.ID,
		SensorID:       req.SensorID,
		Value:          *req.Value,
		RecordedAt:     recordedAt,
	})
	item.ReadingID = result.ReadingID
	item.Events = result.Events
	switch {
	case err == nil:
		return item, http.StatusCreated
	case alerts.IsKind(err, alerts.KindValidation):
		item.Error = err.Error()
		return item, http.StatusBadRequest
	default:
		h.logger.Error().Err(err).Str("unit_id", req.UnitID).Msg("ingest failed")
		item.Error = "internal"
		return item, http.StatusInternalServerError
	}
}
