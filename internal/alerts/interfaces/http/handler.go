package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	alertapp "github.com/getdatasurge/fresh-staged-sub013/internal/alerts/application"
	alerts "github.com/getdatasurge/fresh-staged-sub013/internal/alerts/domain"
	"github.com/getdatasurge/fresh-staged-sub013/internal/auth"
)

const timeLayout = time.RFC3339

// DeliveryRecord is one notification attempt shown on the incident report.
type DeliveryRecord struct {
	Channel   string
	Recipient string
	Kind      string
	Status    string
	Attempts  int
	LastError string
	UpdatedAt time.Time
}

// DeliveryHistory lists the notifications sent for an alert.
type DeliveryHistory func(ctx context.Context, organizationID, alertID string) ([]DeliveryRecord, error)

// Handler provides alert query and human handling endpoints.
type Handler struct {
	service *alertapp.Service
	history DeliveryHistory
	logger  zerolog.Logger
}

// Option customizes the handler.
type Option func(*Handler)

// WithDeliveryHistory adds notification history to incident reports.
func WithDeliveryHistory(history DeliveryHistory) Option {
	return func(h *Handler) {
		h.history = history
	}
}

// WithLogger assigns a logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(h *Handler) {
		h.logger = logger
	}
}

// NewHandler constructs a handler.
func NewHandler(service *alertapp.Service, opts ...Option) (*Handler, error) {
	if service == nil {
		return nil, errors.New("alerts handler: nil service")
	}
	h := &Handler{service: service, logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

// RegisterRoutes mounts /api/v1/alerts.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1/alerts", func(r chi.Router) {
		r.Get("/", h.handleList)
		r.Get("/{id}", h.handleGet)
		r.Get("/{id}/incident.pdf", h.handleIncident)
		r.Post("/{id}/acknowledge", h.handleAcknowledge)
		r.Post("/{id}/resolve", h.handleResolve)
	})
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := alerts.AlertFilter{
		SiteID: query.Get("site_id"),
		UnitID: query.Get("unit_id"),
		Status: alerts.Status(query.Get("status")),
	}
	switch filter.Status {
	case "", alerts.StatusTriggered, alerts.StatusAcknowledged, alerts.StatusResolved:
	default:
		writeError(w, http.StatusBadRequest, "invalid_status")
		return
	}
	var err error
	if filter.From, err = parseOptionalTime(query.Get("from")); err != nil {
		writeError(w, http.StatusBadRequest, "from must be RFC3339")
		return
	}
	if filter.To, err = parseOptionalTime(query.Get("to")); err != nil {
		writeError(w, http.StatusBadRequest, "to must be RFC3339")
		return
	}
	if value := query.Get("limit"); value != "" {
		limit, err := strconv.Atoi(value)
		if err != nil || limit <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		filter.Limit = limit
	}

	list, err := h.service.List(r.Context(), filter)
	if err != nil {
		h.respondError(w, err)
		return
	}
	if list == nil {
		list = []alerts.Alert{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	alert, err := h.service.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, alert)
}

func (h *Handler) handleAcknowledge(w http.ResponseWriter, r *http.Request) {
	alert, err := h.service.Acknowledge(r.Context(), chi.URLParam(r, "id"), auth.SubjectFromContext(r.Context()))
	if err != nil {
		h.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, alert)
}

type resolveRequest struct {
	Note string `json:"note"`
}

func (h *Handler) handleResolve(w http.ResponseWriter, r *http.Request) {
	var req resolveRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_body")
			return
		}
	}
	alert, err := h.service.Resolve(r.Context(), chi.URLParam(r, "id"), auth.SubjectFromContext(r.Context()), req.Note)
	if err != nil {
		h.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, alert)
}

func (h *Handler) handleIncident(w http.ResponseWriter, r *http.Request) {
	alert, err := h.service.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.respondError(w, err)
		return
	}
	var deliveries []DeliveryRecord
	if h.history != nil {
		deliveries, err = h.history(r.Context(), alert.OrganizationID, alert.ID)
		if err != nil {
			h.logger.Warn().Err(err).Str("alert_id", alert.ID).Msg("load delivery history")
		}
	}
	data, err := BuildIncidentPDF(*alert, deliveries)
	if err != nil {
		h.logger.Error().Err(err).Str("alert_id", alert.ID).Msg("render incident pdf")
		writeError(w, http.StatusInternalServerError, "internal")
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=incident-%s.pdf", alert.ID))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	switch alerts.KindOf(err) {
	case alerts.KindValidation:
		writeError(w, http.StatusBadRequest, err.Error())
	case alerts.KindNotFound:
		writeError(w, http.StatusNotFound, "not_found")
	case alerts.KindTenantMismatch:
		writeError(w, http.StatusForbidden, "forbidden")
	case alerts.KindAlreadyResolved:
		writeError(w, http.StatusConflict, string(alerts.KindAlreadyResolved))
	case alerts.KindConflict:
		writeError(w, http.StatusConflict, string(alerts.KindConflict))
	default:
		h.logger.Error().Err(err).Msg("alert request failed")
		writeError(w, http.StatusInternalServerError, "internal")
	}
}

func parseOptionalTime(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	parsed, err := time.Parse(timeLayout, value)
	if err != nil {
		return time.Time{}, err
	}
	return parsed.UTC(), nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, reason string) {
	writeJSON(w, status, map[string]string{"error": reason})
}
