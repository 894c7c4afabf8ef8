package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/getdatasurge/fresh-staged-sub013/internal/audit"
	"github.com/getdatasurge/fresh-staged-sub013/internal/auth"
	notifications "github.com/getdatasurge/fresh-staged-sub013/internal/notifications/domain"
)

const (
	defaultListLimit = 200
	maxListLimit     = 1000
)

// Handler serves the notification operations view.
type Handler struct {
	jobs         notifications.JobStore
	suppressions notifications.SuppressionStore
	auditor      audit.Logger
	now          func() time.Time
	logger       zerolog.Logger
}

// Option customizes the handler.
type Option func(*Handler)

// WithAuditor records retries and re-enabled recipients.
func WithAuditor(auditor audit.Logger) Option {
	return func(h *Handler) {
		h.auditor = auditor
	}
}

// WithLogger assigns a logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(h *Handler) {
		h.logger = logger
	}
}

// WithClock overrides the time source used for requeues.
func WithClock(now func() time.Time) Option {
	return func(h *Handler) {
		if now != nil {
			h.now = now
		}
	}
}

// NewHandler constructs the operations handler.
func NewHandler(jobs notifications.JobStore, suppressions notifications.SuppressionStore, opts ...Option) (*Handler, error) {
	if jobs == nil {
		return nil, errors.New("notifications handler: nil job store")
	}
	if suppressions == nil {
		return nil, errors.New("notifications handler: nil suppression store")
	}
	h := &Handler{
		jobs:         jobs,
		suppressions: suppressions,
		now:          func() time.Time { return time.Now().UTC() },
		logger:       zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

// RegisterRoutes mounts the operations endpoints under /api/v1/notifications.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1/notifications", func(r chi.Router) {
		r.Get("/jobs", h.handleList)
		r.Get("/jobs/export.xlsx", h.handleExport)
		r.Post("/jobs/{id}/retry", h.handleRetry)
		r.Get("/suppressions", h.handleListSuppressions)
		r.Delete("/suppressions", h.handleLiftSuppression)
	})
}

type jobView struct {
	ID            string     `json:"id"`
	AlertID       string     `json:"alertId"`
	UnitID        string     `json:"unitId"`
	RuleID        string     `json:"ruleId"`
	Transition    string     `json:"transition"`
	Kind          string     `json:"kind"`
	Channel       string     `json:"channel"`
	Recipient     string     `json:"recipient"`
	Status        string     `json:"status"`
	AttemptCount  int        `json:"attemptCount"`
	LastError     string     `json:"lastError,omitempty"`
	LastErrorTier string     `json:"lastErrorTier,omitempty"`
	NextAttemptAt time.Time  `json:"nextAttemptAt"`
	DeliveredAt   *time.Time `json:"deliveredAt,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
	UpdatedAt     time.Time  `json:"updatedAt"`
}

func toView(job notifications.Job) jobView {
	view := jobView{
		ID:            job.ID,
		AlertID:       job.AlertID,
		UnitID:        job.UnitID,
		RuleID:        job.RuleID,
		Transition:    string(job.Transition),
		Kind:          string(job.Kind),
		Channel:       string(job.Channel),
		Recipient:     job.Recipient,
		Status:        string(job.Status),
		AttemptCount:  job.AttemptCount,
		LastError:     job.LastError,
		LastErrorTier: string(job.LastErrorTier),
		NextAttemptAt: job.NextAttemptAt,
		CreatedAt:     job.CreatedAt,
		UpdatedAt:     job.UpdatedAt,
	}
	if !job.DeliveredAt.IsZero() {
		delivered := job.DeliveredAt
		view.DeliveredAt = &delivered
	}
	return view
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	filter, err := h.filterFromRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	jobs, err := h.jobs.List(r.Context(), filter)
	if err != nil {
		h.logger.Error().Err(err).Msg("list notification jobs")
		writeError(w, http.StatusInternalServerError, "internal")
		return
	}
	out := make([]jobView, 0, len(jobs))
	for _, job := range jobs {
		out = append(out, toView(job))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) handleExport(w http.ResponseWriter, r *http.Request) {
	filter, err := h.filterFromRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	jobs, err := h.jobs.List(r.Context(), filter)
	if err != nil {
		h.logger.Error().Err(err).Msg("export notification jobs")
		writeError(w, http.StatusInternalServerError, "internal")
		return
	}
	data, err := BuildJobsXLSX(jobs, h.now())
	if err != nil {
		h.logger.Error().Err(err).Msg("render jobs xlsx")
		writeError(w, http.StatusInternalServerError, "internal")
		return
	}
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=notification-jobs-%s.xlsx", h.now().Format("20060102")))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

type retryRequest struct {
	Recipient string `json:"recipient"`
}

func (h *Handler) handleRetry(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req retryRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_body")
			return
		}
	}
	req.Recipient = strings.TrimSpace(req.Recipient)

	job, err := h.jobs.Get(r.Context(), id)
	if err != nil {
		h.logger.Error().Err(err).Str("job_id", id).Msg("load notification job")
		writeError(w, http.StatusInternalServerError, "internal")
		return
	}
	org := auth.OrganizationIDFromContext(r.Context())
	if job == nil || (org != "" && job.OrganizationID != org) {
		writeError(w, http.StatusNotFound, "not_found")
		return
	}

	updated, err := h.jobs.Requeue(r.Context(), id, req.Recipient, h.now())
	switch {
	case errors.Is(err, notifications.ErrJobNotFound):
		writeError(w, http.StatusNotFound, "not_found")
		return
	case errors.Is(err, notifications.ErrJobNotHeld):
		writeError(w, http.StatusConflict, "not_held")
		return
	case err != nil:
		h.logger.Error().Err(err).Str("job_id", id).Msg("requeue notification job")
		writeError(w, http.StatusInternalServerError, "internal")
		return
	}

	h.record(r, audit.ActionJobRetry, "notification_job", updated.ID, updated.OrganizationID, map[string]string{
		"previous_recipient": job.Recipient,
		"recipient":          updated.Recipient,
		"channel":            string(updated.Channel),
	})
	h.logger.Info().Str("job_id", updated.ID).Str("channel", string(updated.Channel)).Msg("notification job requeued")
	writeJSON(w, http.StatusOK, toView(*updated))
}

type suppressionView struct {
	Channel   string    `json:"channel"`
	Address   string    `json:"address"`
	Reason    string    `json:"reason"`
	CreatedAt time.Time `json:"createdAt"`
}

func (h *Handler) handleListSuppressions(w http.ResponseWriter, r *http.Request) {
	list, err := h.suppressions.ListSuppressions(r.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("list suppressions")
		writeError(w, http.StatusInternalServerError, "internal")
		return
	}
	out := make([]suppressionView, 0, len(list))
	for _, s := range list {
		out = append(out, suppressionView{Channel: string(s.Channel), Address: s.Address, Reason: s.Reason, CreatedAt: s.CreatedAt})
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) handleLiftSuppression(w http.ResponseWriter, r *http.Request) {
	channel, ok := notifications.ParseChannel(r.URL.Query().Get("channel"))
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_channel")
		return
	}
	address := notifications.NormalizeAddress(r.URL.Query().Get("address"))
	if address == "" {
		writeError(w, http.StatusBadRequest, "address_required")
		return
	}
	lifted, err := h.suppressions.Lift(r.Context(), channel, address)
	if err != nil {
		h.logger.Error().Err(err).Msg("lift suppression")
		writeError(w, http.StatusInternalServerError, "internal")
		return
	}
	if !lifted {
		writeError(w, http.StatusNotFound, "not_found")
		return
	}
	h.record(r, audit.ActionRecipientEnable, "notification_recipient", string(channel)+":"+address, auth.OrganizationIDFromContext(r.Context()), map[string]string{
		"channel": string(channel),
		"address": address,
	})
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) filterFromRequest(r *http.Request) (notifications.JobFilter, error) {
	filter := notifications.JobFilter{
		OrganizationID: auth.OrganizationIDFromContext(r.Context()),
		AlertID:        strings.TrimSpace(r.URL.Query().Get("alert_id")),
		Limit:          defaultListLimit,
	}
	raw := r.URL.Query().Get("status")
	if raw == "" {
		filter.Statuses = []notifications.JobStatus{notifications.StatusHeld, notifications.StatusFailed}
	} else {
		for _, part := range strings.Split(raw, ",") {
			status := notifications.JobStatus(strings.TrimSpace(part))
			if !status.Valid() {
				return filter, fmt.Errorf("unknown status %q", part)
			}
			filter.Statuses = append(filter.Statuses, status)
		}
	}
	if value := r.URL.Query().Get("limit"); value != "" {
		limit, err := strconv.Atoi(value)
		if err != nil || limit <= 0 {
			return filter, errors.New("limit must be a positive integer")
		}
		if limit > maxListLimit {
			limit = maxListLimit
		}
		filter.Limit = limit
	}
	return filter, nil
}

func (h *Handler) record(r *http.Request, action, resourceType, resourceID, organizationID string, meta map[string]string) {
	if h.auditor == nil {
		return
	}
	identity, _ := auth.IdentityFromContext(r.Context())
	err := h.auditor.Log(r.Context(), audit.Entry{
		OrganizationID: organizationID,
		Actor:          identity.Subject,
		Role:           string(identity.Role),
		Action:         action,
		ResourceType:   resourceType,
		ResourceID:     resourceID,
		Metadata:       audit.Metadata(meta),
	})
	if err != nil {
		h.logger.Error().Err(err).Str("action", action).Msg("audit log failed")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, reason string) {
	writeJSON(w, status, map[string]string{"error": reason})
}
