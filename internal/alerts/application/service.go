package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	alerts "github.com/getdatasurge/fresh-staged-sub013/internal/alerts/domain"
	"github.com/getdatasurge/fresh-staged-sub013/internal/audit"
	"github.com/getdatasurge/fresh-staged-sub013/internal/auth"
	"github.com/getdatasurge/fresh-staged-sub013/internal/observability/metrics"
)

// maxOpenAttempts bounds re-reads after losing an open race.
const maxOpenAttempts = 3

// IngestResult reports what a reading caused.
type IngestResult struct {
	ReadingID string         `json:"readingId"`
	Events    []alerts.Event `json:"events"`
}

// Service orchestrates ingestion, evaluation and human alert handling.
type Service struct {
	rules     RuleStore
	alerts    AlertStore
	breaches  BreachStore
	readings  ReadingStore
	publisher EventPublisher
	auditor   audit.Logger
	clock     Clock
	logger    zerolog.Logger
	newID     func() string
	// keys serializes persist-then-publish per (unit, rule) so events leave in transition order.
	keys *keyedMutex
}

// ServiceOption customizes the alert service.
type ServiceOption func(*Service)

// WithPublisher assigns the event publisher.
func WithPublisher(publisher EventPublisher) ServiceOption {
	return func(s *Service) {
		if publisher != nil {
			s.publisher = publisher
		}
	}
}

// WithClock assigns a clock.
func WithClock(clock Clock) ServiceOption {
	return func(s *Service) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithLogger assigns a logger.
func WithLogger(logger zerolog.Logger) ServiceOption {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithAuditor records acknowledge and resolve actions.
func WithAuditor(auditor audit.Logger) ServiceOption {
	return func(s *Service) {
		s.auditor = auditor
	}
}

// WithIDGenerator overrides alert and event id generation.
func WithIDGenerator(fn func() string) ServiceOption {
	return func(s *Service) {
		if fn != nil {
			s.newID = fn
		}
	}
}

// NewService constructs an alert service.
func NewService(rules RuleStore, alertStore AlertStore, breaches BreachStore, readings ReadingStore, opts ...ServiceOption) (*Service, error) {
	if rules == nil || alertStore == nil || breaches == nil {
		return nil, errors.New("alerts: nil repository")
	}
	if readings == nil {
		return nil, errors.New("alerts: nil reading store")
	}
	service := &Service{
		rules:     rules,
		alerts:    alertStore,
		breaches:  breaches,
		readings:  readings,
		publisher: NopPublisher{},
		clock:     systemClock{},
		logger:    zerolog.Nop(),
		newID:     uuid.NewString,
		keys:      newKeyedMutex(),
	}
	for _, opt := range opts {
		opt(service)
	}
	return service, nil
}

// IngestReading stores a reading and evaluates it against the unit's rules.
// Only validation, storage of the reading itself, and corruption errors are returned.
func (s *Service) IngestReading(ctx context.Context, reading alerts.Reading) (IngestResult, error) {
	if s == nil {
		return IngestResult{}, errors.New("alerts: nil service")
	}
	start := time.Now()
	if err := reading.Validate(); err != nil {
		metrics.ObserveIngest("invalid", time.Since(start))
		s.logger.Info().Err(err).Str("unit_id", reading.UnitID).Msg("reading rejected")
		return IngestResult{}, err
	}
	if reading.ID == "" {
		reading.ID = s.newID()
	}
	reading.RecordedAt = reading.RecordedAt.UTC()

	if err := s.readings.Append(ctx, reading); err != nil {
		metrics.ObserveIngest(metrics.ResultError, time.Since(start))
		return IngestResult{}, fmt.Errorf("alerts: append reading: %w", err)
	}
	readingEvent := alerts.NewReadingEvent(reading)
	readingEvent.ID = s.newID()
	s.publisher.Publish(ctx, readingEvent)

	result := IngestResult{ReadingID: reading.ID}
	events, err := s.evaluateReading(ctx, reading)
	result.Events = events
	if err != nil {
		metrics.ObserveIngest(metrics.ResultError, time.Since(start))
		return result, err
	}
	metrics.ObserveIngest(metrics.ResultSuccess, time.Since(start))
	return result, nil
}

func (s *Service) evaluateReading(ctx context.Context, reading alerts.Reading) ([]alerts.Event, error) {
	rules, err := s.rules.ListForUnit(ctx, reading.OrganizationID, reading.UnitID)
	if err != nil {
		s.swallow(err, reading, "", "list rules")
		return nil, nil
	}

	var events []alerts.Event
	seen := make(map[string]struct{}, len(rules))
	for i := range rules {
		rule := rules[i]
		seen[rule.ID] = struct{}{}
		ruleEvents, err := s.evaluateRule(ctx, reading, rule.ID, &rule)
		if alerts.IsKind(err, alerts.KindCorruption) {
			return events, err
		}
		if err != nil {
			s.swallow(err, reading, rule.ID, "evaluate rule")
			continue
		}
		events = append(events, ruleEvents...)
	}

	// Open alerts and breach tracking whose rule is gone or disabled must still be closed.
	open, err := s.alerts.ListOpenForUnit(ctx, reading.OrganizationID, reading.UnitID)
	if err != nil {
		s.swallow(err, reading, "", "list open alerts")
		return events, nil
	}
	orphans := make([]string, 0, len(open))
	for _, alert := range open {
		orphans = append(orphans, alert.RuleID)
	}
	tracked, err := s.breaches.RuleIDs(ctx, reading.UnitID)
	if err != nil {
		s.swallow(err, reading, "", "list breach tracking")
	}
	orphans = append(orphans, tracked...)
	for _, ruleID := range orphans {
		if _, ok := seen[ruleID]; ok {
			continue
		}
		seen[ruleID] = struct{}{}
		rule, err := s.rules.Get(ctx, reading.OrganizationID, ruleID)
		if err != nil {
			s.swallow(err, reading, ruleID, "load rule")
			continue
		}
		ruleEvents, err := s.evaluateRule(ctx, reading, ruleID, rule)
		if alerts.IsKind(err, alerts.KindCorruption) {
			return events, err
		}
		if err != nil {
			s.swallow(err, reading, ruleID, "evaluate orphaned rule")
			continue
		}
		events = append(events, ruleEvents...)
	}
	return events, nil
}

// evaluateRule runs one evaluation for the pair and publishes its events before
// another evaluation of the same pair may start.
func (s *Service) evaluateRule(ctx context.Context, reading alerts.Reading, ruleID string, rule *alerts.AlertRule) ([]alerts.Event, error) {
	unlock := s.keys.lock(reading.UnitID + "|" + ruleID)
	defer unlock()

	for attempt := 1; ; attempt++ {
		input, err := s.evaluationInput(ctx, reading, ruleID, rule)
		if err != nil {
			return nil, err
		}
		events, err := s.apply(ctx, reading, ruleID, alerts.Evaluate(input))
		var alreadyOpen *alerts.AlreadyOpenError
		if errors.As(err, &alreadyOpen) && attempt < maxOpenAttempts {
			// Another process opened the alert first; re-read and evaluate against it.
			metrics.IncEvaluationError(string(alerts.KindAlreadyOpen))
			continue
		}
		for _, event := range events {
			s.emit(ctx, event)
		}
		return events, err
	}
}

func (s *Service) evaluationInput(ctx context.Context, reading alerts.Reading, ruleID string, rule *alerts.AlertRule) (alerts.EvaluationInput, error) {
	input := alerts.EvaluationInput{Reading: reading, Rule: rule}
	open, err := s.alerts.FindOpen(ctx, reading.UnitID, ruleID)
	if err != nil {
		return input, err
	}
	input.Open = open
	if open != nil {
		return input, nil
	}
	if input.Breach, err = s.breaches.Get(ctx, reading.UnitID, ruleID); err != nil {
		return input, err
	}
	if input.LastResolved, err = s.alerts.LastResolved(ctx, reading.UnitID, ruleID); err != nil {
		return input, err
	}
	return input, nil
}

func (s *Service) apply(ctx context.Context, reading alerts.Reading, ruleID string, d alerts.Decision) ([]alerts.Event, error) {
	switch d.Action {
	case alerts.ActionNone:
		if d.BreachOp == alerts.BreachClear {
			return nil, s.breaches.Clear(ctx, reading.UnitID, ruleID)
		}
		return nil, nil

	case alerts.ActionTrack:
		return nil, s.breaches.Upsert(ctx, *d.Breach)

	case alerts.ActionOpen:
		event := *d.Event
		event.AlertID = s.newID()
		event = s.stamp(event)
		created, err := s.alerts.UpsertOpenAlert(ctx, alerts.OpenAttrs{
			ID:              event.AlertID,
			OrganizationID:  d.Alert.OrganizationID,
			SiteID:          d.Alert.SiteID,
			UnitID:          d.Alert.UnitID,
			RuleID:          d.Alert.RuleID,
			Severity:        d.Alert.Severity,
			BreachValue:     d.Alert.BreachValue,
			BreachStartedAt: d.Alert.BreachStartedAt,
			OpenedAt:        d.Alert.OpenedAt,
			Event:           &event,
		})
		if err != nil {
			return nil, err
		}
		if err := s.breaches.Clear(ctx, reading.UnitID, ruleID); err != nil {
			s.swallow(err, reading, ruleID, "clear breach")
		}
		event.AlertID = created.ID
		return []alerts.Event{event}, nil

	case alerts.ActionEscalate:
		if _, err := s.alerts.UpdateSeverity(ctx, d.Alert.ID, d.PreviousSeverity, d.Alert.Severity, d.Alert.PeakSeverity, reading.Value, d.Alert.LastReadingAt); err != nil {
			return nil, ignoreConflict(err)
		}
		return []alerts.Event{s.stamp(*d.Event)}, nil

	case alerts.ActionUpdate:
		if d.Alert.Severity != d.PreviousSeverity {
			_, err := s.alerts.UpdateSeverity(ctx, d.Alert.ID, d.PreviousSeverity, d.Alert.Severity, d.Alert.PeakSeverity, reading.Value, d.Alert.LastReadingAt)
			return nil, ignoreConflict(err)
		}
		return nil, s.alerts.Touch(ctx, d.Alert.ID, reading.Value, d.Alert.LastReadingAt)

	case alerts.ActionResolve:
		value := reading.Value
		event := s.stamp(*d.Event)
		if _, err := s.alerts.Transition(ctx, d.Alert.ID, alerts.TransitionAttrs{
			To:     alerts.StatusResolved,
			From:   []alerts.Status{alerts.StatusTriggered, alerts.StatusAcknowledged},
			At:     d.Alert.ResolvedAt,
			Reason: d.Alert.ResolutionReason,
			Value:  &value,
			Event:  &event,
		}); err != nil {
			return nil, ignoreConflict(err)
		}
		if err := s.breaches.Clear(ctx, reading.UnitID, ruleID); err != nil {
			s.swallow(err, reading, ruleID, "clear breach")
		}
		return []alerts.Event{event}, nil
	}
	return nil, nil
}

// Acknowledge marks an open alert as seen by a human.
func (s *Service) Acknowledge(ctx context.Context, alertID, actorID string) (*alerts.Alert, error) {
	const op = "alert.acknowledge"
	alert, err := s.loadForActor(ctx, op, alertID)
	if err != nil {
		return nil, err
	}
	unlock := s.keys.lock(alert.UnitID + "|" + alert.RuleID)
	defer unlock()
	switch alert.Status {
	case alerts.StatusResolved:
		return nil, alerts.AlreadyResolved(op, alert.ID)
	case alerts.StatusAcknowledged:
		return alert, nil
	}

	updated, err := s.alerts.Transition(ctx, alert.ID, alerts.TransitionAttrs{
		To:    alerts.StatusAcknowledged,
		From:  []alerts.Status{alerts.StatusTriggered},
		At:    s.clock.Now().UTC(),
		Actor: actorID,
	})
	if alerts.IsKind(err, alerts.KindConflict) {
		current, getErr := s.alerts.Get(ctx, alert.ID)
		if getErr != nil {
			return nil, getErr
		}
		if current == nil {
			return nil, alerts.NotFound(op, alert.ID)
		}
		if current.Status == alerts.StatusResolved {
			return nil, alerts.AlreadyResolved(op, alert.ID)
		}
		return current, nil
	}
	if err != nil {
		return nil, err
	}

	s.record(ctx, audit.ActionAlertAcknowledge, actorID, *updated, "")
	event := alerts.NewAlertEvent(alerts.EventAlertAcknowledged, *updated, updated.AcknowledgedAt)
	event.ActorID = actorID
	s.emit(ctx, s.stamp(event))
	return updated, nil
}

// Resolve closes an alert manually. Breach tracking restarts from the next reading.
func (s *Service) Resolve(ctx context.Context, alertID, actorID, note string) (*alerts.Alert, error) {
	const op = "alert.resolve"
	alert, err := s.loadForActor(ctx, op, alertID)
	if err != nil {
		return nil, err
	}
	unlock := s.keys.lock(alert.UnitID + "|" + alert.RuleID)
	defer unlock()
	if alert.Status == alerts.StatusResolved {
		return nil, alerts.AlreadyResolved(op, alert.ID)
	}

	resolved, err := s.alerts.Transition(ctx, alert.ID, alerts.TransitionAttrs{
		To:     alerts.StatusResolved,
		From:   []alerts.Status{alerts.StatusTriggered, alerts.StatusAcknowledged},
		At:     s.clock.Now().UTC(),
		Actor:  actorID,
		Reason: alerts.ReasonManual,
		Note:   note,
	})
	if alerts.IsKind(err, alerts.KindConflict) {
		return nil, alerts.AlreadyResolved(op, alert.ID)
	}
	if err != nil {
		return nil, err
	}
	if err := s.breaches.Clear(ctx, resolved.UnitID, resolved.RuleID); err != nil {
		s.logger.Error().Err(err).Str("alert_id", resolved.ID).Msg("clear breach after manual resolve")
	}

	s.record(ctx, audit.ActionAlertResolve, actorID, *resolved, note)
	event := alerts.NewAlertEvent(alerts.EventAlertManuallyResolved, *resolved, resolved.ResolvedAt)
	event.ActorID = actorID
	s.emit(ctx, s.stamp(event))
	return resolved, nil
}

// Get returns an alert visible to the caller's organization.
func (s *Service) Get(ctx context.Context, alertID string) (*alerts.Alert, error) {
	return s.loadForActor(ctx, "alert.get", alertID)
}

// List returns alerts of the caller's organization.
func (s *Service) List(ctx context.Context, filter alerts.AlertFilter) ([]alerts.Alert, error) {
	if org := auth.OrganizationIDFromContext(ctx); org != "" {
		filter.OrganizationID = org
	}
	if filter.OrganizationID == "" {
		return nil, alerts.Validation("alert.list", "organization required")
	}
	if !filter.From.IsZero() && !filter.To.IsZero() && filter.To.Before(filter.From) {
		return nil, alerts.Validation("alert.list", "to before from")
	}
	return s.alerts.List(ctx, filter)
}

func (s *Service) loadForActor(ctx context.Context, op, alertID string) (*alerts.Alert, error) {
	if s == nil {
		return nil, errors.New("alerts: nil service")
	}
	if alertID == "" {
		return nil, alerts.Validation(op, "alert id required")
	}
	alert, err := s.alerts.Get(ctx, alertID)
	if err != nil {
		return nil, err
	}
	if alert == nil {
		return nil, alerts.NotFound(op, alertID)
	}
	if org := auth.OrganizationIDFromContext(ctx); org != "" && alert.OrganizationID != org {
		return nil, alerts.TenantMismatch(op)
	}
	return alert, nil
}

func (s *Service) record(ctx context.Context, action, actorID string, alert alerts.Alert, note string) {
	if s.auditor == nil {
		return
	}
	entry := audit.Entry{
		OrganizationID: alert.OrganizationID,
		Actor:          actorID,
		Role:           string(auth.RoleFromContext(ctx)),
		Action:         action,
		ResourceType:   "alert",
		ResourceID:     alert.ID,
		SiteID:         alert.SiteID,
		Metadata: audit.Metadata(map[string]any{
			"unitId":   alert.UnitID,
			"ruleId":   alert.RuleID,
			"status":   alert.Status,
			"severity": alert.Severity,
			"note":     note,
		}),
		CreatedAt: s.clock.Now().UTC(),
	}
	if err := s.auditor.Log(ctx, entry); err != nil {
		s.logger.Error().Err(err).Str("alert_id", alert.ID).Str("action", action).Msg("audit log failed")
	}
}

func (s *Service) stamp(event alerts.Event) alerts.Event {
	if event.ID == "" {
		event.ID = s.newID()
	}
	return event
}

func (s *Service) emit(ctx context.Context, event alerts.Event) {
	metrics.IncAlertEvent(string(event.Type))
	s.logger.Info().
		Str("event", string(event.Type)).
		Str("alert_id", event.AlertID).
		Str("unit_id", event.UnitID).
		Str("severity", string(event.Severity)).
		Msg("alert transition")
	s.publisher.Publish(ctx, event)
}

func (s *Service) swallow(err error, reading alerts.Reading, ruleID, stage string) {
	kind := string(alerts.KindOf(err))
	if kind == "" {
		kind = "storage"
	}
	metrics.IncEvaluationError(kind)
	s.logger.Error().Err(err).
		Str("organization_id", reading.OrganizationID).
		Str("unit_id", reading.UnitID).
		Str("rule_id", ruleID).
		Str("stage", stage).
		Msg("evaluation failed")
}

func ignoreConflict(err error) error {
	if alerts.IsKind(err, alerts.KindConflict) {
		return nil
	}
	return err
}
