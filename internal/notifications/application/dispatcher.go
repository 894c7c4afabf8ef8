package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	alerts "github.com/getdatasurge/fresh-staged-sub013/internal/alerts/domain"
	"github.com/getdatasurge/fresh-staged-sub013/internal/eventing"
	masterdata "github.com/getdatasurge/fresh-staged-sub013/internal/masterdata/domain"
	notifications "github.com/getdatasurge/fresh-staged-sub013/internal/notifications/domain"
	"github.com/getdatasurge/fresh-staged-sub013/internal/observability/metrics"
)

// ConsumerName identifies the dispatcher in processed-event bookkeeping.
const ConsumerName = "notification-dispatcher"

// Clock provides time for scheduling.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// UnitReader resolves unit display names.
type UnitReader interface {
	GetUnit(ctx context.Context, id string) (*masterdata.Unit, error)
}

// Dispatcher turns alert lifecycle events into notification jobs.
type Dispatcher struct {
	jobs          notifications.JobStore
	recipients    notifications.RecipientDirectory
	suppressions  notifications.SuppressionStore
	template      *Template
	units         UnitReader
	reminderAfter time.Duration
	clock         Clock
	logger        zerolog.Logger
	newID         func() string
}

// DispatcherOption configures the dispatcher.
type DispatcherOption func(*Dispatcher)

// WithTemplate overrides the default message template.
func WithTemplate(tpl *Template) DispatcherOption {
	return func(d *Dispatcher) {
		if tpl != nil {
			d.template = tpl
		}
	}
}

// WithUnitReader enables unit names in messages.
func WithUnitReader(units UnitReader) DispatcherOption {
	return func(d *Dispatcher) {
		d.units = units
	}
}

// WithReminder schedules a reminder for critical alerts still unacknowledged after the delay.
func WithReminder(after time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		if after > 0 {
			d.reminderAfter = after
		}
	}
}

// WithDispatcherClock overrides the default clock.
func WithDispatcherClock(clock Clock) DispatcherOption {
	return func(d *Dispatcher) {
		if clock != nil {
			d.clock = clock
		}
	}
}

// WithDispatcherLogger assigns a logger.
func WithDispatcherLogger(logger zerolog.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		d.logger = logger
	}
}

// NewDispatcher constructs a dispatcher.
func NewDispatcher(jobs notifications.JobStore, recipients notifications.RecipientDirectory, suppressions notifications.SuppressionStore, opts ...DispatcherOption) (*Dispatcher, error) {
	if jobs == nil {
		return nil, errors.New("notification dispatcher: nil job store")
	}
	if recipients == nil {
		return nil, errors.New("notification dispatcher: nil recipient directory")
	}
	if suppressions == nil {
		return nil, errors.New("notification dispatcher: nil suppression store")
	}
	tpl, err := NewTemplate("")
	if err != nil {
		return nil, err
	}
	d := &Dispatcher{
		jobs:         jobs,
		recipients:   recipients,
		suppressions: suppressions,
		template:     tpl,
		clock:        systemClock{},
		logger:       zerolog.Nop(),
		newID:        uuid.NewString,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Handles reports whether the dispatcher creates jobs for the event type.
func Handles(eventType alerts.EventType) bool {
	return eventType == alerts.EventAlertTriggered || eventType == alerts.EventAlertResolved
}

// HandleEvent enqueues one job per matching recipient. Redelivered events enqueue nothing new.
func (d *Dispatcher) HandleEvent(ctx context.Context, event alerts.Event) error {
	if !Handles(event.Type) {
		return nil
	}
	if event.AlertID == "" || event.OrganizationID == "" {
		return fmt.Errorf("notification dispatcher: event %s without alert or organization", event.Type)
	}
	recipients, err := d.recipients.ListRecipients(ctx, event.OrganizationID)
	if err != nil {
		return fmt.Errorf("notification dispatcher: list recipients: %w", err)
	}
	unitName := d.unitName(ctx, event.UnitID)

	var errs []error
	for _, recipient := range recipients {
		if !recipient.Matches(event.SiteID, event.Severity) {
			continue
		}
		if err := d.enqueue(ctx, event, recipient, unitName, notifications.KindTransition); err != nil {
			errs = append(errs, err)
		}
		if d.reminderAfter > 0 && event.Type == alerts.EventAlertTriggered && event.Severity == alerts.SeverityCritical {
			if err := d.enqueue(ctx, event, recipient, unitName, notifications.KindReminder); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// Handler adapts HandleEvent to the event bus.
func (d *Dispatcher) Handler() eventing.EventHandler {
	return func(ctx context.Context, payload any) error {
		switch event := payload.(type) {
		case alerts.Event:
			return d.HandleEvent(ctx, event)
		case *alerts.Event:
			if event == nil {
				return eventing.ErrNilEvent
			}
			return d.HandleEvent(ctx, *event)
		default:
			return fmt.Errorf("notification dispatcher: unexpected payload %T", payload)
		}
	}
}

func (d *Dispatcher) enqueue(ctx context.Context, event alerts.Event, recipient notifications.Recipient, unitName string, kind notifications.Kind) error {
	subject, body, err := d.template.Render(buildTemplateData(event, unitName, kind))
	if err != nil {
		return fmt.Errorf("notification dispatcher: render: %w", err)
	}
	now := d.clock.Now().UTC()
	transition := string(event.Type)
	due := now
	if kind == notifications.KindReminder {
		transition = string(notifications.KindReminder)
		due = event.OccurredAt.UTC().Add(d.reminderAfter)
	}
	job := notifications.Job{
		ID:             d.newID(),
		OrganizationID: event.OrganizationID,
		AlertID:        event.AlertID,
		UnitID:         event.UnitID,
		RuleID:         event.RuleID,
		Transition:     event.Type,
		Kind:           kind,
		Channel:        recipient.Channel,
		Recipient:      recipient.Address,
		Subject:        subject,
		Message:        body,
		DedupKey:       notifications.DedupKey(event.AlertID, transition, recipient.Channel, recipient.Address),
		OrderingKey:    notifications.OrderingKey(event.UnitID, event.RuleID, kind),
		Status:         notifications.StatusPending,
		NextAttemptAt:  due,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	suppressed, err := d.suppressions.IsSuppressed(ctx, recipient.Channel, recipient.Address)
	if err != nil {
		return fmt.Errorf("notification dispatcher: suppression lookup: %w", err)
	}
	if suppressed {
		job.Status = notifications.StatusSuppressed
		job.LastError = "recipient suppressed"
	}

	created, err := d.jobs.Enqueue(ctx, job)
	if err != nil {
		metrics.IncJobCreated(string(kind), metrics.ResultError)
		return fmt.Errorf("notification dispatcher: enqueue: %w", err)
	}
	switch {
	case !created:
		metrics.IncJobCreated(string(kind), "duplicate")
	case suppressed:
		metrics.IncJobCreated(string(kind), "suppressed")
		d.logger.Info().Str("alert_id", job.AlertID).Str("channel", string(job.Channel)).Msg("notification skipped for suppressed recipient")
	default:
		metrics.IncJobCreated(string(kind), "created")
	}
	return nil
}

func (d *Dispatcher) unitName(ctx context.Context, unitID string) string {
	if d.units == nil || unitID == "" {
		return ""
	}
	unit, err := d.units.GetUnit(ctx, unitID)
	if err != nil {
		d.logger.Warn().Err(err).Str("unit_id", unitID).Msg("unit lookup failed")
		return ""
	}
	if unit == nil {
		return ""
	}
	return unit.Name
}
