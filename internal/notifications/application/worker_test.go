package application

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	alerts "github.com/getdatasurge/fresh-staged-sub013/internal/alerts/domain"
	notifications "github.com/getdatasurge/fresh-staged-sub013/internal/notifications/domain"
	"github.com/getdatasurge/fresh-staged-sub013/internal/notifications/infrastructure/memory"
)

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// scriptedProvider returns the scripted results in order, then succeeds.
type scriptedProvider struct {
	channel notifications.Channel
	mu      sync.Mutex
	script  []error
	calls   int
	sent    []notifications.Delivery
}

var errHang = errors.New("hang until deadline")

func (p *scriptedProvider) Channel() notifications.Channel { return p.channel }

func (p *scriptedProvider) Send(ctx context.Context, d notifications.Delivery) (string, error) {
	p.mu.Lock()
	var scripted error
	if p.calls < len(p.script) {
		scripted = p.script[p.calls]
	}
	p.calls++
	p.mu.Unlock()
	if errors.Is(scripted, errHang) {
		<-ctx.Done()
		return "", ctx.Err()
	}
	if scripted != nil {
		return "", scripted
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sent = append(p.sent, d)
	return "ref-" + d.JobID, nil
}

func (p *scriptedProvider) delivered() []notifications.Delivery {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]notifications.Delivery(nil), p.sent...)
}

type alertTable struct {
	mu     sync.Mutex
	alerts map[string]*alerts.Alert
}

func (a *alertTable) Get(_ context.Context, id string) (*alerts.Alert, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	alert, ok := a.alerts[id]
	if !ok {
		return nil, nil
	}
	out := *alert
	return &out, nil
}

type harness struct {
	clock        *manualClock
	jobs         *memory.JobStore
	suppressions *memory.Suppressions
	sms          *scriptedProvider
	dispatcher   *Dispatcher
	worker       *Worker
	alerts       *alertTable
}

func newHarness(t *testing.T, opts ...WorkerOption) *harness {
	t.Helper()
	h := &harness{
		clock:        &manualClock{now: time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)},
		jobs:         memory.NewJobStore(),
		suppressions: memory.NewSuppressions(),
		sms:          &scriptedProvider{channel: notifications.ChannelSMS},
		alerts:       &alertTable{alerts: map[string]*alerts.Alert{}},
	}
	directory := memory.NewStaticDirectory([]notifications.Recipient{
		{OrganizationID: "org-a", Channel: notifications.ChannelSMS, Address: "+15550001"},
		{OrganizationID: "org-b", Channel: notifications.ChannelSMS, Address: "+15550002"},
	})
	var err error
	h.dispatcher, err = NewDispatcher(h.jobs, directory, h.suppressions,
		WithDispatcherClock(h.clock), WithReminder(10*time.Minute))
	require.NoError(t, err)
	base := []WorkerOption{
		WithWorkerClock(h.clock),
		WithBackoff(time.Second, 4*time.Second),
		WithMaxAttempts(5),
		WithProviderTimeout(20 * time.Millisecond),
		WithAlertReader(h.alerts),
	}
	h.worker, err = NewWorker(h.jobs, h.suppressions, []notifications.Provider{h.sms}, append(base, opts...)...)
	require.NoError(t, err)
	return h
}

func (h *harness) event(t alerts.EventType, severity alerts.Severity) alerts.Event {
	status := alerts.StatusTriggered
	if t == alerts.EventAlertResolved {
		status = alerts.StatusResolved
	}
	return alerts.Event{
		ID: "evt-" + string(t), Type: t, AlertID: "alert-1", OrganizationID: "org-a", SiteID: "site-1",
		UnitID: "unit-u", RuleID: "rule-1", Severity: severity, Status: status, Value: 8, OccurredAt: h.clock.Now(),
	}
}

func (h *harness) jobsFor(t *testing.T, statuses ...notifications.JobStatus) []notifications.Job {
	t.Helper()
	jobs, err := h.jobs.List(context.Background(), notifications.JobFilter{Statuses: statuses})
	require.NoError(t, err)
	return jobs
}

func TestDispatcherIgnoresOtherEventTypes(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	for _, et := range []alerts.EventType{alerts.EventAlertEscalated, alerts.EventAlertAcknowledged, alerts.EventAlertManuallyResolved, alerts.EventReadingCreated} {
		require.NoError(t, h.dispatcher.HandleEvent(ctx, h.event(et, alerts.SeverityWarning)))
	}
	assert.Empty(t, h.jobsFor(t))
}

func TestDispatcherDeduplicatesRedeliveredEvents(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	event := h.event(alerts.EventAlertTriggered, alerts.SeverityWarning)
	require.NoError(t, h.dispatcher.HandleEvent(ctx, event))
	require.NoError(t, h.dispatcher.Handler()(ctx, event))

	jobs := h.jobsFor(t)
	require.Len(t, jobs, 1)
	assert.Equal(t, "alert-1:alert.triggered:sms:+15550001", jobs[0].DedupKey)
	assert.Equal(t, "unit-u|rule-1", jobs[0].OrderingKey)
	assert.Equal(t, "org-a", jobs[0].OrganizationID)
	assert.Contains(t, jobs[0].Message, "Triggered")
}

func TestTimeoutTwiceThenSuccess(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.sms.script = []error{errHang, errHang}
	require.NoError(t, h.dispatcher.HandleEvent(ctx, h.event(alerts.EventAlertTriggered, alerts.SeverityWarning)))

	n, err := h.worker.ProcessDue(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	retrying := h.jobsFor(t, notifications.StatusRetrying)
	require.Len(t, retrying, 1)
	assert.Equal(t, 1, retrying[0].AttemptCount)
	assert.Equal(t, notifications.TierTransient, retrying[0].LastErrorTier)
	assert.Contains(t, retrying[0].LastError, "timeout")
	assert.Equal(t, h.clock.Now().Add(time.Second), retrying[0].NextAttemptAt)

	n, err = h.worker.ProcessDue(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "not due before backoff elapses")

	h.clock.Advance(time.Second)
	_, err = h.worker.ProcessDue(ctx)
	require.NoError(t, err)
	retrying = h.jobsFor(t, notifications.StatusRetrying)
	require.Len(t, retrying, 1)
	assert.Equal(t, 2, retrying[0].AttemptCount)
	assert.Equal(t, h.clock.Now().Add(2*time.Second), retrying[0].NextAttemptAt)

	h.clock.Advance(2 * time.Second)
	_, err = h.worker.ProcessDue(ctx)
	require.NoError(t, err)
	delivered := h.jobsFor(t, notifications.StatusDelivered)
	require.Len(t, delivered, 1)
	assert.Equal(t, 3, delivered[0].AttemptCount)
	assert.Equal(t, "ref-"+delivered[0].ID, delivered[0].ProviderRef)
	assert.Len(t, h.sms.delivered(), 1)
}

func TestDeliveryOrderedPerKey(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.sms.script = []error{notifications.Transient("503", "unavailable", nil)}
	require.NoError(t, h.dispatcher.HandleEvent(ctx, h.event(alerts.EventAlertTriggered, alerts.SeverityWarning)))
	require.NoError(t, h.dispatcher.HandleEvent(ctx, h.event(alerts.EventAlertResolved, alerts.SeverityWarning)))

	n, err := h.worker.ProcessDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n, "resolved notice waits behind the failed trigger")

	h.clock.Advance(time.Second)
	_, err = h.worker.ProcessDue(ctx)
	require.NoError(t, err)
	_, err = h.worker.ProcessDue(ctx)
	require.NoError(t, err)

	sent := h.sms.delivered()
	require.Len(t, sent, 2)
	assert.Contains(t, sent[0].Message, "Triggered")
	assert.Contains(t, sent[1].Message, "Resolved")
}

func TestFatalFailureSuppressesRecipient(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.sms.script = []error{notifications.Fatal("21610", "recipient unsubscribed", nil)}
	require.NoError(t, h.dispatcher.HandleEvent(ctx, h.event(alerts.EventAlertTriggered, alerts.SeverityWarning)))
	_, err := h.worker.ProcessDue(ctx)
	require.NoError(t, err)

	failed := h.jobsFor(t, notifications.StatusFailed)
	require.Len(t, failed, 1)
	assert.Equal(t, notifications.TierFatal, failed[0].LastErrorTier)
	assert.Equal(t, 1, failed[0].AttemptCount)
	suppressed, err := h.suppressions.IsSuppressed(ctx, notifications.ChannelSMS, "+15550001")
	require.NoError(t, err)
	assert.True(t, suppressed)

	require.NoError(t, h.dispatcher.HandleEvent(ctx, h.event(alerts.EventAlertResolved, alerts.SeverityWarning)))
	assert.Len(t, h.jobsFor(t, notifications.StatusSuppressed), 1)
	n, err := h.worker.ProcessDue(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, 1, h.sms.calls)
}

func TestRecoverableFailureHoldsJobUntilCorrected(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.sms.script = []error{notifications.Recoverable("21211", "invalid number", nil)}
	require.NoError(t, h.dispatcher.HandleEvent(ctx, h.event(alerts.EventAlertTriggered, alerts.SeverityWarning)))
	_, err := h.worker.ProcessDue(ctx)
	require.NoError(t, err)

	held := h.jobsFor(t, notifications.StatusHeld)
	require.Len(t, held, 1)
	h.clock.Advance(time.Hour)
	n, err := h.worker.ProcessDue(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "held jobs are never retried automatically")

	_, err = h.jobs.Requeue(ctx, held[0].ID, "+15550009", h.clock.Now())
	require.NoError(t, err)
	_, err = h.worker.ProcessDue(ctx)
	require.NoError(t, err)
	sent := h.sms.delivered()
	require.Len(t, sent, 1)
	assert.Equal(t, "+15550009", sent[0].Recipient)
}

func TestTransientFailuresStopAtMaxAttempts(t *testing.T) {
	h := newHarness(t, WithMaxAttempts(2))
	ctx := context.Background()
	unavailable := notifications.Transient("503", "unavailable", nil)
	h.sms.script = []error{unavailable, unavailable, unavailable}
	require.NoError(t, h.dispatcher.HandleEvent(ctx, h.event(alerts.EventAlertTriggered, alerts.SeverityWarning)))

	for i := 0; i < 4; i++ {
		_, err := h.worker.ProcessDue(ctx)
		require.NoError(t, err)
		h.clock.Advance(time.Minute)
	}
	failed := h.jobsFor(t, notifications.StatusFailed)
	require.Len(t, failed, 1)
	assert.Equal(t, 2, failed[0].AttemptCount)
	assert.Equal(t, 2, h.sms.calls)
	suppressed, err := h.suppressions.IsSuppressed(ctx, notifications.ChannelSMS, "+15550001")
	require.NoError(t, err)
	assert.False(t, suppressed)
}

func TestReminderSkippedOnceAcknowledged(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.alerts.alerts["alert-1"] = &alerts.Alert{ID: "alert-1", Status: alerts.StatusTriggered}
	require.NoError(t, h.dispatcher.HandleEvent(ctx, h.event(alerts.EventAlertTriggered, alerts.SeverityCritical)))
	require.Len(t, h.jobsFor(t), 2)

	_, err := h.worker.ProcessDue(ctx)
	require.NoError(t, err)
	require.Len(t, h.sms.delivered(), 1, "reminder is not due yet")

	h.alerts.mu.Lock()
	h.alerts.alerts["alert-1"].Status = alerts.StatusAcknowledged
	h.alerts.mu.Unlock()
	h.clock.Advance(10 * time.Minute)
	_, err = h.worker.ProcessDue(ctx)
	require.NoError(t, err)

	assert.Len(t, h.sms.delivered(), 1)
	skipped := h.jobsFor(t, notifications.StatusSuppressed)
	require.Len(t, skipped, 1)
	assert.Equal(t, notifications.KindReminder, skipped[0].Kind)
}

func TestReminderSentWhileUnacknowledged(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.alerts.alerts["alert-1"] = &alerts.Alert{ID: "alert-1", Status: alerts.StatusTriggered}
	require.NoError(t, h.dispatcher.HandleEvent(ctx, h.event(alerts.EventAlertTriggered, alerts.SeverityCritical)))
	h.clock.Advance(10 * time.Minute)
	_, err := h.worker.ProcessDue(ctx)
	require.NoError(t, err)

	sent := h.sms.delivered()
	require.Len(t, sent, 2)
	messages := sent[0].Message + sent[1].Message
	assert.Contains(t, messages, "Still Unacknowledged")
}

func TestMissingProviderHoldsJob(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, err := h.jobs.Enqueue(ctx, notifications.Job{
		ID: "job-email", OrganizationID: "org-a", AlertID: "alert-9", Channel: notifications.ChannelEmail,
		Recipient: "ops@example.com", DedupKey: "k", OrderingKey: "unit|rule", NextAttemptAt: h.clock.Now(),
	})
	require.NoError(t, err)
	_, err = h.worker.ProcessDue(ctx)
	require.NoError(t, err)
	job, err := h.jobs.Get(ctx, "job-email")
	require.NoError(t, err)
	assert.Equal(t, notifications.StatusHeld, job.Status)
	assert.Equal(t, notifications.TierRecoverable, job.LastErrorTier)
}
