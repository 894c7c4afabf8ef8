package application

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	alerts "github.com/getdatasurge/fresh-staged-sub013/internal/alerts/domain"
	"github.com/getdatasurge/fresh-staged-sub013/internal/alerts/infrastructure/memory"
	"github.com/getdatasurge/fresh-staged-sub013/internal/audit"
	"github.com/getdatasurge/fresh-staged-sub013/internal/auth"
)

var t0 = time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

type recordingPublisher struct {
	mu     sync.Mutex
	events []alerts.Event
}

func (p *recordingPublisher) Publish(_ context.Context, event alerts.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
}

func (p *recordingPublisher) ofType(eventType alerts.EventType) []alerts.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []alerts.Event
	for _, e := range p.events {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}

func (p *recordingPublisher) types() []alerts.EventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []alerts.EventType
	for _, e := range p.events {
		if e.Type != alerts.EventReadingCreated {
			out = append(out, e.Type)
		}
	}
	return out
}

// gatedBreaches blocks the first Clear until release is closed.
type gatedBreaches struct {
	*memory.BreachRepository
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func (g *gatedBreaches) Clear(ctx context.Context, unitID, ruleID string) error {
	g.once.Do(func() {
		close(g.entered)
		<-g.release
	})
	return g.BreachRepository.Clear(ctx, unitID, ruleID)
}

type fixture struct {
	service   *Service
	rules     *memory.RuleRepository
	alerts    *memory.AlertRepository
	breaches  *memory.BreachRepository
	publisher *recordingPublisher
	auditor   *audit.MemoryLogger
}

func newFixture(t *testing.T, rule alerts.AlertRule) fixture {
	t.Helper()
	breaches := memory.NewBreachRepository()
	return newFixtureWithBreaches(t, rule, breaches, breaches)
}

func newFixtureWithBreaches(t *testing.T, rule alerts.AlertRule, repo *memory.BreachRepository, breaches BreachStore) fixture {
	t.Helper()
	f := fixture{
		rules:     memory.NewRuleRepository(),
		alerts:    memory.NewAlertRepository(),
		breaches:  repo,
		publisher: &recordingPublisher{},
		auditor:   audit.NewMemoryLogger(),
	}
	require.NoError(t, f.rules.Put(rule))
	service, err := NewService(f.rules, f.alerts, breaches, memory.NewReadingRepository(100),
		WithPublisher(f.publisher),
		WithAuditor(f.auditor),
		WithClock(fixedClock{now: t0.Add(time.Hour)}),
	)
	require.NoError(t, err)
	f.service = service
	return f
}

func coolerRule(duration int) alerts.AlertRule {
	return alerts.AlertRule{
		ID:              "rule-1",
		OrganizationID:  "org-a",
		SiteID:          "site-1",
		UnitID:          "unit-u",
		Name:            "walk-in cooler",
		MinTemp:         alerts.Float(0),
		MaxTemp:         alerts.Float(5),
		DurationSeconds: duration,
		Severity:        alerts.SeverityWarning,
		Enabled:         true,
	}
}

func reading(value float64, at time.Time) alerts.Reading {
	return alerts.Reading{OrganizationID: "org-a", SiteID: "site-1", UnitID: "unit-u", Value: value, RecordedAt: at}
}

func operator(org string) context.Context {
	return auth.WithIdentity(context.Background(), auth.Identity{OrganizationID: org, Subject: "user-1", Role: auth.RoleOperator})
}

func (f fixture) ingest(t *testing.T, r alerts.Reading) IngestResult {
	t.Helper()
	result, err := f.service.IngestReading(context.Background(), r)
	require.NoError(t, err)
	return result
}

func TestIngestReadingDebounceTriggersOnce(t *testing.T) {
	f := newFixture(t, coolerRule(120))

	assert.Empty(t, f.ingest(t, reading(7, t0)).Events)
	assert.Empty(t, f.ingest(t, reading(8, t0.Add(time.Minute))).Events)
	result := f.ingest(t, reading(8, t0.Add(3*time.Minute)))

	require.Len(t, result.Events, 1)
	triggered := result.Events[0]
	assert.Equal(t, alerts.EventAlertTriggered, triggered.Type)
	assert.NotEmpty(t, triggered.ID)
	assert.NotEmpty(t, triggered.AlertID)
	assert.Equal(t, "org-a", triggered.OrganizationID)
	assert.Equal(t, alerts.StatusTriggered, triggered.Status)

	stored, err := f.alerts.Get(context.Background(), triggered.AlertID)
	require.NoError(t, err)
	assert.Equal(t, 8.0, stored.BreachValue)
	assert.Equal(t, t0.Add(3*time.Minute), stored.OpenedAt)
	assert.Len(t, f.publisher.ofType(alerts.EventReadingCreated), 3)
	assert.Len(t, f.publisher.ofType(alerts.EventAlertTriggered), 1)
}

func TestIngestReadingConcurrentBreachesOpenOneAlert(t *testing.T) {
	f := newFixture(t, coolerRule(0))

	const callers = 32
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.service.IngestReading(context.Background(), reading(9, t0))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Len(t, f.publisher.ofType(alerts.EventAlertTriggered), 1)
	assert.Equal(t, 1, f.alerts.OpenCount("unit-u", "rule-1"))
}

func TestConcurrentRecoveryPublishesTriggeredBeforeResolved(t *testing.T) {
	repo := memory.NewBreachRepository()
	gate := &gatedBreaches{BreachRepository: repo, entered: make(chan struct{}), release: make(chan struct{})}
	f := newFixtureWithBreaches(t, coolerRule(0), repo, gate)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, err := f.service.IngestReading(context.Background(), reading(9, t0))
		assert.NoError(t, err)
	}()
	<-gate.entered // the alert row exists, its event is not yet published

	wg.Add(1)
	go func() {
		defer wg.Done()
		_, err := f.service.IngestReading(context.Background(), reading(3, t0.Add(time.Minute)))
		assert.NoError(t, err)
	}()
	time.Sleep(50 * time.Millisecond)
	close(gate.release)
	wg.Wait()

	assert.Equal(t, []alerts.EventType{alerts.EventAlertTriggered, alerts.EventAlertResolved}, f.publisher.types())
	assert.Equal(t, 0, f.alerts.OpenCount("unit-u", "rule-1"))
}

func TestLateReadingAfterRecoveryDoesNotReopen(t *testing.T) {
	f := newFixture(t, coolerRule(0))
	f.ingest(t, reading(8, t0))
	f.ingest(t, reading(3, t0.Add(5*time.Minute)))

	assert.Empty(t, f.ingest(t, reading(8, t0.Add(2*time.Minute))).Events)
	assert.Len(t, f.publisher.ofType(alerts.EventAlertTriggered), 1)
	assert.Equal(t, 0, f.alerts.OpenCount("unit-u", "rule-1"))
}

func TestLateInBoundsReadingKeepsDebounce(t *testing.T) {
	f := newFixture(t, coolerRule(120))
	f.ingest(t, reading(7, t0))
	f.ingest(t, reading(8, t0.Add(time.Minute)))
	f.ingest(t, reading(3, t0.Add(-time.Minute)))

	result := f.ingest(t, reading(8, t0.Add(3*time.Minute)))
	require.Len(t, result.Events, 1)
	assert.Equal(t, alerts.EventAlertTriggered, result.Events[0].Type)
}

func TestRemovedRuleClearsBreachTracking(t *testing.T) {
	f := newFixture(t, coolerRule(120))
	f.ingest(t, reading(9, t0))
	tracked, err := f.breaches.RuleIDs(context.Background(), "unit-u")
	require.NoError(t, err)
	assert.Equal(t, []string{"rule-1"}, tracked)

	f.rules.Delete("rule-1")
	assert.Empty(t, f.ingest(t, reading(9, t0.Add(time.Minute))).Events)
	tracked, err = f.breaches.RuleIDs(context.Background(), "unit-u")
	require.NoError(t, err)
	assert.Empty(t, tracked)
}

func TestAcknowledgedAlertStillAutoResolves(t *testing.T) {
	f := newFixture(t, coolerRule(0))
	triggered := f.ingest(t, reading(9, t0)).Events[0]

	acked, err := f.service.Acknowledge(operator("org-a"), triggered.AlertID, "user-1")
	require.NoError(t, err)
	assert.Equal(t, alerts.StatusAcknowledged, acked.Status)
	assert.Equal(t, "user-1", acked.AcknowledgedBy)

	result := f.ingest(t, reading(3, t0.Add(10*time.Minute)))
	require.Len(t, result.Events, 1)
	assert.Equal(t, alerts.EventAlertResolved, result.Events[0].Type)
	assert.Equal(t, alerts.ReasonRecovered, result.Events[0].Reason)

	// a second recovered reading resolves nothing
	assert.Empty(t, f.ingest(t, reading(2, t0.Add(11*time.Minute))).Events)
	assert.Len(t, f.publisher.ofType(alerts.EventAlertResolved), 1)

	_, err = f.service.Resolve(operator("org-a"), triggered.AlertID, "user-1", "late")
	assert.True(t, alerts.IsKind(err, alerts.KindAlreadyResolved))
	_, err = f.service.Acknowledge(operator("org-a"), triggered.AlertID, "user-1")
	assert.True(t, alerts.IsKind(err, alerts.KindAlreadyResolved))
}

func TestManualResolveRecordsAuditAndRestartsDebounce(t *testing.T) {
	f := newFixture(t, coolerRule(120))
	f.ingest(t, reading(9, t0))
	triggered := f.ingest(t, reading(9, t0.Add(3*time.Minute))).Events[0]

	resolved, err := f.service.Resolve(operator("org-a"), triggered.AlertID, "user-1", "door was open")
	require.NoError(t, err)
	assert.Equal(t, alerts.StatusResolved, resolved.Status)
	assert.Equal(t, alerts.ReasonManual, resolved.ResolutionReason)
	assert.Equal(t, "door was open", resolved.ResolutionNote)

	manual := f.publisher.ofType(alerts.EventAlertManuallyResolved)
	require.Len(t, manual, 1)
	assert.Equal(t, "user-1", manual[0].ActorID)

	entries := f.auditor.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, audit.ActionAlertResolve, entries[0].Action)
	assert.Equal(t, "org-a", entries[0].OrganizationID)

	// the breach persists but must satisfy the debounce again
	assert.Empty(t, f.ingest(t, reading(9, t0.Add(4*time.Minute))).Events)
	result := f.ingest(t, reading(9, t0.Add(7*time.Minute)))
	require.Len(t, result.Events, 1)
	assert.Equal(t, alerts.EventAlertTriggered, result.Events[0].Type)
	assert.NotEqual(t, triggered.AlertID, result.Events[0].AlertID)
}

func TestAcknowledgeRejectsOtherOrganization(t *testing.T) {
	f := newFixture(t, coolerRule(0))
	triggered := f.ingest(t, reading(9, t0)).Events[0]

	_, err := f.service.Acknowledge(operator("org-b"), triggered.AlertID, "user-2")
	assert.True(t, alerts.IsKind(err, alerts.KindTenantMismatch))

	_, err = f.service.Acknowledge(operator("org-a"), "missing", "user-1")
	assert.True(t, alerts.IsKind(err, alerts.KindNotFound))
}

func TestAcknowledgeTwiceIsIdempotent(t *testing.T) {
	f := newFixture(t, coolerRule(0))
	triggered := f.ingest(t, reading(9, t0)).Events[0]

	_, err := f.service.Acknowledge(operator("org-a"), triggered.AlertID, "user-1")
	require.NoError(t, err)
	again, err := f.service.Acknowledge(operator("org-a"), triggered.AlertID, "user-1")
	require.NoError(t, err)
	assert.Equal(t, alerts.StatusAcknowledged, again.Status)
	assert.Len(t, f.publisher.ofType(alerts.EventAlertAcknowledged), 1)
}

func TestRemovedRuleForceResolvesOpenAlert(t *testing.T) {
	f := newFixture(t, coolerRule(0))
	triggered := f.ingest(t, reading(9, t0)).Events[0]

	f.rules.Delete("rule-1")
	result := f.ingest(t, reading(12, t0.Add(time.Minute)))
	require.Len(t, result.Events, 1)
	assert.Equal(t, alerts.EventAlertResolved, result.Events[0].Type)
	assert.Equal(t, alerts.ReasonRuleRemoved, result.Events[0].Reason)
	assert.Equal(t, triggered.AlertID, result.Events[0].AlertID)

	assert.Empty(t, f.ingest(t, reading(12, t0.Add(2*time.Minute))).Events)
}

func TestEscalationEmitsForEachIncrease(t *testing.T) {
	rule := coolerRule(0)
	rule.CriticalMax = alerts.Float(10)
	f := newFixture(t, rule)

	f.ingest(t, reading(6, t0))
	f.ingest(t, reading(12, t0.Add(time.Minute)))
	f.ingest(t, reading(7, t0.Add(2*time.Minute)))
	f.ingest(t, reading(11, t0.Add(3*time.Minute)))

	escalated := f.publisher.ofType(alerts.EventAlertEscalated)
	require.Len(t, escalated, 2)
	assert.Equal(t, alerts.SeverityCritical, escalated[0].Severity)
}

func TestIngestReadingRejectsInvalidReading(t *testing.T) {
	f := newFixture(t, coolerRule(0))
	bad := reading(9, t0)
	bad.UnitID = ""
	_, err := f.service.IngestReading(context.Background(), bad)
	assert.True(t, alerts.IsKind(err, alerts.KindValidation))
	assert.Empty(t, f.publisher.ofType(alerts.EventReadingCreated))
}

func TestListScopesToCallerOrganization(t *testing.T) {
	f := newFixture(t, coolerRule(0))
	f.ingest(t, reading(9, t0))

	list, err := f.service.List(operator("org-a"), alerts.AlertFilter{})
	require.NoError(t, err)
	assert.Len(t, list, 1)

	list, err = f.service.List(operator("org-b"), alerts.AlertFilter{OrganizationID: "org-a"})
	require.NoError(t, err)
	assert.Empty(t, list)
}
