package application

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	alerts "github.com/getdatasurge/fresh-staged-sub013/internal/alerts/domain"
	notifications "github.com/getdatasurge/fresh-staged-sub013/internal/notifications/domain"
	"github.com/getdatasurge/fresh-staged-sub013/internal/observability/metrics"
)

// AlertReader loads the current state of an alert.
type AlertReader interface {
	Get(ctx context.Context, id string) (*alerts.Alert, error)
}

// Worker delivers due jobs through providers.
type Worker struct {
	jobs         notifications.JobStore
	providers    map[notifications.Channel]notifications.Provider
	suppressions notifications.SuppressionStore
	alerts       AlertReader
	backoff      notifications.Backoff
	maxAttempts  int
	timeout      time.Duration
	lease        time.Duration
	batch        int
	concurrency  int
	clock        Clock
	logger       zerolog.Logger
}

// WorkerOption configures the worker.
type WorkerOption func(*Worker)

// WithBackoff sets the transient retry schedule.
func WithBackoff(base, max time.Duration) WorkerOption {
	return func(w *Worker) {
		if base > 0 && max >= base {
			w.backoff = notifications.Backoff{Base: base, Max: max}
		}
	}
}

// WithMaxAttempts bounds transient retries.
func WithMaxAttempts(n int) WorkerOption {
	return func(w *Worker) {
		if n > 0 {
			w.maxAttempts = n
		}
	}
}

// WithProviderTimeout bounds every provider call.
func WithProviderTimeout(timeout time.Duration) WorkerOption {
	return func(w *Worker) {
		if timeout > 0 {
			w.timeout = timeout
		}
	}
}

// WithLease sets how long a claimed job stays reserved.
func WithLease(lease time.Duration) WorkerOption {
	return func(w *Worker) {
		if lease > 0 {
			w.lease = lease
		}
	}
}

// WithBatch sets how many jobs one pass claims, and how many run at once.
func WithBatch(batch, concurrency int) WorkerOption {
	return func(w *Worker) {
		if batch > 0 {
			w.batch = batch
		}
		if concurrency > 0 {
			w.concurrency = concurrency
		}
	}
}

// WithAlertReader enables reminder suppression for acknowledged or resolved alerts.
func WithAlertReader(reader AlertReader) WorkerOption {
	return func(w *Worker) {
		w.alerts = reader
	}
}

// WithWorkerClock overrides the default clock.
func WithWorkerClock(clock Clock) WorkerOption {
	return func(w *Worker) {
		if clock != nil {
			w.clock = clock
		}
	}
}

// WithWorkerLogger assigns a logger.
func WithWorkerLogger(logger zerolog.Logger) WorkerOption {
	return func(w *Worker) {
		w.logger = logger
	}
}

// NewWorker constructs a worker.
func NewWorker(jobs notifications.JobStore, suppressions notifications.SuppressionStore, providers []notifications.Provider, opts ...WorkerOption) (*Worker, error) {
	if jobs == nil {
		return nil, errors.New("notification worker: nil job store")
	}
	if suppressions == nil {
		return nil, errors.New("notification worker: nil suppression store")
	}
	byChannel := make(map[notifications.Channel]notifications.Provider, len(providers))
	for _, p := range providers {
		if p != nil {
			byChannel[p.Channel()] = p
		}
	}
	w := &Worker{
		jobs:         jobs,
		providers:    byChannel,
		suppressions: suppressions,
		backoff:      notifications.Backoff{Base: 5 * time.Second, Max: 5 * time.Minute},
		maxAttempts:  5,
		timeout:      10 * time.Second,
		lease:        time.Minute,
		batch:        50,
		concurrency:  4,
		clock:        systemClock{},
		logger:       zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// ProcessDue claims and delivers one batch of due jobs and returns how many were claimed.
func (w *Worker) ProcessDue(ctx context.Context) (int, error) {
	claimed, err := w.jobs.ClaimDue(ctx, w.clock.Now().UTC(), w.batch, w.lease)
	if err != nil {
		return 0, err
	}
	sem := make(chan struct{}, w.concurrency)
	var wg sync.WaitGroup
	for _, job := range claimed {
		sem <- struct{}{}
		wg.Add(1)
		go func(job notifications.Job) {
			defer wg.Done()
			defer func() { <-sem }()
			w.process(ctx, job)
		}(job)
	}
	wg.Wait()
	return len(claimed), nil
}

// Run processes jobs on every tick and wake signal until ctx is done.
func (w *Worker) Run(ctx context.Context, interval time.Duration, wake <-chan struct{}) {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		w.drain(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-wake:
		}
	}
}

func (w *Worker) drain(ctx context.Context) {
	for ctx.Err() == nil {
		n, err := w.ProcessDue(ctx)
		if err != nil {
			w.logger.Error().Err(err).Msg("claim notification jobs")
			return
		}
		if n < w.batch {
			return
		}
	}
}

func (w *Worker) process(ctx context.Context, job notifications.Job) {
	start := time.Now()
	if reason, skip := w.skipReason(ctx, job); skip {
		job.Status = notifications.StatusSuppressed
		job.LastError = reason
		job.UpdatedAt = w.clock.Now().UTC()
		w.finish(ctx, job, "suppressed", "", time.Since(start))
		return
	}

	provider, ok := w.providers[job.Channel]
	if !ok {
		job.AttemptCount++
		w.fail(ctx, job, notifications.Recoverable("no_provider", "no provider for channel "+string(job.Channel), nil), time.Since(start))
		return
	}

	sendCtx, cancel := context.WithTimeout(ctx, w.timeout)
	ref, err := provider.Send(sendCtx, notifications.Delivery{
		JobID:     job.ID,
		Channel:   job.Channel,
		Recipient: job.Recipient,
		Subject:   job.Subject,
		Message:   job.Message,
	})
	cancel()
	job.AttemptCount++
	if err != nil {
		w.fail(ctx, job, notifications.Classify(err), time.Since(start))
		return
	}

	now := w.clock.Now().UTC()
	job.Status = notifications.StatusDelivered
	job.ProviderRef = ref
	job.DeliveredAt = now
	job.UpdatedAt = now
	w.finish(ctx, job, "delivered", "", time.Since(start))
}

func (w *Worker) fail(ctx context.Context, job notifications.Job, derr *notifications.DeliveryError, elapsed time.Duration) {
	now := w.clock.Now().UTC()
	job.LastError = derr.Error()
	job.LastErrorTier = derr.Tier
	job.UpdatedAt = now
	outcome := ""
	switch derr.Tier {
	case notifications.TierRecoverable:
		job.Status = notifications.StatusHeld
		outcome = "held"
	case notifications.TierFatal:
		job.Status = notifications.StatusFailed
		outcome = "failed"
		if err := w.suppressions.Suppress(ctx, notifications.Suppression{
			Channel:   job.Channel,
			Address:   job.Recipient,
			Reason:    derr.Error(),
			CreatedAt: now,
		}); err != nil {
			w.logger.Error().Err(err).Str("job_id", job.ID).Msg("suppress recipient")
		}
	default:
		if job.AttemptCount >= w.maxAttempts {
			job.Status = notifications.StatusFailed
			outcome = "exhausted"
		} else {
			job.Status = notifications.StatusRetrying
			job.NextAttemptAt = now.Add(w.backoff.Delay(job.AttemptCount))
			outcome = "retrying"
		}
	}
	w.finish(ctx, job, outcome, derr.Tier, elapsed)
}

func (w *Worker) finish(ctx context.Context, job notifications.Job, outcome string, tier notifications.Tier, elapsed time.Duration) {
	metrics.ObserveDelivery(string(job.Channel), outcome, string(tier), elapsed)
	event := w.logger.Info()
	if tier != "" {
		event = w.logger.Warn().Str("tier", string(tier)).Str("error", job.LastError)
	}
	event.Str("job_id", job.ID).
		Str("alert_id", job.AlertID).
		Str("channel", string(job.Channel)).
		Int("attempt", job.AttemptCount).
		Str("outcome", outcome).
		Msg("notification job processed")

	if err := w.jobs.Finish(ctx, job); err != nil {
		if errors.Is(err, notifications.ErrLeaseLost) {
			w.logger.Warn().Str("job_id", job.ID).Msg("notification job lease lost before finish")
			return
		}
		w.logger.Error().Err(err).Str("job_id", job.ID).Msg("record notification outcome")
	}
}

func (w *Worker) skipReason(ctx context.Context, job notifications.Job) (string, bool) {
	if job.Kind == notifications.KindReminder && w.alerts != nil {
		alert, err := w.alerts.Get(ctx, job.AlertID)
		if err != nil {
			w.logger.Warn().Err(err).Str("alert_id", job.AlertID).Msg("reminder alert lookup failed")
		} else if alert == nil || alert.Status != alerts.StatusTriggered {
			return "alert no longer unacknowledged", true
		}
	}
	suppressed, err := w.suppressions.IsSuppressed(ctx, job.Channel, job.Recipient)
	if err != nil {
		w.logger.Warn().Err(err).Str("job_id", job.ID).Msg("suppression lookup failed")
		return "", false
	}
	if suppressed {
		return "recipient suppressed", true
	}
	return "", false
}
