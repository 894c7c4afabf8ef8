package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	alertapp "github.com/getdatasurge/fresh-staged-sub013/internal/alerts/application"
	alerts "github.com/getdatasurge/fresh-staged-sub013/internal/alerts/domain"
	alertmemory "github.com/getdatasurge/fresh-staged-sub013/internal/alerts/infrastructure/memory"
	alertrepo "github.com/getdatasurge/fresh-staged-sub013/internal/alerts/infrastructure/postgres"
	alerthttp "github.com/getdatasurge/fresh-staged-sub013/internal/alerts/interfaces/http"
	"github.com/getdatasurge/fresh-staged-sub013/internal/audit"
	"github.com/getdatasurge/fresh-staged-sub013/internal/auth"
	"github.com/getdatasurge/fresh-staged-sub013/internal/config"
	"github.com/getdatasurge/fresh-staged-sub013/internal/eventing"
	eventingkafka "github.com/getdatasurge/fresh-staged-sub013/internal/eventing/infrastructure/kafka"
	eventingrepo "github.com/getdatasurge/fresh-staged-sub013/internal/eventing/infrastructure/postgres"
	"github.com/getdatasurge/fresh-staged-sub013/internal/gateway"
	"github.com/getdatasurge/fresh-staged-sub013/internal/gateway/fanout"
	"github.com/getdatasurge/fresh-staged-sub013/internal/logging"
	masterdata "github.com/getdatasurge/fresh-staged-sub013/internal/masterdata/domain"
	mdmemory "github.com/getdatasurge/fresh-staged-sub013/internal/masterdata/infrastructure/memory"
	mdrepo "github.com/getdatasurge/fresh-staged-sub013/internal/masterdata/infrastructure/postgres"
	notifyapp "github.com/getdatasurge/fresh-staged-sub013/internal/notifications/application"
	notifications "github.com/getdatasurge/fresh-staged-sub013/internal/notifications/domain"
	notifymemory "github.com/getdatasurge/fresh-staged-sub013/internal/notifications/infrastructure/memory"
	notifyrepo "github.com/getdatasurge/fresh-staged-sub013/internal/notifications/infrastructure/postgres"
	"github.com/getdatasurge/fresh-staged-sub013/internal/notifications/providers"
	"github.com/getdatasurge/fresh-staged-sub013/internal/observability/metrics"
)

const revocationTTL = 24 * time.Hour

// app holds the collaborators shared by serve and worker.
type app struct {
	cfg    config.Config
	logger zerolog.Logger

	db    *sql.DB
	redis *redis.Client

	directory    masterdata.Directory
	rules        alertapp.RuleStore
	alertStore   alertapp.AlertStore
	breaches     alertapp.BreachStore
	readings     alertapp.ReadingStore
	jobs         notifications.JobStore
	recipients   notifications.RecipientDirectory
	suppressions notifications.SuppressionStore
	auditor      audit.Logger
	revocations  auth.RevocationChecker

	bus       *eventing.InMemoryBus
	publisher *eventing.AsyncPublisher
	gateway   *gateway.Gateway
	service   *alertapp.Service

	closers []func() error
}

func newApp(ctx context.Context, path string) (*app, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, logger: logging.Init(cfg.Log.Level, cfg.Log.Format), bus: eventing.NewInMemoryBus()}

	if cfg.RequiresDatabase() || cfg.Database.URL != "" {
		db, err := openDB(ctx, cfg.Database)
		if err != nil {
			return nil, err
		}
		a.db = db
		a.closers = append(a.closers, db.Close)
	}
	metrics.Init(a.db, logging.WithComponent("metrics"))

	if cfg.Gateway.Fanout == config.FanoutRedis || cfg.Gateway.Revocation == "redis" {
		a.redis = redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		if err := a.redis.Ping(ctx).Err(); err != nil {
			_ = a.redis.Close()
			return nil, fmt.Errorf("redis ping: %w", err)
		}
		a.closers = append(a.closers, a.redis.Close)
	}

	if a.db != nil {
		a.directory = mdrepo.NewDirectoryRepository(a.db)
		a.rules = alertrepo.NewRuleRepository(a.db)
		var alertOpts []alertrepo.AlertOption
		if a.outboxed() {
			alertOpts = append(alertOpts, alertrepo.WithEventRecorder(eventingrepo.NewOutboxStore(a.db)))
		}
		a.alertStore = alertrepo.NewAlertRepository(a.db, alertOpts...)
		a.breaches = alertrepo.NewBreachRepository(a.db)
		a.readings = alertrepo.NewReadingRepository(a.db)
		a.jobs = notifyrepo.NewJobStore(a.db)
		a.auditor = audit.NewRepository(a.db)
	} else {
		a.logger.Warn().Msg("no database configured: state is process-local and lost on restart")
		a.directory = mdmemory.NewDirectory()
		a.rules = alertmemory.NewRuleRepository()
		a.alertStore = alertmemory.NewAlertRepository()
		a.breaches = alertmemory.NewBreachRepository()
		a.readings = alertmemory.NewReadingRepository(10000)
		a.jobs = notifymemory.NewJobStore()
		a.auditor = audit.NewMemoryLogger()
	}

	if cfg.Notifications.Recipients == "postgres" {
		repo := notifyrepo.NewRecipientRepository(a.db)
		a.recipients = repo
		a.suppressions = repo
	} else {
		static, err := staticRecipients(cfg.Recipients)
		if err != nil {
			return nil, err
		}
		a.recipients = notifymemory.NewStaticDirectory(static)
		a.suppressions = notifymemory.NewSuppressions()
	}

	if cfg.Gateway.Revocation == "redis" {
		revocations, err := auth.NewRedisRevocations(a.redis, revocationTTL)
		if err != nil {
			return nil, err
		}
		a.revocations = revocations
	} else {
		a.revocations = auth.NewMemoryRevocations()
	}
	return a, nil
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn().Err(err).Msg("close failed")
		}
	}
}

func openDB(ctx context.Context, cfg config.DatabaseConfig) (*sql.DB, error) {
	if cfg.URL == "" {
		return nil, errors.New("database.url is required")
	}
	db, err := sql.Open("pgx", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("db open: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return db, nil
}

// buildAlerting wires the gateway, the async publisher and the alert service.
func (a *app) buildAlerting(ctx context.Context) error {
	cfg := a.cfg

	backend, err := a.fanout()
	if err != nil {
		return err
	}
	verifier, err := auth.NewVerifier([]byte(cfg.Auth.JWTSecret), a.revocations)
	if err != nil {
		return err
	}
	authenticator, err := gateway.NewAuthenticator(verifier, a.revocations)
	if err != nil {
		return err
	}
	tenants, err := auth.NewDirectoryChecker(a.directory)
	if err != nil {
		return err
	}
	gw, err := gateway.New(ctx, authenticator, tenants, backend, gateway.WithLogger(logging.WithComponent("gateway")))
	if err != nil {
		_ = backend.Close()
		return err
	}
	a.gateway = gw

	sinks := []eventing.Sink{gw}
	queue, err := a.queueSink()
	if err != nil {
		return err
	}
	if queue != nil {
		sinks = append(sinks, eventing.OnlyTypes(queue, alerts.EventAlertTriggered, alerts.EventAlertResolved))
	}
	publisher, err := eventing.NewAsyncPublisher(sinks,
		eventing.WithShards(cfg.Events.Shards),
		eventing.WithBuffer(cfg.Events.Buffer),
		eventing.WithRetry(cfg.Events.MaxRetries, cfg.Events.RetryBackoff),
		eventing.WithAsyncLogger(logging.WithComponent("publisher")),
	)
	if err != nil {
		return err
	}
	a.publisher = publisher

	service, err := alertapp.NewService(a.rules, a.alertStore, a.breaches, a.readings,
		alertapp.WithPublisher(publisher),
		alertapp.WithAuditor(a.auditor),
		alertapp.WithLogger(logging.WithComponent("alerts")),
	)
	if err != nil {
		return err
	}
	a.service = service
	return nil
}

func (a *app) fanout() (gateway.Fanout, error) {
	cfg := a.cfg
	switch cfg.Gateway.Fanout {
	case config.FanoutRedis:
		return fanout.NewRedis(a.redis,
			fanout.WithRedisChannel(cfg.Gateway.Channel),
			fanout.WithRedisLogger(logging.WithComponent("fanout")),
		)
	case config.FanoutNATS:
		return fanout.DialNATS(cfg.NATS.URL,
			fanout.WithNATSSubject(cfg.Gateway.Channel),
			fanout.WithNATSLogger(logging.WithComponent("fanout")),
		)
	default:
		a.logger.Warn().Msg("local fan-out: broadcasts reach only clients of this process")
		return gateway.NewLocalFanout(logging.WithComponent("fanout")), nil
	}
}

// outboxed reports whether alert transitions commit their events to the outbox.
func (a *app) outboxed() bool {
	queue := a.cfg.Events.Queue
	return a.db != nil && (queue == config.QueuePostgres || queue == config.QueueKafka)
}

// queueSink returns where notification-relevant events are handed off after commit.
// It is nil when the alert store already writes them to the outbox.
func (a *app) queueSink() (eventing.Sink, error) {
	cfg := a.cfg
	switch {
	case a.outboxed():
		return nil, nil
	case cfg.Events.Queue == config.QueueKafka:
		a.logger.Warn().Msg("kafka queue without a database: event order is kept within this process only")
		producer, err := eventingkafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.Topic, logging.WithComponent("kafka-producer"))
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, producer.Close)
		return producer, nil
	default:
		return eventing.NewBusSink(a.bus)
	}
}

// runOutbox drains the outbox into target while this process holds the outbox lock.
func (a *app) runOutbox(ctx context.Context, target eventing.Publisher) error {
	cfg := a.cfg.Events
	leader, err := eventingrepo.NewAdvisoryLeader(a.db, "freshtrack-outbox")
	if err != nil {
		return err
	}
	outbox, err := eventing.NewDispatcher(target, eventingrepo.NewOutboxStore(a.db), eventing.NewAlertRegistry(), eventingrepo.NewDLQStore(a.db),
		eventing.WithLeader(leader),
		eventing.WithDispatcherLogger(logging.WithComponent("outbox-dispatcher")),
	)
	if err != nil {
		return err
	}
	go outbox.Run(ctx, cfg.OutboxInterval, cfg.OutboxBatch)
	return nil
}

// startIntake subscribes the notification dispatcher and starts moving queued events onto the bus.
func (a *app) startIntake(ctx context.Context) error {
	cfg := a.cfg

	var dispatcherOpts []notifyapp.DispatcherOption
	if cfg.Notifications.Template != "" {
		tpl, err := notifyapp.NewTemplate(cfg.Notifications.Template)
		if err != nil {
			return err
		}
		dispatcherOpts = append(dispatcherOpts, notifyapp.WithTemplate(tpl))
	}
	dispatcherOpts = append(dispatcherOpts,
		notifyapp.WithUnitReader(a.directory),
		notifyapp.WithReminder(cfg.Notifications.ReminderAfter),
		notifyapp.WithDispatcherLogger(logging.WithComponent("notification-dispatcher")),
	)
	dispatcher, err := notifyapp.NewDispatcher(a.jobs, a.recipients, a.suppressions, dispatcherOpts...)
	if err != nil {
		return err
	}

	var processed eventing.ProcessedStore = eventing.NewMemoryProcessedStore()
	if a.db != nil {
		processed = eventingrepo.NewProcessedStore(a.db)
	}
	for _, eventType := range []alerts.EventType{alerts.EventAlertTriggered, alerts.EventAlertResolved} {
		eventing.Subscribe(a.bus, string(eventType), notifyapp.ConsumerName, dispatcher.Handler(), processed)
	}

	switch cfg.Events.Queue {
	case config.QueuePostgres:
		if err := a.runOutbox(ctx, a.bus); err != nil {
			return err
		}
	case config.QueueKafka:
		var dlq eventing.DLQStore
		if a.db != nil {
			producer, err := eventingkafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.Topic, logging.WithComponent("kafka-producer"))
			if err != nil {
				return err
			}
			a.closers = append(a.closers, producer.Close)
			relay, err := eventing.NewSinkRelay(producer)
			if err != nil {
				return err
			}
			if err := a.runOutbox(ctx, relay); err != nil {
				return err
			}
			dlq = eventingrepo.NewDLQStore(a.db)
		}
		consumer, err := eventingkafka.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.Topic, cfg.Kafka.GroupID, a.bus, eventing.NewAlertRegistry(), dlq, logging.WithComponent("kafka-consumer"))
		if err != nil {
			return err
		}
		a.closers = append(a.closers, consumer.Close)
		go func() {
			if err := consumer.Run(ctx); err != nil {
				a.logger.Error().Err(err).Msg("kafka consumer stopped")
			}
		}()
	}
	return nil
}

// startWorker starts delivering due notification jobs.
func (a *app) startWorker(ctx context.Context) error {
	cfg := a.cfg.Notifications
	worker, err := notifyapp.NewWorker(a.jobs, a.suppressions, a.providers(),
		notifyapp.WithBackoff(cfg.BaseBackoff, cfg.MaxBackoff),
		notifyapp.WithMaxAttempts(cfg.MaxAttempts),
		notifyapp.WithProviderTimeout(cfg.ProviderTimeout),
		notifyapp.WithLease(cfg.Lease),
		notifyapp.WithBatch(cfg.Batch, cfg.Workers),
		notifyapp.WithAlertReader(a.alertStore),
		notifyapp.WithWorkerLogger(logging.WithComponent("notification-worker")),
	)
	if err != nil {
		return err
	}

	var wake <-chan struct{}
	if a.db != nil {
		listener, err := notifyrepo.NewJobListener(a.cfg.Database.URL, logging.WithComponent("job-listener"))
		if err != nil {
			a.logger.Warn().Err(err).Msg("job listener unavailable, polling only")
		} else {
			a.closers = append(a.closers, listener.Close)
			wake = listener.Wake()
		}
	}
	go worker.Run(ctx, cfg.PollInterval, wake)
	return nil
}

func (a *app) providers() []notifications.Provider {
	cfg := a.cfg.Providers
	var out []notifications.Provider
	if cfg.SMS.AccountSID != "" && cfg.SMS.AuthToken != "" {
		sms, err := providers.NewSMSProvider(cfg.SMS.BaseURL, cfg.SMS.AccountSID, cfg.SMS.AuthToken, cfg.SMS.From)
		if err != nil {
			a.logger.Warn().Err(err).Msg("sms provider disabled")
		} else {
			out = append(out, sms)
		}
	}
	if cfg.Email.ServerToken != "" {
		email, err := providers.NewEmailProvider(cfg.Email.BaseURL, cfg.Email.ServerToken, cfg.Email.From)
		if err != nil {
			a.logger.Warn().Err(err).Msg("email provider disabled")
		} else {
			out = append(out, email)
		}
	}
	if cfg.Webhook.Enabled {
		out = append(out, providers.NewWebhookProvider())
	}
	if len(out) == 0 {
		a.logger.Warn().Msg("no notification providers configured: jobs will be held")
	}
	return out
}

func staticRecipients(entries []config.RecipientConfig) ([]notifications.Recipient, error) {
	out := make([]notifications.Recipient, 0, len(entries))
	for i, entry := range entries {
		channel, ok := notifications.ParseChannel(entry.Channel)
		if !ok {
			return nil, fmt.Errorf("recipients[%d]: unknown channel %q", i, entry.Channel)
		}
		var severity alerts.Severity
		if entry.MinSeverity != "" {
			if severity, ok = alerts.ParseSeverity(entry.MinSeverity); !ok {
				return nil, fmt.Errorf("recipients[%d]: unknown severity %q", i, entry.MinSeverity)
			}
		}
		out = append(out, notifications.Recipient{
			ID:             fmt.Sprintf("static-%d", i),
			OrganizationID: entry.OrganizationID,
			SiteID:         entry.SiteID,
			Channel:        channel,
			Address:        strings.TrimSpace(entry.Address),
			MinSeverity:    severity,
		})
	}
	return out, nil
}

// deliveryHistory exposes a tenant's jobs for one alert to the incident report.
func deliveryHistory(jobs notifications.JobStore) alerthttp.DeliveryHistory {
	return func(ctx context.Context, organizationID, alertID string) ([]alerthttp.DeliveryRecord, error) {
		list, err := jobs.List(ctx, notifications.JobFilter{OrganizationID: organizationID, AlertID: alertID, Limit: 200})
		if err != nil {
			return nil, err
		}
		out := make([]alerthttp.DeliveryRecord, 0, len(list))
		for _, job := range list {
			out = append(out, alerthttp.DeliveryRecord{
				Channel:   string(job.Channel),
				Recipient: job.Recipient,
				Kind:      string(job.Kind),
				Status:    string(job.Status),
				Attempts:  job.AttemptCount,
				LastError: job.LastError,
				UpdatedAt: job.UpdatedAt,
			})
		}
		return out, nil
	}
}
