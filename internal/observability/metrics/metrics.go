package metrics

import (
	"database/sql"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

const (
	metricPrefix = "freshtrack_"

	resultSuccess = "success"
	resultError   = "error"
)

var (
	registerOnce sync.Once

	ingestRequests *prometheus.CounterVec
	ingestLatency  *prometheus.HistogramVec

	alertEventsTotal     *prometheus.CounterVec
	evaluationErrorTotal *prometheus.CounterVec

	asyncPublishTotal *prometheus.CounterVec

	gatewayConnections  prometheus.Gauge
	gatewayAuthRejected *prometheus.CounterVec
	gatewayFrames       *prometheus.CounterVec

	notificationJobs     *prometheus.CounterVec
	providerLatency      *prometheus.HistogramVec
	notificationsCreated *prometheus.CounterVec

	outboxPublishTotal   *prometheus.CounterVec
	outboxPublishLatency *prometheus.HistogramVec
	outboxDispatchTotal  *prometheus.CounterVec
	outboxDispatchRecord *prometheus.CounterVec
	consumerLag          *prometheus.GaugeVec
)

// Init registers metrics and DB-backed gauges.
func Init(db *sql.DB, logger zerolog.Logger) {
	registerOnce.Do(func() {
		ingestRequests = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "readings_ingested_total",
				Help: "Total readings ingested by result",
			},
			[]string{"result"},
		)
		ingestLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "ingest_latency_seconds",
				Help:    "Reading ingestion latency including evaluation",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"result"},
		)

		alertEventsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "alert_events_total",
				Help: "Total alert lifecycle events by type",
			},
			[]string{"event"},
		)
		evaluationErrorTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "evaluation_errors_total",
				Help: "Evaluation errors swallowed on the ingestion path by kind",
			},
			[]string{"kind"},
		)

		asyncPublishTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "async_publish_total",
				Help: "Fire-and-forget event deliveries by sink and result",
			},
			[]string{"sink", "result"},
		)

		gatewayConnections = prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: metricPrefix + "gateway_connections",
				Help: "Live gateway connections on this process",
			},
		)
		gatewayAuthRejected = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "gateway_auth_rejected_total",
				Help: "Gateway connect attempts rejected by reason",
			},
			[]string{"reason"},
		)
		gatewayFrames = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "gateway_frames_total",
				Help: "Broadcast frames by outcome",
			},
			[]string{"outcome"},
		)

		notificationJobs = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "notification_attempts_total",
				Help: "Notification delivery attempts by channel, outcome and tier",
			},
			[]string{"channel", "outcome", "tier"},
		)
		providerLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "provider_latency_seconds",
				Help:    "Provider call latency by channel",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"channel"},
		)
		notificationsCreated = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "notification_jobs_created_total",
				Help: "Notification jobs created by kind and result",
			},
			[]string{"kind", "result"},
		)

		outboxPublishTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "outbox_publish_total",
				Help: "Total outbox publish operations by result",
			},
			[]string{"result"},
		)
		outboxPublishLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "outbox_publish_latency_seconds",
				Help:    "Outbox publish latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"result"},
		)
		outboxDispatchTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "outbox_dispatch_total",
				Help: "Total outbox dispatch runs by result",
			},
			[]string{"result"},
		)
		outboxDispatchRecord = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "outbox_dispatch_records_total",
				Help: "Outbox records handled by outcome",
			},
			[]string{"outcome"},
		)
		consumerLag = prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: metricPrefix + "event_consumer_lag_seconds",
				Help: "Consumer processing lag in seconds",
			},
			[]string{"consumer"},
		)

		prometheus.MustRegister(
			ingestRequests,
			ingestLatency,
			alertEventsTotal,
			evaluationErrorTotal,
			asyncPublishTotal,
			gatewayConnections,
			gatewayAuthRejected,
			gatewayFrames,
			notificationJobs,
			providerLatency,
			notificationsCreated,
			outboxPublishTotal,
			outboxPublishLatency,
			outboxDispatchTotal,
			outboxDispatchRecord,
			consumerLag,
		)

		if db != nil {
			registerDBMetrics(db, logger)
		}
	})
}

// ObserveIngest records ingestion duration and result.
func ObserveIngest(result string, duration time.Duration) {
	if result == "" {
		result = resultSuccess
	}
	if ingestRequests != nil {
		ingestRequests.WithLabelValues(result).Inc()
	}
	if ingestLatency != nil {
		ingestLatency.WithLabelValues(result).Observe(duration.Seconds())
	}
}

// IncAlertEvent increments alert lifecycle counters.
func IncAlertEvent(event string) {
	if event == "" {
		event = "unknown"
	}
	if alertEventsTotal != nil {
		alertEventsTotal.WithLabelValues(event).Inc()
	}
}

// IncEvaluationError counts an evaluation error that did not fail ingestion.
func IncEvaluationError(kind string) {
	if kind == "" {
		kind = "unknown"
	}
	if evaluationErrorTotal != nil {
		evaluationErrorTotal.WithLabelValues(kind).Inc()
	}
}

// IncAsyncPublish counts an async sink delivery result.
func IncAsyncPublish(sink, result string) {
	if sink == "" {
		sink = "unknown"
	}
	if asyncPublishTotal != nil {
		asyncPublishTotal.WithLabelValues(sink, result).Inc()
	}
}

// AddGatewayConnections adjusts the live connection gauge.
func AddGatewayConnections(delta int) {
	if gatewayConnections != nil {
		gatewayConnections.Add(float64(delta))
	}
}

// IncGatewayAuthRejected counts a rejected connect.
func IncGatewayAuthRejected(reason string) {
	if reason == "" {
		reason = "unknown"
	}
	if gatewayAuthRejected != nil {
		gatewayAuthRejected.WithLabelValues(reason).Inc()
	}
}

// IncGatewayFrame counts a frame outcome (delivered, dropped, isolated).
func IncGatewayFrame(outcome string) {
	if gatewayFrames != nil {
		gatewayFrames.WithLabelValues(outcome).Inc()
	}
}

// ObserveDelivery records a provider attempt.
func ObserveDelivery(channel, outcome, tier string, duration time.Duration) {
	if tier == "" {
		tier = "none"
	}
	if notificationJobs != nil {
		notificationJobs.WithLabelValues(channel, outcome, tier).Inc()
	}
	if providerLatency != nil && duration > 0 {
		providerLatency.WithLabelValues(channel).Observe(duration.Seconds())
	}
}

// IncJobCreated counts job creation by kind (alert, reminder) and result (created, duplicate, suppressed).
func IncJobCreated(kind, result string) {
	if notificationsCreated != nil {
		notificationsCreated.WithLabelValues(kind, result).Inc()
	}
}

// ObserveOutboxPublish records an outbox insert.
func ObserveOutboxPublish(result string, duration time.Duration) {
	if result == "" {
		result = resultSuccess
	}
	if outboxPublishTotal != nil {
		outboxPublishTotal.WithLabelValues(result).Inc()
	}
	if outboxPublishLatency != nil {
		outboxPublishLatency.WithLabelValues(result).Observe(duration.Seconds())
	}
}

// ObserveOutboxDispatch records a dispatch run.
func ObserveOutboxDispatch(result string, sent, failed, dlq int) {
	if result == "" {
		result = resultSuccess
	}
	if outboxDispatchTotal != nil {
		outboxDispatchTotal.WithLabelValues(result).Inc()
	}
	if outboxDispatchRecord == nil {
		return
	}
	if sent > 0 {
		outboxDispatchRecord.WithLabelValues("sent").Add(float64(sent))
	}
	if failed > 0 {
		outboxDispatchRecord.WithLabelValues("failed").Add(float64(failed))
	}
	if dlq > 0 {
		outboxDispatchRecord.WithLabelValues("dlq").Add(float64(dlq))
	}
}

// ObserveConsumerLag sets consumer lag in seconds.
func ObserveConsumerLag(consumer string, lag time.Duration) {
	if consumer == "" {
		consumer = "unknown"
	}
	if lag < 0 {
		lag = 0
	}
	if consumerLag != nil {
		consumerLag.WithLabelValues(consumer).Set(lag.Seconds())
	}
}

// Exported constants for callers.
const (
	ResultSuccess = resultSuccess
	ResultError   = resultError
	ResultDropped = "dropped"
)
