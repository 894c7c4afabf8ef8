package metrics

import (
	"database/sql"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

func registerDBMetrics(db *sql.DB, logger zerolog.Logger) {
	gauges := []struct {
		name  string
		help  string
		query string
	}{
		{"event_outbox_pending", "Pending outbox records", "SELECT COUNT(*) FROM event_outbox WHERE status = 'pending'"},
		{"event_dlq_count", "Dead letter queue records", "SELECT COUNT(*) FROM dead_letter_events"},
		{"notification_jobs_pending", "Notification jobs waiting for delivery", "SELECT COUNT(*) FROM notification_jobs WHERE status IN ('pending', 'retrying', 'delivering')"},
		{"notification_jobs_held", "Notification jobs held for manual correction", "SELECT COUNT(*) FROM notification_jobs WHERE status = 'held'"},
		{"notification_jobs_failed", "Notification jobs in terminal failure", "SELECT COUNT(*) FROM notification_jobs WHERE status = 'failed'"},
		{"alerts_open", "Open alerts across all organizations", "SELECT COUNT(*) FROM alerts WHERE status IN ('triggered', 'acknowledged')"},
	}
	for _, g := range gauges {
		query := g.query
		prometheus.MustRegister(prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Name: metricPrefix + g.name,
				Help: g.help,
			},
			func() float64 {
				return queryCount(db, logger, query)
			},
		))
	}
}

func queryCount(db *sql.DB, logger zerolog.Logger, query string) float64 {
	if db == nil {
		return 0
	}
	var count int64
	if err := db.QueryRow(query).Scan(&count); err != nil {
		logger.Warn().Err(err).Msg("metrics query failed")
		return 0
	}
	if count < 0 {
		return 0
	}
	return float64(count)
}
