package postgres

import (
	"errors"
	"time"

	"github.com/lib/pq"
	"github.com/rs/zerolog"
)

// JobsChannel is the NOTIFY channel raised when a job becomes pending.
const JobsChannel = "notification_jobs"

// JobListener turns LISTEN/NOTIFY on JobsChannel into worker wake-ups.
type JobListener struct {
	listener *pq.Listener
	wake     chan struct{}
	done     chan struct{}
	logger   zerolog.Logger
}

// NewJobListener opens a dedicated LISTEN connection.
func NewJobListener(dsn string, logger zerolog.Logger) (*JobListener, error) {
	if dsn == "" {
		return nil, errors.New("job listener: empty dsn")
	}
	l := &JobListener{
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
		logger: logger,
	}
	l.listener = pq.NewListener(dsn, time.Second, time.Minute, func(ev pq.ListenerEventType, err error) {
		switch ev {
		case pq.ListenerEventDisconnected:
			logger.Warn().Err(err).Msg("job listener disconnected")
		case pq.ListenerEventReconnected:
			logger.Info().Msg("job listener reconnected")
			l.signal()
		case pq.ListenerEventConnectionAttemptFailed:
			logger.Warn().Err(err).Msg("job listener connect failed")
		}
	})
	if err := l.listener.Listen(JobsChannel); err != nil {
		_ = l.listener.Close()
		return nil, err
	}
	go l.loop()
	return l, nil
}

// Wake fires at most once per burst of notifications.
func (l *JobListener) Wake() <-chan struct{} {
	return l.wake
}

// Close stops listening.
func (l *JobListener) Close() error {
	close(l.done)
	return l.listener.Close()
}

func (l *JobListener) loop() {
	ping := time.NewTicker(90 * time.Second)
	defer ping.Stop()
	for {
		select {
		case <-l.done:
			return
		case n, ok := <-l.listener.Notify:
			if !ok {
				return
			}
			if n != nil {
				l.signal()
			}
		case <-ping.C:
			if err := l.listener.Ping(); err != nil {
				l.logger.Warn().Err(err).Msg("job listener ping failed")
			}
		}
	}
}

func (l *JobListener) signal() {
	select {
	case l.wake <- struct{}{}:
	default:
	}
}
