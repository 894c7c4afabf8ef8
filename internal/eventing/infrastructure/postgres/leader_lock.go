package postgres

import (
	"context"
	"database/sql"
	"errors"
	"hash/fnv"
	"sync"
)

// AdvisoryLeader holds a session-level advisory lock on a dedicated connection.
type AdvisoryLeader struct {
	db  *sql.DB
	key int64

	mu   sync.Mutex
	conn *sql.Conn
}

// NewAdvisoryLeader constructs a leader lock for name.
func NewAdvisoryLeader(db *sql.DB, name string) (*AdvisoryLeader, error) {
	if db == nil {
		return nil, errors.New("leader lock: nil db")
	}
	if name == "" {
		return nil, errors.New("leader lock: empty name")
	}
	h := fnv.New64a()
	_, _ = h.Write([]byte(name))
	return &AdvisoryLeader{db: db, key: int64(h.Sum64())}, nil
}

// TryAcquire reports whether this process holds the lock, acquiring it when free.
func (l *AdvisoryLeader) TryAcquire(ctx context.Context) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conn != nil {
		// the lock lives as long as the session; verify the session is alive
		if err := l.conn.PingContext(ctx); err == nil {
			return true, nil
		}
		_ = l.conn.Close()
		l.conn = nil
	}
	conn, err := l.db.Conn(ctx)
	if err != nil {
		return false, err
	}
	var acquired bool
	if err := conn.QueryRowContext(ctx, `SELECT pg_try_advisory_lock($1)`, l.key).Scan(&acquired); err != nil {
		_ = conn.Close()
		return false, err
	}
	if !acquired {
		_ = conn.Close()
		return false, nil
	}
	l.conn = conn
	return true, nil
}

// Release gives up leadership.
func (l *AdvisoryLeader) Release(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conn == nil {
		return nil
	}
	_, err := l.conn.ExecContext(ctx, `SELECT pg_advisory_unlock($1)`, l.key)
	closeErr := l.conn.Close()
	l.conn = nil
	if err != nil {
		return err
	}
	return closeErr
}
