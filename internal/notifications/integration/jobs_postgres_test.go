package integration_test

import (
	"context"
	"database/sql"
	"os"
	"sync"
	"testing"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	notifications "github.com/getdatasurge/fresh-staged-sub013/internal/notifications/domain"
	notifyrepo "github.com/getdatasurge/fresh-staged-sub013/internal/notifications/infrastructure/postgres"
)

func TestJobStoreClaimsOnePerKeyAcrossWorkers(t *testing.T) {
	db := openDB(t)
	ctx := context.Background()
	_, _ = db.ExecContext(ctx, "DELETE FROM notification_jobs")

	store := notifyrepo.NewJobStore(db)
	now := time.Now().UTC().Truncate(time.Microsecond)
	for _, id := range []string{"job-a1", "job-a2", "job-b1"} {
		key := "unit-a|rule-1"
		if id == "job-b1" {
			key = "unit-b|rule-1"
		}
		created, err := store.Enqueue(ctx, notifications.Job{
			ID: id, OrganizationID: "org-a", AlertID: "alert-" + id, UnitID: "unit", RuleID: "rule-1",
			Kind: notifications.KindTransition, Channel: notifications.ChannelSMS, Recipient: "+15550001",
			DedupKey: "dedup-" + id, OrderingKey: key, NextAttemptAt: now, CreatedAt: now,
		})
		require.NoError(t, err)
		require.True(t, created)
	}
	dup, err := store.Enqueue(ctx, notifications.Job{
		ID: "job-dup", AlertID: "alert-x", Channel: notifications.ChannelSMS, Recipient: "+1",
		DedupKey: "dedup-job-a1", OrderingKey: "unit-a|rule-1",
	})
	require.NoError(t, err)
	assert.False(t, dup)

	var (
		mu      sync.Mutex
		claimed []notifications.Job
		wg      sync.WaitGroup
	)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			jobs, err := store.ClaimDue(ctx, now, 10, time.Minute)
			assert.NoError(t, err)
			mu.Lock()
			claimed = append(claimed, jobs...)
			mu.Unlock()
		}()
	}
	wg.Wait()

	ids := make([]string, 0, len(claimed))
	for _, job := range claimed {
		ids = append(ids, job.ID)
	}
	assert.ElementsMatch(t, []string{"job-a1", "job-b1"}, ids)

	for _, job := range claimed {
		job.Status = notifications.StatusDelivered
		job.AttemptCount = 1
		job.DeliveredAt = now
		job.UpdatedAt = now
		require.NoError(t, store.Finish(ctx, job))
	}
	next, err := store.ClaimDue(ctx, now, 10, time.Minute)
	require.NoError(t, err)
	require.Len(t, next, 1)
	assert.Equal(t, "job-a2", next[0].ID)
}

func openDB(t *testing.T) *sql.DB {
	t.Helper()
	dsn := os.Getenv("PG_DSN")
	if dsn == "" {
		t.Skip("PG_DSN not set")
	}
	db, err := sql.Open("pgx", dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	if !tableExists(t, db, "notification_jobs") {
		t.Skip("notification_jobs table missing; run migrations")
	}
	return db
}

func tableExists(t *testing.T, db *sql.DB, name string) bool {
	t.Helper()
	var exists bool
	err := db.QueryRow("SELECT to_regclass($1) IS NOT NULL", "public."+name).Scan(&exists)
	require.NoError(t, err)
	return exists
}
