package memory

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	notifications "github.com/getdatasurge/fresh-staged-sub013/internal/notifications/domain"
)

func job(id, key string, at time.Time) notifications.Job {
	return notifications.Job{
		ID: id, OrganizationID: "org-a", AlertID: "alert-" + id, Channel: notifications.ChannelSMS,
		Recipient: "+15550001", DedupKey: "dedup-" + id, OrderingKey: key, NextAttemptAt: at, CreatedAt: at,
	}
}

func TestEnqueueDeduplicates(t *testing.T) {
	store := NewJobStore()
	ctx := context.Background()
	now := time.Now().UTC()
	created, err := store.Enqueue(ctx, job("1", "k", now))
	require.NoError(t, err)
	assert.True(t, created)

	dup := job("2", "k", now)
	dup.DedupKey = "dedup-1"
	created, err = store.Enqueue(ctx, dup)
	require.NoError(t, err)
	assert.False(t, created)
}

func TestClaimDueOneJobPerKeyInOrder(t *testing.T) {
	store := NewJobStore()
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	for i := 1; i <= 3; i++ {
		_, err := store.Enqueue(ctx, job(fmt.Sprintf("a%d", i), "key-a", now))
		require.NoError(t, err)
	}
	_, err := store.Enqueue(ctx, job("b1", "key-b", now))
	require.NoError(t, err)

	claimed, err := store.ClaimDue(ctx, now, 10, time.Minute)
	require.NoError(t, err)
	ids := []string{}
	for _, j := range claimed {
		ids = append(ids, j.ID)
	}
	assert.ElementsMatch(t, []string{"a1", "b1"}, ids)

	// key-a stays blocked while a1 is leased
	again, err := store.ClaimDue(ctx, now, 10, time.Minute)
	require.NoError(t, err)
	assert.Empty(t, again)

	first := claimed[0]
	if first.ID != "a1" {
		first = claimed[1]
	}
	first.Status = notifications.StatusDelivered
	first.DeliveredAt = now
	require.NoError(t, store.Finish(ctx, first))

	next, err := store.ClaimDue(ctx, now, 10, time.Minute)
	require.NoError(t, err)
	require.Len(t, next, 1)
	assert.Equal(t, "a2", next[0].ID)
}

func TestClaimDueReclaimsExpiredLease(t *testing.T) {
	store := NewJobStore()
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	_, err := store.Enqueue(ctx, job("1", "k", now))
	require.NoError(t, err)
	first, err := store.ClaimDue(ctx, now, 1, time.Minute)
	require.NoError(t, err)
	require.Len(t, first, 1)

	second, err := store.ClaimDue(ctx, now.Add(2*time.Minute), 1, time.Minute)
	require.NoError(t, err)
	require.Len(t, second, 1)

	first[0].Status = notifications.StatusDelivered
	assert.ErrorIs(t, store.Finish(ctx, first[0]), notifications.ErrLeaseLost)
	second[0].Status = notifications.StatusDelivered
	assert.NoError(t, store.Finish(ctx, second[0]))
}

func TestHeldJobDoesNotBlockKeyAndRequeues(t *testing.T) {
	store := NewJobStore()
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	_, err := store.Enqueue(ctx, job("1", "k", now))
	require.NoError(t, err)
	_, err = store.Enqueue(ctx, job("2", "k", now))
	require.NoError(t, err)

	claimed, err := store.ClaimDue(ctx, now, 1, time.Minute)
	require.NoError(t, err)
	held := claimed[0]
	held.Status = notifications.StatusHeld
	held.AttemptCount = 1
	require.NoError(t, store.Finish(ctx, held))

	claimed, err = store.ClaimDue(ctx, now, 1, time.Minute)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, "2", claimed[0].ID)

	_, err = store.Requeue(ctx, "2", "", now)
	assert.ErrorIs(t, err, notifications.ErrJobNotHeld)

	requeued, err := store.Requeue(ctx, "1", "+15559999", now)
	require.NoError(t, err)
	assert.Equal(t, notifications.StatusPending, requeued.Status)
	assert.Equal(t, "+15559999", requeued.Recipient)
	assert.Equal(t, 1, requeued.AttemptCount)
}

func TestSuppressionsNormalizeAddress(t *testing.T) {
	s := NewSuppressions()
	ctx := context.Background()
	require.NoError(t, s.Suppress(ctx, notifications.Suppression{Channel: notifications.ChannelEmail, Address: "Ops@Example.com "}))
	ok, err := s.IsSuppressed(ctx, notifications.ChannelEmail, "ops@example.com")
	require.NoError(t, err)
	assert.True(t, ok)

	lifted, err := s.Lift(ctx, notifications.ChannelEmail, "OPS@example.com")
	require.NoError(t, err)
	assert.True(t, lifted)
	ok, err = s.IsSuppressed(ctx, notifications.ChannelEmail, "ops@example.com")
	require.NoError(t, err)
	assert.False(t, ok)
}
