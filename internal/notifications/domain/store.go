package notifications

import (
	"context"
	"time"
)

// JobStore is the durable notification queue.
type JobStore interface {
	// Enqueue inserts job unless its dedup key exists; created is false for duplicates.
	Enqueue(ctx context.Context, job Job) (created bool, err error)
	// ClaimDue leases up to limit due jobs, at most one per ordering key: the oldest unfinished job of each key.
	ClaimDue(ctx context.Context, now time.Time, limit int, lease time.Duration) ([]Job, error)
	// Finish records the outcome of a claimed job. It returns ErrLeaseLost if the job is no longer delivering.
	Finish(ctx context.Context, job Job) error
	// Requeue moves a held job back to pending, optionally with a corrected recipient.
	Requeue(ctx context.Context, id, recipient string, now time.Time) (*Job, error)
	Get(ctx context.Context, id string) (*Job, error)
	List(ctx context.Context, filter JobFilter) ([]Job, error)
}

// Delivery is what a provider sends.
type Delivery struct {
	JobID     string
	Channel   Channel
	Recipient string
	Subject   string
	Message   string
}

// Provider sends deliveries over one channel. Errors should be *DeliveryError.
type Provider interface {
	Channel() Channel
	Send(ctx context.Context, delivery Delivery) (providerRef string, err error)
}
