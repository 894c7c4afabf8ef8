package memory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	notifications "github.com/getdatasurge/fresh-staged-sub013/internal/notifications/domain"
)

// JobStore is an in-process notifications.JobStore.
type JobStore struct {
	mu    sync.Mutex
	seq   int64
	jobs  map[string]*notifications.Job
	dedup map[string]string
}

// NewJobStore constructs an empty store.
func NewJobStore() *JobStore {
	return &JobStore{
		jobs:  make(map[string]*notifications.Job),
		dedup: make(map[string]string),
	}
}

// Enqueue implements notifications.JobStore.
func (s *JobStore) Enqueue(_ context.Context, job notifications.Job) (bool, error) {
	if err := job.Validate(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.dedup[job.DedupKey]; ok {
		return false, nil
	}
	if _, ok := s.jobs[job.ID]; ok {
		return false, errors.New("notification job: duplicate id")
	}
	s.seq++
	job.Seq = s.seq
	if job.Status == "" {
		job.Status = notifications.StatusPending
	}
	stored := job
	s.jobs[job.ID] = &stored
	s.dedup[job.DedupKey] = job.ID
	return true, nil
}

// ClaimDue implements notifications.JobStore.
func (s *JobStore) ClaimDue(_ context.Context, now time.Time, limit int, lease time.Duration) ([]notifications.Job, error) {
	if limit <= 0 {
		return nil, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	ordered := make([]*notifications.Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		ordered = append(ordered, job)
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Seq < ordered[j].Seq })

	leaseUntil := now.Add(lease).UTC().Truncate(time.Microsecond)
	seen := make(map[string]struct{})
	var claimed []notifications.Job
	for _, job := range ordered {
		if len(claimed) >= limit {
			break
		}
		if !blocksKey(job.Status) {
			continue
		}
		if _, ok := seen[job.OrderingKey]; ok {
			continue
		}
		seen[job.OrderingKey] = struct{}{}
		if !claimable(*job, now) {
			continue
		}
		job.Status = notifications.StatusDelivering
		job.LeaseUntil = leaseUntil
		job.UpdatedAt = now
		claimed = append(claimed, *job)
	}
	return claimed, nil
}

// Finish implements notifications.JobStore.
func (s *JobStore) Finish(_ context.Context, job notifications.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.jobs[job.ID]
	if !ok {
		return notifications.ErrJobNotFound
	}
	if stored.Status != notifications.StatusDelivering || !stored.LeaseUntil.Equal(job.LeaseUntil) {
		return notifications.ErrLeaseLost
	}
	stored.Status = job.Status
	stored.Recipient = job.Recipient
	stored.AttemptCount = job.AttemptCount
	stored.LastError = job.LastError
	stored.LastErrorTier = job.LastErrorTier
	stored.ProviderRef = job.ProviderRef
	stored.NextAttemptAt = job.NextAttemptAt
	stored.DeliveredAt = job.DeliveredAt
	stored.UpdatedAt = job.UpdatedAt
	stored.LeaseUntil = time.Time{}
	return nil
}

// Requeue implements notifications.JobStore.
func (s *JobStore) Requeue(_ context.Context, id, recipient string, now time.Time) (*notifications.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.jobs[id]
	if !ok {
		return nil, notifications.ErrJobNotFound
	}
	if stored.Status != notifications.StatusHeld {
		return nil, notifications.ErrJobNotHeld
	}
	if recipient != "" {
		stored.Recipient = recipient
	}
	stored.Status = notifications.StatusPending
	stored.NextAttemptAt = now
	stored.UpdatedAt = now
	out := *stored
	return &out, nil
}

// Get implements notifications.JobStore.
func (s *JobStore) Get(_ context.Context, id string) (*notifications.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.jobs[id]
	if !ok {
		return nil, nil
	}
	out := *stored
	return &out, nil
}

// List implements notifications.JobStore, newest first.
func (s *JobStore) List(_ context.Context, filter notifications.JobFilter) ([]notifications.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	statuses := make(map[notifications.JobStatus]struct{}, len(filter.Statuses))
	for _, st := range filter.Statuses {
		statuses[st] = struct{}{}
	}
	var out []notifications.Job
	for _, job := range s.jobs {
		if filter.OrganizationID != "" && job.OrganizationID != filter.OrganizationID {
			continue
		}
		if filter.AlertID != "" && job.AlertID != filter.AlertID {
			continue
		}
		if len(statuses) > 0 {
			if _, ok := statuses[job.Status]; !ok {
				continue
			}
		}
		out = append(out, *job)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq > out[j].Seq })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func blocksKey(status notifications.JobStatus) bool {
	switch status {
	case notifications.StatusPending, notifications.StatusRetrying, notifications.StatusDelivering:
		return true
	default:
		return false
	}
}

func claimable(job notifications.Job, now time.Time) bool {
	if job.Status == notifications.StatusDelivering {
		return !job.LeaseUntil.After(now)
	}
	return !job.NextAttemptAt.After(now)
}
