package queue

import (
	"context"
	"errors"
	"time"

	"github.com/ReaganKibet/chatbot-trial/pkg/models"
)

var (
	// ErrDuplicateJob is returned by Add when a job with the same id already exists
	ErrDuplicateJob = errors.New("job already exists")
	// ErrJobNotFound is returned by Get for unknown ids
	ErrJobNotFound = errors.New("job not found")
	// ErrLeaseLost is returned when a worker reports on a claim it no longer
	// holds: the job stalled and was requeued or claimed again meanwhile
	ErrLeaseLost = errors.New("job lease lost")
)

// StallResult describes one job moved out of the active set by RequeueStalled
type StallResult struct {
	JobID  string
	Failed bool // stall limit exceeded, job moved to failed instead of waiting
}

// Store owns job records and the waiting/active/completed/failed sets.
// Every state transition must be atomic with respect to concurrent workers.
// Complete, Retry and Fail apply only while the stored job is active with the
// same Attempt as the claimed copy, and return ErrLeaseLost otherwise.
type Store interface {
	// Add persists a new waiting job that becomes claimable at readyAt
	Add(ctx context.Context, job *models.Job, readyAt time.Time) error
	// Claim moves the oldest ready job of kind to active with a lease ending at now+lease
	// and increments its attempt counter. Returns nil, nil when nothing is ready.
	Claim(ctx context.Context, kind models.JobKind, now time.Time, lease time.Duration) (*models.Job, error)
	Complete(ctx context.Context, job *models.Job, now time.Time) error
	// Retry returns an active job to waiting, claimable again at readyAt
	Retry(ctx context.Context, job *models.Job, reason string, readyAt, now time.Time) error
	Fail(ctx context.Context, job *models.Job, reason string, now time.Time) error
	// RequeueStalled returns active jobs whose lease ended before now to waiting,
	// or to failed once they stalled more than maxStalls times
	RequeueStalled(ctx context.Context, kind models.JobKind, now time.Time, maxStalls int) ([]StallResult, error)
	// Purge drops finished jobs in state beyond the newest keep, and any finished before olderThan
	Purge(ctx context.Context, kind models.JobKind, state models.JobState, keep int, olderThan time.Time) (int64, error)
	Get(ctx context.Context, id string) (*models.Job, error)
	Counts(ctx context.Context, kind models.JobKind) (map[models.JobState]int64, error)
}
