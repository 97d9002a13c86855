package queue

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ReaganKibet/chatbot-trial/pkg/models"
)

// MemoryStore keeps jobs in process memory. Jobs do not survive a restart;
// use it for tests and single-process development only.
type MemoryStore struct {
	mu      sync.Mutex
	jobs    map[string]*models.Job
	scores  map[string]time.Time // readyAt for waiting, lease end for active, finish time otherwise
	byState map[models.JobKind]map[models.JobState]map[string]struct{}
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		jobs:    make(map[string]*models.Job),
		scores:  make(map[string]time.Time),
		byState: make(map[models.JobKind]map[models.JobState]map[string]struct{}),
	}
}

func (s *MemoryStore) set(kind models.JobKind, state models.JobState) map[string]struct{} {
	states, ok := s.byState[kind]
	if !ok {
		states = make(map[models.JobState]map[string]struct{})
		s.byState[kind] = states
	}
	ids, ok := states[state]
	if !ok {
		ids = make(map[string]struct{})
		states[state] = ids
	}
	return ids
}

// move must be called with mu held
func (s *MemoryStore) move(job *models.Job, to models.JobState, score time.Time) {
	for _, state := range models.JobStates {
		delete(s.set(job.Kind, state), job.ID)
	}
	s.set(job.Kind, to)[job.ID] = struct{}{}
	s.scores[job.ID] = score
	job.State = to
}

func (s *MemoryStore) Add(ctx context.Context, job *models.Job, readyAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[job.ID]; exists {
		return ErrDuplicateJob
	}
	stored := cloneJob(job)
	s.jobs[job.ID] = stored
	s.move(stored, models.JobWaiting, readyAt)
	return nil
}

func (s *MemoryStore) Claim(ctx context.Context, kind models.JobKind, now time.Time, lease time.Duration) (*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		next  *models.Job
		ready time.Time
	)
	for id := range s.set(kind, models.JobWaiting) {
		at := s.scores[id]
		if at.After(now) {
			continue
		}
		if next == nil || at.Before(ready) || (at.Equal(ready) && id < next.ID) {
			next, ready = s.jobs[id], at
		}
	}
	if next == nil {
		return nil, nil
	}

	next.Attempt++
	next.UpdatedAt = now
	s.move(next, models.JobActive, now.Add(lease))
	return cloneJob(next), nil
}

func (s *MemoryStore) Complete(ctx context.Context, job *models.Job, now time.Time) error {
	return s.finish(job, models.JobCompleted, "", now)
}

func (s *MemoryStore) Fail(ctx context.Context, job *models.Job, reason string, now time.Time) error {
	return s.finish(job, models.JobFailed, reason, now)
}

// owned returns the stored job when the caller still holds its claim. mu must be held.
func (s *MemoryStore) owned(job *models.Job) (*models.Job, error) {
	stored, ok := s.jobs[job.ID]
	if !ok {
		return nil, ErrJobNotFound
	}
	if stored.State != models.JobActive || stored.Attempt != job.Attempt {
		return nil, ErrLeaseLost
	}
	return stored, nil
}

func (s *MemoryStore) finish(job *models.Job, state models.JobState, reason string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, err := s.owned(job)
	if err != nil {
		return err
	}
	finished := now
	stored.Error = reason
	stored.UpdatedAt = now
	stored.FinishedAt = &finished
	s.move(stored, state, now)
	return nil
}

func (s *MemoryStore) Retry(ctx context.Context, job *models.Job, reason string, readyAt, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, err := s.owned(job)
	if err != nil {
		return err
	}
	stored.Error = reason
	stored.UpdatedAt = now
	s.move(stored, models.JobWaiting, readyAt)
	return nil
}

func (s *MemoryStore) RequeueStalled(ctx context.Context, kind models.JobKind, now time.Time, maxStalls int) ([]StallResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var expired []string
	for id := range s.set(kind, models.JobActive) {
		if s.scores[id].Before(now) {
			expired = append(expired, id)
		}
	}
	sort.Strings(expired)

	results := make([]StallResult, 0, len(expired))
	for _, id := range expired {
		stored := s.jobs[id]
		stored.Stalls++
		stored.UpdatedAt = now
		if stored.Stalls > maxStalls {
			finished := now
			stored.Error = "job stalled more than allowable limit"
			stored.FinishedAt = &finished
			s.move(stored, models.JobFailed, now)
			results = append(results, StallResult{JobID: id, Failed: true})
			continue
		}
		s.move(stored, models.JobWaiting, now)
		results = append(results, StallResult{JobID: id})
	}
	return results, nil
}

func (s *MemoryStore) Purge(ctx context.Context, kind models.JobKind, state models.JobState, keep int, olderThan time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]string, 0, len(s.set(kind, state)))
	for id := range s.set(kind, state) {
		ids = append(ids, id)
	}
	// newest first
	sort.Slice(ids, func(i, j int) bool {
		return s.scores[ids[i]].After(s.scores[ids[j]])
	})

	var removed int64
	for i, id := range ids {
		if i < keep && !s.scores[id].Before(olderThan) {
			continue
		}
		delete(s.set(kind, state), id)
		delete(s.scores, id)
		delete(s.jobs, id)
		removed++
	}
	return removed, nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	return cloneJob(stored), nil
}

func (s *MemoryStore) Counts(ctx context.Context, kind models.JobKind) (map[models.JobState]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	counts := make(map[models.JobState]int64, len(models.JobStates))
	for _, state := range models.JobStates {
		counts[state] = int64(len(s.set(kind, state)))
	}
	return counts, nil
}

func cloneJob(job *models.Job) *models.Job {
	out := *job
	out.Payload = append([]byte(nil), job.Payload...)
	if job.FinishedAt != nil {
		at := *job.FinishedAt
		out.FinishedAt = &at
	}
	return &out
}
