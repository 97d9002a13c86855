package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/ReaganKibet/chatbot-trial/pkg/constants"
	"github.com/ReaganKibet/chatbot-trial/pkg/metrics"
	"github.com/ReaganKibet/chatbot-trial/pkg/models"
)

// ErrQueueStopped is returned by Enqueue once Stop has been called
var ErrQueueStopped = errors.New("queue stopped")

// Handler processes one claimed job. A returned error (or a panic) counts as a failed attempt.
type Handler func(ctx context.Context, job *models.Job) error

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks a handler error that no retry can fix. The job fails on
// the attempt that returned it.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// Options holds the queue-wide defaults. Retry settings can be overridden per job.
type Options struct {
	MaxAttempts     int
	Backoff         time.Duration
	Lease           time.Duration
	MaxStalls       int
	PollInterval    time.Duration
	RetainCompleted int
	RetainFailed    int
	RetainAge       time.Duration
	CleanupInterval time.Duration
}

func DefaultOptions() Options {
	return Options{
		MaxAttempts:     constants.DefaultMaxAttempts,
		Backoff:         constants.MillisecondsToDuration(constants.DefaultBackoffMS),
		Lease:           constants.MillisecondsToDuration(constants.DefaultLeaseMS),
		MaxStalls:       constants.DefaultMaxStalls,
		PollInterval:    constants.MillisecondsToDuration(constants.DefaultPollIntervalMS),
		RetainCompleted: constants.DefaultRetainCompleted,
		RetainFailed:    constants.DefaultRetainFailed,
		RetainAge:       time.Duration(constants.DefaultRetainAgeHours) * time.Hour,
		CleanupInterval: constants.MillisecondsToDuration(constants.DefaultCleanupIntervalMS),
	}
}

type enqueueOptions struct {
	id          string
	delay       time.Duration
	maxAttempts int
	backoff     time.Duration
}

// EnqueueOption customises a single job
type EnqueueOption func(*enqueueOptions)

// WithJobID sets a deterministic id; enqueuing the same id twice returns ErrDuplicateJob
func WithJobID(id string) EnqueueOption {
	return func(o *enqueueOptions) { o.id = id }
}

func WithDelay(d time.Duration) EnqueueOption {
	return func(o *enqueueOptions) { o.delay = d }
}

func WithMaxAttempts(n int) EnqueueOption {
	return func(o *enqueueOptions) { o.maxAttempts = n }
}

func WithBackoff(base time.Duration) EnqueueOption {
	return func(o *enqueueOptions) { o.backoff = base }
}

type subscription struct {
	kind        models.JobKind
	concurrency int
	handler     Handler
}

// Queue runs a bounded worker pool per job kind on top of a Store
type Queue struct {
	store   Store
	opts    Options
	elector Elector
	logger  *logrus.Logger
	metrics *metrics.Metrics
	now     func() time.Time

	mu        sync.RWMutex
	subs      map[models.JobKind]*subscription
	listeners []Listener
	schedules []*Schedule
	started   bool
	stopped   bool

	workersCtx    context.Context
	cancelWorkers context.CancelFunc
	stopCh        chan struct{}
	workers       sync.WaitGroup
	loops         sync.WaitGroup
}

func New(store Store, opts Options, elector Elector, logger *logrus.Logger, metrics *metrics.Metrics) *Queue {
	if elector == nil {
		elector = AlwaysLeader{}
	}
	q := &Queue{
		store:   store,
		opts:    opts,
		elector: elector,
		logger:  logger,
		metrics: metrics,
		now:     time.Now,
		subs:    make(map[models.JobKind]*subscription),
		stopCh:  make(chan struct{}),
	}
	q.listeners = append(q.listeners, MetricsListener(metrics))
	return q
}

// Enqueue stores a new waiting job with an immutable JSON payload
func (q *Queue) Enqueue(ctx context.Context, kind models.JobKind, payload interface{}, opts ...EnqueueOption) (*models.Job, error) {
	q.mu.RLock()
	stopped := q.stopped
	q.mu.RUnlock()
	if stopped {
		return nil, ErrQueueStopped
	}

	o := enqueueOptions{
		maxAttempts: q.opts.MaxAttempts,
		backoff:     q.opts.Backoff,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.id == "" {
		o.id = uuid.New().String()
	}
	if o.maxAttempts < 1 {
		o.maxAttempts = 1
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s payload: %w", kind, err)
	}

	now := q.now()
	job := &models.Job{
		ID:          o.id,
		Kind:        kind,
		Payload:     raw,
		MaxAttempts: o.maxAttempts,
		Backoff:     o.backoff,
		CreatedAt:   now,
		State:       models.JobWaiting,
		UpdatedAt:   now,
	}

	if err := q.store.Add(ctx, job, now.Add(o.delay)); err != nil {
		return nil, fmt.Errorf("failed to enqueue %s job: %w", kind, err)
	}

	q.logger.WithFields(logrus.Fields{
		"job_id": job.ID,
		"kind":   kind,
		"delay":  o.delay,
	}).Debug("Job enqueued")

	return job, nil
}

// Subscribe registers the handler for kind. Must be called before Start.
func (q *Queue) Subscribe(kind models.JobKind, concurrency int, handler Handler) {
	if concurrency < 1 {
		concurrency = 1
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.subs[kind] = &subscription{kind: kind, concurrency: concurrency, handler: handler}
}

// OnEvent adds a lifecycle listener
func (q *Queue) OnEvent(l Listener) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.listeners = append(q.listeners, l)
}

func (q *Queue) emit(e Event) {
	q.mu.RLock()
	listeners := q.listeners
	q.mu.RUnlock()

	for _, l := range listeners {
		l(e)
	}
}

// Start launches the worker pools, the stall sweep, the purge loop and any schedules
func (q *Queue) Start(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.started {
		return errors.New("queue already started")
	}
	q.started = true
	q.workersCtx, q.cancelWorkers = context.WithCancel(ctx)

	for _, sub := range q.subs {
		for i := 0; i < sub.concurrency; i++ {
			q.workers.Add(1)
			go q.workerLoop(q.workersCtx, sub, i)
		}
		q.logger.WithFields(logrus.Fields{
			"kind":        sub.kind,
			"concurrency": sub.concurrency,
		}).Info("Started worker pool")
	}

	q.loops.Add(2)
	go q.stallLoop(ctx)
	go q.purgeLoop(ctx)

	for _, s := range q.schedules {
		q.loops.Add(1)
		go q.scheduleLoop(ctx, s)
	}

	return nil
}

// Drain stops claiming new jobs and waits for in-flight handlers to return,
// or for ctx to expire. Jobs left active are recovered by the stall sweep.
func (q *Queue) Drain(ctx context.Context) error {
	q.mu.Lock()
	if q.cancelWorkers != nil {
		q.cancelWorkers()
	}
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.workers.Wait()
		close(done)
	}()

	select {
	case <-done:
		q.logger.Info("Queue drained")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("queue drain interrupted: %w", ctx.Err())
	}
}

// Stop halts the maintenance loops and rejects further enqueues. Call Drain first
// for a graceful shutdown.
func (q *Queue) Stop() {
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return
	}
	q.stopped = true
	if q.cancelWorkers != nil {
		q.cancelWorkers()
	}
	close(q.stopCh)
	q.mu.Unlock()

	q.loops.Wait()
	q.logger.Info("Queue stopped")
}

// Counts returns job counts per state for every known kind
func (q *Queue) Counts(ctx context.Context) (map[models.JobKind]map[models.JobState]int64, error) {
	out := make(map[models.JobKind]map[models.JobState]int64, len(models.JobKinds))
	for _, kind := range models.JobKinds {
		counts, err := q.store.Counts(ctx, kind)
		if err != nil {
			return nil, fmt.Errorf("failed to count %s jobs: %w", kind, err)
		}
		out[kind] = counts
	}
	return out, nil
}

// Get returns a snapshot of one job
func (q *Queue) Get(ctx context.Context, id string) (*models.Job, error) {
	return q.store.Get(ctx, id)
}

// IsLeader reports whether this instance runs the singleton loops
func (q *Queue) IsLeader() bool {
	return q.elector.IsLeader()
}
