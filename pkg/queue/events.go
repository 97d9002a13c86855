package queue

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"

	"github.com/ReaganKibet/chatbot-trial/pkg/constants"
	"github.com/ReaganKibet/chatbot-trial/pkg/metrics"
	"github.com/ReaganKibet/chatbot-trial/pkg/models"
)

// EventType names a job lifecycle notification
type EventType string

const (
	EventCompleted EventType = "completed"
	EventFailed    EventType = "failed"
	EventStalled   EventType = "stalled"
	EventRetrying  EventType = "retrying"
)

// Event is a side-channel lifecycle notification. Listeners must not block;
// events carry no delivery guarantee.
type Event struct {
	Type    EventType
	JobID   string
	Kind    models.JobKind
	Attempt int
	Delay   time.Duration // retrying only
	Err     string
	At      time.Time
}

// Listener receives queue lifecycle events
type Listener func(Event)

// MetricsListener counts lifecycle events per kind
func MetricsListener(m *metrics.Metrics) Listener {
	return func(e Event) {
		m.JobEvents.WithLabelValues(string(e.Kind), string(e.Type)).Inc()
	}
}

// StreamSink mirrors lifecycle events onto a capped Redis stream so external
// monitors can follow the queue without touching job records. Events are
// buffered and written by one goroutine; when the buffer is full they are dropped.
type StreamSink struct {
	rdb     *redis.Client
	stream  string
	maxLen  int64
	timeout time.Duration
	logger  *logrus.Logger

	events   chan Event
	dropped  atomic.Int64
	started  atomic.Bool
	stopCh   chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

func NewStreamSink(rdb *redis.Client, logger *logrus.Logger) *StreamSink {
	return newStreamSink(rdb, logger, constants.QueueEventsBuffer)
}

func newStreamSink(rdb *redis.Client, logger *logrus.Logger, buffer int) *StreamSink {
	return &StreamSink{
		rdb:     rdb,
		stream:  constants.QueueEventsStream,
		maxLen:  constants.QueueEventsMaxLen,
		timeout: time.Second,
		logger:  logger,
		events:  make(chan Event, buffer),
		stopCh:  make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Listener adapts the sink to the queue's listener hook. It never blocks.
func (s *StreamSink) Listener() Listener {
	return func(e Event) {
		select {
		case s.events <- e:
		default:
			n := s.dropped.Add(1)
			s.logger.WithFields(logrus.Fields{
				"job_id":  e.JobID,
				"event":   e.Type,
				"dropped": n,
			}).Warn("Queue event buffer full, dropping event")
		}
	}
}

func (s *StreamSink) Start(ctx context.Context) {
	if !s.started.CompareAndSwap(false, true) {
		return
	}
	go s.run(ctx)
}

// Stop writes what is still buffered, bounded by the publish timeout, and
// waits for the writer to exit.
func (s *StreamSink) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
		if s.started.Load() {
			<-s.done
		}
		s.logger.WithField("dropped", s.dropped.Load()).Info("Queue event sink stopped")
	})
}

// Dropped is the number of events lost to a full buffer
func (s *StreamSink) Dropped() int64 {
	return s.dropped.Load()
}

func (s *StreamSink) run(ctx context.Context) {
	defer close(s.done)
	for {
		select {
		case e := <-s.events:
			s.publish(ctx, e)
		case <-s.stopCh:
			s.flush()
			return
		case <-ctx.Done():
			return
		}
	}
}

func (s *StreamSink) flush() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	for {
		select {
		case e := <-s.events:
			if ctx.Err() != nil {
				return
			}
			s.publish(ctx, e)
		default:
			return
		}
	}
}

func (s *StreamSink) publish(ctx context.Context, e Event) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := s.Publish(ctx, e); err != nil {
		s.logger.WithError(err).WithField("job_id", e.JobID).Warn("Failed to publish queue event")
	}
}

func (s *StreamSink) Publish(ctx context.Context, e Event) error {
	values := map[string]interface{}{
		"event":   string(e.Type),
		"job_id":  e.JobID,
		"kind":    string(e.Kind),
		"attempt": e.Attempt,
		"at":      e.At.UnixMilli(),
	}
	if e.Delay > 0 {
		values["delay_ms"] = e.Delay.Milliseconds()
	}
	if e.Err != "" {
		values["error"] = e.Err
	}

	return s.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: s.stream,
		MaxLen: s.maxLen,
		Approx: true,
		Values: values,
	}).Err()
}
