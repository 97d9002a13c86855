package queue

import (
	"context"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ReaganKibet/chatbot-trial/pkg/models"
)

// unreachableRedis points at a port nothing listens on
func unreachableRedis(t *testing.T) *redis.Client {
	t.Helper()
	rdb := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 200 * time.Millisecond,
		MaxRetries:  -1,
	})
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb
}

func TestStreamSink_ListenerDoesNotBlock(t *testing.T) {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	sink := newStreamSink(unreachableRedis(t), logger, 2)
	listener := sink.Listener()

	start := time.Now()
	for i := 0; i < 5; i++ {
		listener(Event{Type: EventCompleted, JobID: "job", Kind: models.JobProcessMessage, At: time.Now()})
	}
	assert.Less(t, time.Since(start), 100*time.Millisecond)
	assert.Equal(t, int64(3), sink.Dropped())

	// never started
	sink.Stop()
}

func TestStreamSink_StopIsBoundedWhenRedisIsDown(t *testing.T) {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	sink := newStreamSink(unreachableRedis(t), logger, 64)
	sink.timeout = 50 * time.Millisecond
	sink.Start(context.Background())

	listener := sink.Listener()
	for i := 0; i < 64; i++ {
		listener(Event{Type: EventRetrying, JobID: "job", Kind: models.JobUpdateAnalytics, At: time.Now()})
	}

	stopped := make(chan struct{})
	go func() {
		sink.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(5 * time.Second):
		t.Fatal("Stop did not return")
	}
	require.Zero(t, sink.Dropped())
}

func TestStreamSink_QueueKeepsRunningWhileSinkIsSlow(t *testing.T) {
	q, _ := newTestQueue(t, testOptions())
	ctx := context.Background()
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	// not started: every event sits in the buffer or is dropped
	sink := newStreamSink(unreachableRedis(t), logger, 1)
	q.OnEvent(sink.Listener())
	rec := &eventRecorder{}
	q.OnEvent(rec.listener())

	q.Subscribe(models.JobUpdateAnalytics, 1, func(ctx context.Context, job *models.Job) error { return nil })
	require.NoError(t, q.Start(ctx))
	defer q.Stop()

	for i := 0; i < 3; i++ {
		_, err := q.Enqueue(ctx, models.JobUpdateAnalytics, models.AnalyticsEvent{Event: models.EventMessageSent})
		require.NoError(t, err)
	}

	require.Eventually(t, func() bool {
		return len(rec.ofType(EventCompleted)) == 3
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, int64(2), sink.Dropped())
}
