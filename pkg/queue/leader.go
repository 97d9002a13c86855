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
)

// Elector tells singleton loops (scheduler, purge) whether this instance should run them
type Elector interface {
	IsLeader() bool
}

// AlwaysLeader is the elector for single-process deployments
type AlwaysLeader struct{}

func (AlwaysLeader) IsLeader() bool { return true }

var renewScript = redis.NewScript(`
	if redis.call("GET", KEYS[1]) == ARGV[1] then
		return redis.call("PEXPIRE", KEYS[1], ARGV[2])
	else
		return 0
	end
`)

var resignScript = redis.NewScript(`
	if redis.call("GET", KEYS[1]) == ARGV[1] then
		return redis.call("DEL", KEYS[1])
	else
		return 0
	end
`)

// LeaderElection holds a Redis lease keyed by pod id and renews it while alive
type LeaderElection struct {
	rdb      *redis.Client
	key      string
	podID    string
	ttl      time.Duration
	interval time.Duration
	logger   *logrus.Logger
	metrics  *metrics.Metrics
	isLeader atomic.Bool
	stopCh   chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

func NewLeaderElection(rdb *redis.Client, podID string, ttl time.Duration, logger *logrus.Logger, metrics *metrics.Metrics) *LeaderElection {
	interval := constants.SecondsToDuration(constants.DefaultLeaderElectionIntervalSeconds)
	if ttl <= interval {
		interval = ttl / 3
	}
	return &LeaderElection{
		rdb:      rdb,
		key:      constants.LeaderElectionKey,
		podID:    podID,
		ttl:      ttl,
		interval: interval,
		logger:   logger,
		metrics:  metrics,
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}
}

func (le *LeaderElection) Start(ctx context.Context) {
	le.logger.WithField("pod_id", le.podID).Info("Starting leader election")

	le.tryBecomeLeader(ctx)
	go le.leaderElectionLoop(ctx)
}

func (le *LeaderElection) Stop() {
	le.stopOnce.Do(func() {
		close(le.stopCh)
		<-le.done
		if le.isLeader.Load() {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			le.resignLeadership(ctx)
		}
	})
}

func (le *LeaderElection) IsLeader() bool {
	return le.isLeader.Load()
}

func (le *LeaderElection) leaderElectionLoop(ctx context.Context) {
	defer close(le.done)

	ticker := time.NewTicker(le.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-le.stopCh:
			return
		case <-ticker.C:
			le.tryBecomeLeader(ctx)
		}
	}
}

func (le *LeaderElection) tryBecomeLeader(ctx context.Context) {
	if le.isLeader.Load() {
		le.renewLeadership(ctx)
		return
	}

	acquired, err := le.rdb.SetNX(ctx, le.key, le.podID, le.ttl).Result()
	if err != nil {
		le.logger.WithError(err).Error("Failed to attempt leader election")
		return
	}

	if acquired {
		le.isLeader.Store(true)
		le.metrics.LeaderChanges.Inc()
		le.logger.WithField("pod_id", le.podID).Info("Became leader")
	}
}

func (le *LeaderElection) renewLeadership(ctx context.Context) {
	renewed, err := renewScript.Run(ctx, le.rdb, []string{le.key}, le.podID, le.ttl.Milliseconds()).Int64()
	if err != nil {
		le.logger.WithError(err).Error("Failed to renew leadership")
		le.isLeader.Store(false)
		return
	}

	if renewed == 0 {
		le.logger.Warn("Leadership renewal failed - no longer leader")
		le.isLeader.Store(false)
	}
}

func (le *LeaderElection) resignLeadership(ctx context.Context) {
	if err := resignScript.Run(ctx, le.rdb, []string{le.key}, le.podID).Err(); err != nil {
		le.logger.WithError(err).Error("Failed to resign leadership")
	} else {
		le.logger.Info("Resigned leadership")
	}
	le.isLeader.Store(false)
}
