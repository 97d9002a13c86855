package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"

	"github.com/ReaganKibet/chatbot-trial/pkg/constants"
	"github.com/ReaganKibet/chatbot-trial/pkg/metrics"
	"github.com/ReaganKibet/chatbot-trial/pkg/models"
)

// Job hash fields. "data" holds the immutable part of the job as JSON.
const (
	fieldData       = "data"
	fieldState      = "state"
	fieldAttempt    = "attempt"
	fieldStalls     = "stalls"
	fieldError      = "error"
	fieldUpdatedAt  = "updated_at"
	fieldFinishedAt = "finished_at"
)

// addScript creates the job hash and schedules it, unless the id is taken
var addScript = redis.NewScript(`
	if redis.call("EXISTS", KEYS[1]) == 1 then
		return 0
	end
	redis.call("HSET", KEYS[1], "data", ARGV[2], "state", "waiting", "attempt", 0, "stalls", 0, "updated_at", ARGV[4])
	redis.call("ZADD", KEYS[2], ARGV[3], ARGV[1])
	return 1
`)

// claimScript pops the oldest ready job and leases it
var claimScript = redis.NewScript(`
	local ids = redis.call("ZRANGEBYSCORE", KEYS[1], "-inf", ARGV[1], "LIMIT", 0, 1)
	if #ids == 0 then
		return false
	end
	local id = ids[1]
	redis.call("ZREM", KEYS[1], id)
	redis.call("ZADD", KEYS[2], ARGV[2], id)
	local jobKey = ARGV[3] .. id
	redis.call("HSET", jobKey, "state", "active", "updated_at", ARGV[1])
	redis.call("HINCRBY", jobKey, "attempt", 1)
	return id
`)

// stallScript moves expired leases back to waiting, or to failed past the stall limit.
// Returns "r:<id>" for requeued and "f:<id>" for failed jobs.
var stallScript = redis.NewScript(`
	local ids = redis.call("ZRANGEBYSCORE", KEYS[1], "-inf", "(" .. ARGV[1])
	local out = {}
	for _, id in ipairs(ids) do
		redis.call("ZREM", KEYS[1], id)
		local jobKey = ARGV[2] .. id
		local stalls = redis.call("HINCRBY", jobKey, "stalls", 1)
		if stalls > tonumber(ARGV[3]) then
			redis.call("ZADD", KEYS[3], ARGV[1], id)
			redis.call("HSET", jobKey, "state", "failed", "error", "job stalled more than allowable limit", "updated_at", ARGV[1], "finished_at", ARGV[1])
			table.insert(out, "f:" .. id)
		else
			redis.call("ZADD", KEYS[2], ARGV[1], id)
			redis.call("HSET", jobKey, "state", "waiting", "updated_at", ARGV[1])
			table.insert(out, "r:" .. id)
		end
	end
	return out
`)

// finishScript completes or fails a job, only while the caller's claim is current.
// Returns 0 when the job is no longer active under that attempt.
var finishScript = redis.NewScript(`
	if redis.call("HGET", KEYS[1], "state") ~= "active" or redis.call("HGET", KEYS[1], "attempt") ~= ARGV[2] then
		return 0
	end
	redis.call("ZREM", KEYS[2], ARGV[1])
	redis.call("ZADD", KEYS[3], ARGV[4], ARGV[1])
	redis.call("HSET", KEYS[1], "state", ARGV[3], "error", ARGV[5], "updated_at", ARGV[4], "finished_at", ARGV[4])
	return 1
`)

// retryScript returns a claimed job to waiting under the same ownership rule
var retryScript = redis.NewScript(`
	if redis.call("HGET", KEYS[1], "state") ~= "active" or redis.call("HGET", KEYS[1], "attempt") ~= ARGV[2] then
		return 0
	end
	redis.call("ZREM", KEYS[2], ARGV[1])
	redis.call("ZADD", KEYS[3], ARGV[3], ARGV[1])
	redis.call("HSET", KEYS[1], "state", "waiting", "error", ARGV[4], "updated_at", ARGV[5])
	return 1
`)

// RedisStore keeps jobs in Redis: one hash per job plus a sorted set per
// (kind, state) scored by ready time, lease end or finish time.
type RedisStore struct {
	rdb     *redis.Client
	prefix  string
	logger  *logrus.Logger
	metrics *metrics.Metrics
}

func NewRedisStore(rdb *redis.Client, logger *logrus.Logger, metrics *metrics.Metrics) *RedisStore {
	return &RedisStore{
		rdb:     rdb,
		prefix:  constants.QueueKeyPrefix,
		logger:  logger,
		metrics: metrics,
	}
}

func (s *RedisStore) jobKeyPrefix() string {
	return s.prefix + ":job:"
}

func (s *RedisStore) jobKey(id string) string {
	return s.jobKeyPrefix() + id
}

func (s *RedisStore) setKey(kind models.JobKind, state models.JobState) string {
	return fmt.Sprintf("%s:%s:%s", s.prefix, kind, state)
}

func (s *RedisStore) observe(operation string, start time.Time) {
	s.metrics.StoreOperationDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

func (s *RedisStore) Add(ctx context.Context, job *models.Job, readyAt time.Time) error {
	defer s.observe("queue_add", time.Now())

	data, err := json.Marshal(immutableJob{
		ID:          job.ID,
		Kind:        job.Kind,
		Payload:     job.Payload,
		MaxAttempts: job.MaxAttempts,
		Backoff:     job.Backoff,
		CreatedAt:   job.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	created, err := addScript.Run(ctx, s.rdb,
		[]string{s.jobKey(job.ID), s.setKey(job.Kind, models.JobWaiting)},
		job.ID, string(data), readyAt.UnixMilli(), job.CreatedAt.UnixMilli(),
	).Int()
	if err != nil {
		return fmt.Errorf("failed to add job: %w", err)
	}
	if created == 0 {
		return ErrDuplicateJob
	}

	s.logger.WithFields(logrus.Fields{
		"job_id":   job.ID,
		"kind":     job.Kind,
		"ready_at": readyAt,
	}).Debug("Added job")
	return nil
}

func (s *RedisStore) Claim(ctx context.Context, kind models.JobKind, now time.Time, lease time.Duration) (*models.Job, error) {
	defer s.observe("queue_claim", time.Now())

	id, err := claimScript.Run(ctx, s.rdb,
		[]string{s.setKey(kind, models.JobWaiting), s.setKey(kind, models.JobActive)},
		now.UnixMilli(), now.Add(lease).UnixMilli(), s.jobKeyPrefix(),
	).Text()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to claim job: %w", err)
	}

	return s.Get(ctx, id)
}

func (s *RedisStore) Complete(ctx context.Context, job *models.Job, now time.Time) error {
	return s.finish(ctx, job, models.JobCompleted, "", now)
}

func (s *RedisStore) Fail(ctx context.Context, job *models.Job, reason string, now time.Time) error {
	return s.finish(ctx, job, models.JobFailed, reason, now)
}

func (s *RedisStore) finish(ctx context.Context, job *models.Job, state models.JobState, reason string, now time.Time) error {
	defer s.observe("queue_"+string(state), time.Now())

	applied, err := finishScript.Run(ctx, s.rdb,
		[]string{s.jobKey(job.ID), s.setKey(job.Kind, models.JobActive), s.setKey(job.Kind, state)},
		job.ID, job.Attempt, string(state), now.UnixMilli(), reason,
	).Int()
	if err != nil {
		return fmt.Errorf("failed to mark job %s: %w", state, err)
	}
	if applied == 0 {
		return ErrLeaseLost
	}
	return nil
}

func (s *RedisStore) Retry(ctx context.Context, job *models.Job, reason string, readyAt, now time.Time) error {
	defer s.observe("queue_retry", time.Now())

	applied, err := retryScript.Run(ctx, s.rdb,
		[]string{s.jobKey(job.ID), s.setKey(job.Kind, models.JobActive), s.setKey(job.Kind, models.JobWaiting)},
		job.ID, job.Attempt, readyAt.UnixMilli(), reason, now.UnixMilli(),
	).Int()
	if err != nil {
		return fmt.Errorf("failed to schedule retry: %w", err)
	}
	if applied == 0 {
		return ErrLeaseLost
	}
	return nil
}

func (s *RedisStore) RequeueStalled(ctx context.Context, kind models.JobKind, now time.Time, maxStalls int) ([]StallResult, error) {
	defer s.observe("queue_requeue_stalled", time.Now())

	raw, err := stallScript.Run(ctx, s.rdb,
		[]string{
			s.setKey(kind, models.JobActive),
			s.setKey(kind, models.JobWaiting),
			s.setKey(kind, models.JobFailed),
		},
		now.UnixMilli(), s.jobKeyPrefix(), maxStalls,
	).StringSlice()
	if err != nil {
		return nil, fmt.Errorf("failed to requeue stalled jobs: %w", err)
	}

	results := make([]StallResult, 0, len(raw))
	for _, entry := range raw {
		switch {
		case strings.HasPrefix(entry, "f:"):
			results = append(results, StallResult{JobID: strings.TrimPrefix(entry, "f:"), Failed: true})
		case strings.HasPrefix(entry, "r:"):
			results = append(results, StallResult{JobID: strings.TrimPrefix(entry, "r:")})
		}
	}
	return results, nil
}

// Purge removes finished jobs older than the cutoff plus everything beyond the newest keep entries
func (s *RedisStore) Purge(ctx context.Context, kind models.JobKind, state models.JobState, keep int, olderThan time.Time) (int64, error) {
	defer s.observe("queue_purge", time.Now())

	key := s.setKey(kind, state)

	expired, err := s.rdb.ZRangeByScore(ctx, key, &redis.ZRangeBy{
		Min: "-inf",
		Max: fmt.Sprintf("(%d", olderThan.UnixMilli()),
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to list expired jobs: %w", err)
	}

	// oldest entries beyond the newest keep
	overflow, err := s.rdb.ZRange(ctx, key, 0, int64(-keep-1)).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to list overflow jobs: %w", err)
	}

	drop := make(map[string]struct{}, len(expired)+len(overflow))
	for _, id := range expired {
		drop[id] = struct{}{}
	}
	for _, id := range overflow {
		drop[id] = struct{}{}
	}
	if len(drop) == 0 {
		return 0, nil
	}

	pipe := s.rdb.Pipeline()
	members := make([]interface{}, 0, len(drop))
	for id := range drop {
		members = append(members, id)
		pipe.Del(ctx, s.jobKey(id))
	}
	pipe.ZRem(ctx, key, members...)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("failed to purge jobs: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"kind":          kind,
		"state":         state,
		"removed_count": len(drop),
	}).Info("Purged finished jobs")

	return int64(len(drop)), nil
}

func (s *RedisStore) Get(ctx context.Context, id string) (*models.Job, error) {
	defer s.observe("queue_get", time.Now())

	fields, err := s.rdb.HGetAll(ctx, s.jobKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load job: %w", err)
	}
	if len(fields) == 0 {
		return nil, ErrJobNotFound
	}
	return decodeJob(fields)
}

func (s *RedisStore) Counts(ctx context.Context, kind models.JobKind) (map[models.JobState]int64, error) {
	defer s.observe("queue_counts", time.Now())

	pipe := s.rdb.Pipeline()
	cmds := make(map[models.JobState]*redis.IntCmd, len(models.JobStates))
	for _, state := range models.JobStates {
		cmds[state] = pipe.ZCard(ctx, s.setKey(kind, state))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to count jobs: %w", err)
	}

	counts := make(map[models.JobState]int64, len(cmds))
	for state, cmd := range cmds {
		counts[state] = cmd.Val()
	}
	return counts, nil
}

type immutableJob struct {
	ID          string          `json:"id"`
	Kind        models.JobKind  `json:"kind"`
	Payload     json.RawMessage `json:"payload"`
	MaxAttempts int             `json:"max_attempts"`
	Backoff     time.Duration   `json:"backoff"`
	CreatedAt   time.Time       `json:"created_at"`
}

func decodeJob(fields map[string]string) (*models.Job, error) {
	var base immutableJob
	if err := json.Unmarshal([]byte(fields[fieldData]), &base); err != nil {
		return nil, fmt.Errorf("invalid job data: %w", err)
	}

	job := &models.Job{
		ID:          base.ID,
		Kind:        base.Kind,
		Payload:     base.Payload,
		MaxAttempts: base.MaxAttempts,
		Backoff:     base.Backoff,
		CreatedAt:   base.CreatedAt,
		State:       models.JobState(fields[fieldState]),
		Error:       fields[fieldError],
	}

	if v, ok := fields[fieldAttempt]; ok {
		attempt, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid attempt format: %w", err)
		}
		job.Attempt = attempt
	}
	if v, ok := fields[fieldStalls]; ok {
		stalls, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid stalls format: %w", err)
		}
		job.Stalls = stalls
	}
	if v, ok := fields[fieldUpdatedAt]; ok && v != "" {
		ms, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid updated_at format: %w", err)
		}
		job.UpdatedAt = time.UnixMilli(ms)
	}
	if v, ok := fields[fieldFinishedAt]; ok && v != "" {
		ms, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid finished_at format: %w", err)
		}
		at := time.UnixMilli(ms)
		job.FinishedAt = &at
	}

	return job, nil
}
