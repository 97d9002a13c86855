package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/adhocore/gronx"
	"github.com/sirupsen/logrus"

	"github.com/ReaganKibet/chatbot-trial/pkg/models"
)

// Schedule enqueues a job of Kind on every tick of a cron expression
type Schedule struct {
	Name    string
	Expr    string
	Kind    models.JobKind
	Payload func(tick time.Time) interface{}
}

// AddSchedule registers a recurring job. Must be called before Start.
// Only the leader enqueues, and each tick maps to one job id so two leaders
// overlapping during failover still produce a single job.
func (q *Queue) AddSchedule(s Schedule) error {
	if !gronx.New().IsValid(s.Expr) {
		return fmt.Errorf("invalid cron expression %q for schedule %s", s.Expr, s.Name)
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.schedules = append(q.schedules, &s)
	return nil
}

func (q *Queue) scheduleLoop(ctx context.Context, s *Schedule) {
	defer q.loops.Done()

	logger := q.logger.WithFields(logrus.Fields{
		"schedule": s.Name,
		"cron":     s.Expr,
	})

	for {
		next, err := gronx.NextTickAfter(s.Expr, q.now(), false)
		if err != nil {
			logger.WithError(err).Error("Failed to compute next tick, schedule disabled")
			return
		}
		logger.WithField("next", next).Debug("Waiting for next tick")

		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-q.stopCh:
			timer.Stop()
			return
		case <-timer.C:
		}

		if !q.elector.IsLeader() {
			continue
		}
		if _, err := q.fire(ctx, s, next); err != nil {
			logger.WithError(err).Error("Failed to enqueue scheduled job")
		}
	}
}

// fire enqueues the job for one tick. A tick already enqueued is not an error.
func (q *Queue) fire(ctx context.Context, s *Schedule, tick time.Time) (bool, error) {
	var payload interface{} = struct{}{}
	if s.Payload != nil {
		payload = s.Payload(tick)
	}

	id := fmt.Sprintf("%s:%d", s.Name, tick.Unix())
	_, err := q.Enqueue(ctx, s.Kind, payload, WithJobID(id))
	if errors.Is(err, ErrDuplicateJob) {
		q.logger.WithField("job_id", id).Debug("Scheduled tick already enqueued")
		return false, nil
	}
	if err != nil {
		return false, err
	}

	q.logger.WithFields(logrus.Fields{
		"schedule": s.Name,
		"job_id":   id,
	}).Info("Scheduled job enqueued")
	return true, nil
}
