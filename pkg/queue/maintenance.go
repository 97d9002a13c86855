package queue

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ReaganKibet/chatbot-trial/pkg/models"
)

// stallLoop runs on every instance; the store operations are atomic so
// concurrent sweeps requeue each expired lease once.
func (q *Queue) stallLoop(ctx context.Context) {
	defer q.loops.Done()

	interval := q.opts.Lease / 2
	if interval <= 0 || interval > 5*time.Second {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-q.stopCh:
			return
		case <-ticker.C:
			q.sweepStalled(ctx)
			q.updateDepth(ctx)
		}
	}
}

func (q *Queue) sweepStalled(ctx context.Context) {
	now := q.now()
	for _, kind := range models.JobKinds {
		results, err := q.store.RequeueStalled(ctx, kind, now, q.opts.MaxStalls)
		if err != nil {
			q.logger.WithError(err).WithField("kind", kind).Error("Failed to sweep stalled jobs")
			continue
		}
		for _, r := range results {
			q.logger.WithFields(logrus.Fields{
				"job_id": r.JobID,
				"kind":   kind,
				"failed": r.Failed,
			}).Warn("Job lease expired")

			q.emit(Event{Type: EventStalled, JobID: r.JobID, Kind: kind, At: now})
			if r.Failed {
				q.emit(Event{Type: EventFailed, JobID: r.JobID, Kind: kind, Err: "job stalled more than allowable limit", At: now})
			}
		}
	}
}

func (q *Queue) updateDepth(ctx context.Context) {
	for _, kind := range models.JobKinds {
		counts, err := q.store.Counts(ctx, kind)
		if err != nil {
			continue
		}
		for state, n := range counts {
			q.metrics.QueueDepth.WithLabelValues(string(kind), string(state)).Set(float64(n))
		}
	}
}

func (q *Queue) purgeLoop(ctx context.Context) {
	defer q.loops.Done()

	ticker := time.NewTicker(q.opts.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-q.stopCh:
			return
		case <-ticker.C:
			if !q.elector.IsLeader() {
				continue
			}
			q.purge(ctx)
		}
	}
}

func (q *Queue) purge(ctx context.Context) {
	olderThan := q.now().Add(-q.opts.RetainAge)
	retain := map[models.JobState]int{
		models.JobCompleted: q.opts.RetainCompleted,
		models.JobFailed:    q.opts.RetainFailed,
	}

	var total int64
	for _, kind := range models.JobKinds {
		for state, keep := range retain {
			removed, err := q.store.Purge(ctx, kind, state, keep, olderThan)
			if err != nil {
				q.logger.WithError(err).WithFields(logrus.Fields{
					"kind":  kind,
					"state": state,
				}).Error("Failed to purge jobs")
				continue
			}
			total += removed
		}
	}

	if total > 0 {
		q.logger.WithField("removed", total).Info("Purged finished jobs")
	}
}
