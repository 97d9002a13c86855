package queue

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ReaganKibet/chatbot-trial/pkg/constants"
	"github.com/ReaganKibet/chatbot-trial/pkg/models"
)

func (q *Queue) workerLoop(ctx context.Context, sub *subscription, n int) {
	defer q.workers.Done()

	ticker := time.NewTicker(q.opts.PollInterval)
	defer ticker.Stop()

	for {
		// keep claiming while jobs are ready, then wait for the next tick
		for {
			if ctx.Err() != nil {
				return
			}
			processed, err := q.processNext(ctx, sub)
			if err != nil {
				q.logger.WithError(err).WithFields(logrus.Fields{
					"kind":   sub.kind,
					"worker": n,
				}).Error("Failed to claim job")
				break
			}
			if !processed {
				break
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// processNext claims and runs at most one job. It reports whether a job was claimed.
func (q *Queue) processNext(ctx context.Context, sub *subscription) (bool, error) {
	job, err := q.store.Claim(ctx, sub.kind, q.now(), q.opts.Lease)
	if err != nil {
		return false, err
	}
	if job == nil {
		return false, nil
	}

	q.runJob(sub, job)
	return true, nil
}

// runJob executes the handler outside the worker context so draining lets it finish;
// the lease bounds how long it may run.
func (q *Queue) runJob(sub *subscription, job *models.Job) {
	logger := q.logger.WithFields(logrus.Fields{
		"job_id":  job.ID,
		"kind":    job.Kind,
		"attempt": job.Attempt,
	})

	handlerCtx, cancel := context.WithTimeout(context.Background(), q.opts.Lease)
	start := time.Now()
	err := q.invoke(handlerCtx, sub.handler, job)
	cancel()
	q.metrics.JobDuration.WithLabelValues(string(job.Kind)).Observe(time.Since(start).Seconds())

	storeCtx, storeCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer storeCancel()

	now := q.now()
	if err == nil {
		if cerr := q.store.Complete(storeCtx, job, now); cerr != nil {
			q.reportStoreError(logger, cerr, "Failed to mark job completed")
			return
		}
		logger.Debug("Job completed")
		q.emit(Event{Type: EventCompleted, JobID: job.ID, Kind: job.Kind, Attempt: job.Attempt, At: now})
		return
	}

	reason := err.Error()
	permanent := IsPermanent(err)
	if permanent || job.Attempt >= job.MaxAttempts {
		if ferr := q.store.Fail(storeCtx, job, reason, now); ferr != nil {
			q.reportStoreError(logger, ferr, "Failed to mark job failed")
			return
		}
		if permanent {
			logger.WithError(err).Error("Job failed permanently")
		} else {
			logger.WithError(err).Error("Job failed after final attempt")
		}
		q.emit(Event{Type: EventFailed, JobID: job.ID, Kind: job.Kind, Attempt: job.Attempt, Err: reason, At: now})
		return
	}

	delay := constants.BackoffDelay(job.Backoff, job.Attempt)
	if rerr := q.store.Retry(storeCtx, job, reason, now.Add(delay), now); rerr != nil {
		q.reportStoreError(logger, rerr, "Failed to schedule job retry")
		return
	}
	logger.WithError(err).WithField("delay", delay).Warn("Job attempt failed, retrying")
	q.emit(Event{Type: EventRetrying, JobID: job.ID, Kind: job.Kind, Attempt: job.Attempt, Delay: delay, Err: reason, At: now})
}

// reportStoreError drops the result of a claim that was lost to the stall sweep;
// the current holder of the job reports instead.
func (q *Queue) reportStoreError(logger *logrus.Entry, err error, msg string) {
	if errors.Is(err, ErrLeaseLost) {
		logger.Warn("Job lease lost before the result was recorded, dropping result")
		return
	}
	logger.WithError(err).Error(msg)
}

// invoke turns a handler panic into an ordinary failure
func (q *Queue) invoke(ctx context.Context, handler Handler, job *models.Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			q.logger.WithFields(logrus.Fields{
				"job_id": job.ID,
				"panic":  r,
				"stack":  string(debug.Stack()),
			}).Error("Job handler panicked")
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return handler(ctx, job)
}
