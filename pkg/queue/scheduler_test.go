package queue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ReaganKibet/chatbot-trial/pkg/models"
)

func TestScheduler_RejectsInvalidCron(t *testing.T) {
	q, _ := newTestQueue(t, testOptions())

	err := q.AddSchedule(Schedule{Name: "daily-report", Expr: "not a cron", Kind: models.JobGenerateReport})
	assert.Error(t, err)

	err = q.AddSchedule(Schedule{Name: "daily-report", Expr: "5 0 * * *", Kind: models.JobGenerateReport})
	assert.NoError(t, err)
}

func TestScheduler_TickIsEnqueuedOnce(t *testing.T) {
	q, store := newTestQueue(t, testOptions())
	ctx := context.Background()

	s := &Schedule{
		Name: "daily-report",
		Expr: "5 0 * * *",
		Kind: models.JobGenerateReport,
		Payload: func(tick time.Time) interface{} {
			return models.ReportRequest{Day: tick.AddDate(0, 0, -1).Format("2006-01-02")}
		},
	}
	tick := time.Date(2024, 5, 2, 0, 5, 0, 0, time.UTC)

	// two instances firing the same tick during a leader handover
	enqueued, err := q.fire(ctx, s, tick)
	require.NoError(t, err)
	assert.True(t, enqueued)

	enqueued, err = q.fire(ctx, s, tick)
	require.NoError(t, err)
	assert.False(t, enqueued)

	counts, err := store.Counts(ctx, models.JobGenerateReport)
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts[models.JobWaiting])

	job, err := store.Get(ctx, "daily-report:1714608300")
	require.NoError(t, err)
	var req models.ReportRequest
	require.NoError(t, job.Decode(&req))
	assert.Equal(t, "2024-05-01", req.Day)

	// the next tick is a new job
	enqueued, err = q.fire(ctx, s, tick.AddDate(0, 0, 1))
	require.NoError(t, err)
	assert.True(t, enqueued)
}
