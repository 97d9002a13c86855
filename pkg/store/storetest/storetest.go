// Package storetest holds the behaviour every store.Repository must share.
package storetest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ReaganKibet/chatbot-trial/pkg/models"
	"github.com/ReaganKibet/chatbot-trial/pkg/store"
)

// Factory returns an empty repository keyed to UTC days
type Factory func(t *testing.T) store.Repository

// Run exercises repo against the Repository contract
func Run(t *testing.T, newRepo Factory) {
	t.Run("GetOrCreateIsIdempotent", func(t *testing.T) { testGetOrCreateIsIdempotent(t, newRepo(t)) })
	t.Run("ConcurrentFirstContact", func(t *testing.T) { testConcurrentFirstContact(t, newRepo(t)) })
	t.Run("DayRolloverExpiresOldSession", func(t *testing.T) { testDayRollover(t, newRepo(t)) })
	t.Run("ClosedSessionReopens", func(t *testing.T) { testClosedSessionReopens(t, newRepo(t)) })
	t.Run("MessagesKeepOrder", func(t *testing.T) { testMessagesKeepOrder(t, newRepo(t)) })
	t.Run("PatchContext", func(t *testing.T) { testPatchContext(t, newRepo(t)) })
	t.Run("UnknownSession", func(t *testing.T) { testUnknownSession(t, newRepo(t)) })
	t.Run("Analytics", func(t *testing.T) { testAnalytics(t, newRepo(t)) })
}

var day1 = time.Date(2024, 5, 1, 9, 30, 0, 0, time.UTC)

func testGetOrCreateIsIdempotent(t *testing.T, repo store.Repository) {
	ctx := context.Background()

	first, err := repo.GetOrCreateSession(ctx, "15551234567", day1)
	require.NoError(t, err)
	assert.NotEmpty(t, first.ID)
	assert.Equal(t, "2024-05-01", first.Day)
	assert.True(t, first.IsOpen())
	assert.Equal(t, models.ContextVersion, first.Context.Version)

	again, err := repo.GetOrCreateSession(ctx, "15551234567", day1.Add(3*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID)
	assert.True(t, again.StartTime.Equal(first.StartTime))

	other, err := repo.GetOrCreateSession(ctx, "15557654321", day1)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, other.ID)
}

func testConcurrentFirstContact(t *testing.T, repo store.Repository) {
	ctx := context.Background()

	const callers = 20
	ids := make([]string, callers)
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s, err := repo.GetOrCreateSession(ctx, "15550000001", day1)
			errs[i] = err
			if err == nil {
				ids[i] = s.ID
			}
		}(i)
	}
	wg.Wait()

	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, ids[0], ids[i])
	}
}

func testDayRollover(t *testing.T, repo store.Repository) {
	ctx := context.Background()

	old, err := repo.GetOrCreateSession(ctx, "15551234567", day1)
	require.NoError(t, err)

	next := day1.Add(24 * time.Hour)
	today, err := repo.GetOrCreateSession(ctx, "15551234567", next)
	require.NoError(t, err)
	assert.NotEqual(t, old.ID, today.ID)
	assert.Equal(t, "2024-05-02", today.Day)

	expired, err := repo.GetSession(ctx, old.ID)
	require.NoError(t, err)
	assert.False(t, expired.IsOpen())
	assert.Equal(t, models.OutcomeExpired, expired.Outcome)
}

func testClosedSessionReopens(t *testing.T, repo store.Repository) {
	ctx := context.Background()

	s, err := repo.GetOrCreateSession(ctx, "15551234567", day1)
	require.NoError(t, err)
	require.NoError(t, repo.CloseSession(ctx, s.ID, models.OutcomeClosed, day1.Add(time.Minute)))

	closed, err := repo.GetSession(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeClosed, closed.Outcome)

	// closing twice keeps the first outcome
	require.NoError(t, repo.CloseSession(ctx, s.ID, models.OutcomeExpired, day1.Add(2*time.Minute)))
	closed, err = repo.GetSession(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeClosed, closed.Outcome)

	reopened, err := repo.GetOrCreateSession(ctx, "15551234567", day1.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, s.ID, reopened.ID)
	assert.True(t, reopened.IsOpen())
	assert.Empty(t, reopened.Outcome)
}

func testMessagesKeepOrder(t *testing.T, repo store.Repository) {
	ctx := context.Background()

	s, err := repo.GetOrCreateSession(ctx, "15551234567", day1)
	require.NoError(t, err)

	class := &models.Classification{Intent: models.IntentGreeting, Confidence: 0.9, Scored: true, Source: models.SourceOffline}
	require.NoError(t, repo.AppendMessage(ctx, s.ID, models.MessageRecord{
		Direction: models.DirectionInbound, Content: "hello", Type: models.MessageTypeText,
		Classification: class, Timestamp: day1,
	}))
	require.NoError(t, repo.AppendMessage(ctx, s.ID, models.MessageRecord{
		Direction: models.DirectionOutbound, Content: "Hi!", Type: models.MessageTypeButtons,
		Flow: models.FlowWelcome, Timestamp: day1.Add(time.Second),
	}))

	stored, err := repo.GetSession(ctx, s.ID)
	require.NoError(t, err)
	require.Len(t, stored.Messages, 2)
	assert.Equal(t, 2, stored.MessageCount)
	assert.Equal(t, models.DirectionInbound, stored.Messages[0].Direction)
	require.NotNil(t, stored.Messages[0].Classification)
	assert.Equal(t, models.IntentGreeting, stored.Messages[0].Classification.Intent)
	assert.Equal(t, models.FlowWelcome, stored.Messages[1].Flow)
}

func testPatchContext(t *testing.T, repo store.Repository) {
	ctx := context.Background()

	s, err := repo.GetOrCreateSession(ctx, "15551234567", day1)
	require.NoError(t, err)

	updated, err := repo.PatchContext(ctx, s.ID, models.ContextPatch{
		CurrentFlow:      models.FlowPtr(models.FlowBrowseCatalog),
		SelectedCategory: models.StringPtr("clothing"),
		MenuOptions:      []string{"product_p-200", "product_p-201"},
	})
	require.NoError(t, err)
	assert.Equal(t, models.FlowBrowseCatalog, updated.CurrentFlow)

	updated, err = repo.PatchContext(ctx, s.ID, models.ContextPatch{ResetMenu: true, LastQuery: models.StringPtr("jeans")})
	require.NoError(t, err)
	assert.Empty(t, updated.MenuOptions)
	assert.Equal(t, "clothing", updated.SelectedCategory)

	stored, err := repo.GetSession(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, updated.CurrentFlow, stored.Context.CurrentFlow)
	assert.Equal(t, "jeans", stored.Context.LastQuery)
	assert.Empty(t, stored.Context.MenuOptions)
}

func testUnknownSession(t *testing.T, repo store.Repository) {
	ctx := context.Background()

	_, err := repo.GetSession(ctx, "missing")
	assert.True(t, errors.Is(err, store.ErrSessionNotFound))

	err = repo.AppendMessage(ctx, "missing", models.MessageRecord{Content: "x"})
	assert.True(t, errors.Is(err, store.ErrSessionNotFound))

	_, err = repo.PatchContext(ctx, "missing", models.ContextPatch{})
	assert.True(t, errors.Is(err, store.ErrSessionNotFound))

	err = repo.CloseSession(ctx, "missing", models.OutcomeClosed, day1)
	assert.True(t, errors.Is(err, store.ErrSessionNotFound))
}

func testAnalytics(t *testing.T, repo store.Repository) {
	ctx := context.Background()

	events := []models.AnalyticsEvent{
		{Event: models.EventMessageReceived, CustomerID: "1", Intent: models.IntentGreeting, At: day1},
		{Event: models.EventMessageSent, CustomerID: "1", Flow: models.FlowWelcome, At: day1},
		{Event: models.EventMessageReceived, CustomerID: "2", Intent: models.IntentGreeting, At: day1},
		{Event: models.EventMessageError, CustomerID: "2", Error: "boom", At: day1},
		{Event: models.EventMessageReceived, CustomerID: "3", At: day1.Add(24 * time.Hour)},
	}
	for _, e := range events {
		require.NoError(t, repo.RecordAnalytics(ctx, e))
	}

	stats, err := repo.DailyStats(ctx, "2024-05-01")
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.Events[models.EventMessageReceived])
	assert.Equal(t, int64(1), stats.Events[models.EventMessageSent])
	assert.Equal(t, int64(1), stats.Events[models.EventMessageError])
	assert.Equal(t, int64(2), stats.Intents[models.IntentGreeting])
	assert.Equal(t, int64(1), stats.Flows[string(models.FlowWelcome)])

	empty, err := repo.DailyStats(ctx, "2023-01-01")
	require.NoError(t, err)
	assert.Empty(t, empty.Events)

	require.NoError(t, repo.SaveReport(ctx, models.Report{Day: "2024-05-01", Stats: stats, GeneratedAt: day1}))
	// saving again replaces the report
	require.NoError(t, repo.SaveReport(ctx, models.Report{Day: "2024-05-01", Stats: stats, GeneratedAt: day1.Add(time.Hour)}))
	assert.NoError(t, repo.Ping(ctx))
}
