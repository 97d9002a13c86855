package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ReaganKibet/chatbot-trial/pkg/catalog"
	"github.com/ReaganKibet/chatbot-trial/pkg/classifier"
	"github.com/ReaganKibet/chatbot-trial/pkg/conversation"
	"github.com/ReaganKibet/chatbot-trial/pkg/metrics"
	"github.com/ReaganKibet/chatbot-trial/pkg/models"
	"github.com/ReaganKibet/chatbot-trial/pkg/queue"
	"github.com/ReaganKibet/chatbot-trial/pkg/store"
	"github.com/ReaganKibet/chatbot-trial/pkg/transport"
)

type delivery struct {
	recipient string
	resp      models.ResponseDescriptor
}

type recordingSender struct {
	mu       sync.Mutex
	messages []delivery
	failures int // fail this many calls before succeeding
	notify   chan struct{}
}

func (s *recordingSender) Send(ctx context.Context, recipient string, resp models.ResponseDescriptor) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, delivery{recipient: recipient, resp: resp})
	if s.notify != nil {
		s.notify <- struct{}{}
	}
	if s.failures > 0 {
		s.failures--
		return "", errors.New("provider unavailable")
	}
	return "SM" + recipient, nil
}

func (s *recordingSender) sent() []delivery {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]delivery(nil), s.messages...)
}

// failingRepo breaks context updates
type failingRepo struct {
	store.Repository
}

func (failingRepo) PatchContext(ctx context.Context, sessionID string, patch models.ContextPatch) (models.Context, error) {
	return models.Context{}, errors.New("mongo: no reachable servers")
}

type fixture struct {
	orch   *Orchestrator
	repo   *store.MemoryRepository
	sender *recordingSender
	queue  *queue.Queue
	store  *queue.MemoryStore
}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return logger
}

func newFixture(t *testing.T, opts queue.Options) *fixture {
	t.Helper()
	logger := testLogger()
	m := metrics.NewMetrics(prometheus.NewRegistry())

	qs := queue.NewMemoryStore()
	q := queue.New(qs, opts, nil, logger, m)
	repo := store.NewMemoryRepository(time.UTC)
	sender := &recordingSender{}

	orch := New(Dependencies{
		Repository: repo,
		Classifier: classifier.New(nil, time.Second, logger, m),
		Machine:    conversation.NewMachine(catalog.Default(), logger, m),
		Sender:     sender,
		Queue:      q,
		Location:   time.UTC,
		Logger:     logger,
	})
	return &fixture{orch: orch, repo: repo, sender: sender, queue: q, store: qs}
}

func messageJob(t *testing.T, customerID, body string, attempt int) *models.Job {
	t.Helper()
	payload, err := json.Marshal(models.InboundMessage{
		CustomerID: customerID,
		Body:       body,
		Type:       models.MessageTypeText,
		ReceivedAt: time.Now(),
	})
	require.NoError(t, err)
	return &models.Job{ID: "job-" + body, Kind: models.JobProcessMessage, Payload: payload, Attempt: attempt, MaxAttempts: 3}
}

func analyticsJobs(t *testing.T, f *fixture) int64 {
	t.Helper()
	counts, err := f.store.Counts(context.Background(), models.JobUpdateAnalytics)
	require.NoError(t, err)
	return counts[models.JobWaiting]
}

func TestProcessMessage_Hello(t *testing.T) {
	f := newFixture(t, queue.DefaultOptions())
	ctx := context.Background()

	require.NoError(t, f.orch.ProcessMessage(ctx, messageJob(t, "+15551234567", "hello", 1)))

	out := f.sender.sent()
	require.Len(t, out, 1)
	assert.Equal(t, "+15551234567", out[0].recipient)
	assert.Equal(t, models.FlowWelcome, out[0].resp.Flow)
	assert.Len(t, out[0].resp.Buttons, 4)

	session, err := f.repo.GetOrCreateSession(ctx, "+15551234567", time.Now())
	require.NoError(t, err)
	require.Len(t, session.Messages, 2)
	assert.Equal(t, models.DirectionInbound, session.Messages[0].Direction)
	require.NotNil(t, session.Messages[0].Classification)
	assert.Equal(t, models.IntentGreeting, session.Messages[0].Classification.Intent)
	assert.Equal(t, models.DirectionOutbound, session.Messages[1].Direction)
	assert.Equal(t, models.MessageTypeButtons, session.Messages[1].Type)
	assert.Equal(t, models.FlowWelcome, session.Context.CurrentFlow)
	assert.Len(t, session.Context.MenuOptions, 4)

	// message_received and message_sent
	assert.Equal(t, int64(2), analyticsJobs(t, f))
}

func TestProcessMessage_NumberedFollowUp(t *testing.T) {
	f := newFixture(t, queue.DefaultOptions())
	ctx := context.Background()

	require.NoError(t, f.orch.ProcessMessage(ctx, messageJob(t, "+15551234567", "hello", 1)))
	require.NoError(t, f.orch.ProcessMessage(ctx, messageJob(t, "+15551234567", "1", 1)))

	out := f.sender.sent()
	require.Len(t, out, 2)
	assert.Equal(t, models.FlowBrowseCatalog, out[1].resp.Flow)
	assert.Equal(t, models.ResponseList, out[1].resp.Kind)
}

func TestProcessMessage_DeliveryFailureApologizesOnce(t *testing.T) {
	f := newFixture(t, queue.DefaultOptions())
	f.sender.failures = 10
	ctx := context.Background()

	err := f.orch.ProcessMessage(ctx, messageJob(t, "+15551234567", "hello", 1))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "deliver reply")

	out := f.sender.sent()
	require.Len(t, out, 2)
	assert.Equal(t, apologyBody, out[1].resp.Body)

	// later attempts do not repeat the apology
	require.Error(t, f.orch.ProcessMessage(ctx, messageJob(t, "+15551234567", "hello", 2)))
	assert.Len(t, f.sender.sent(), 3)
}

func TestProcessMessage_StoreFailure(t *testing.T) {
	f := newFixture(t, queue.DefaultOptions())
	f.orch.repo = failingRepo{Repository: f.repo}

	err := f.orch.ProcessMessage(context.Background(), messageJob(t, "+15551234567", "hello", 1))
	require.Error(t, err)

	out := f.sender.sent()
	require.Len(t, out, 1)
	assert.Equal(t, apologyBody, out[0].resp.Body)

	// message_received and message_error
	assert.Equal(t, int64(2), analyticsJobs(t, f))
}

func TestProcessMessage_BadPayload(t *testing.T) {
	f := newFixture(t, queue.DefaultOptions())

	err := f.orch.ProcessMessage(context.Background(), &models.Job{Payload: []byte("{")})
	assert.Error(t, err)
	assert.Empty(t, f.sender.sent())
}

func TestUpdateAnalytics(t *testing.T) {
	f := newFixture(t, queue.DefaultOptions())
	ctx := context.Background()
	at := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	for _, e := range []models.AnalyticsEvent{
		{Event: models.EventMessageReceived, Intent: models.IntentSearch, At: at},
		{Event: models.EventMessageSent, Flow: models.FlowProductSearch, At: at},
	} {
		payload, err := json.Marshal(e)
		require.NoError(t, err)
		require.NoError(t, f.orch.UpdateAnalytics(ctx, &models.Job{Payload: payload}))
	}

	stats, err := f.repo.DailyStats(ctx, "2024-05-01")
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Events[models.EventMessageReceived])
	assert.Equal(t, int64(1), stats.Intents[models.IntentSearch])
	assert.Equal(t, int64(1), stats.Flows[string(models.FlowProductSearch)])
}

func TestGenerateReport_DefaultsToYesterday(t *testing.T) {
	f := newFixture(t, queue.DefaultOptions())
	ctx := context.Background()
	f.orch.now = func() time.Time { return time.Date(2024, 5, 2, 0, 5, 0, 0, time.UTC) }

	require.NoError(t, f.repo.RecordAnalytics(ctx, models.AnalyticsEvent{
		Event: models.EventMessageReceived, At: time.Date(2024, 5, 1, 18, 0, 0, 0, time.UTC),
	}))

	payload, err := json.Marshal(models.ReportRequest{})
	require.NoError(t, err)
	require.NoError(t, f.orch.GenerateReport(ctx, &models.Job{Payload: payload}))

	report, ok := f.repo.Report("2024-05-01")
	require.True(t, ok)
	assert.Equal(t, int64(1), report.Stats.Events[models.EventMessageReceived])
	assert.Contains(t, report.Queue, models.JobProcessMessage)

	payload, err = json.Marshal(models.ReportRequest{Day: "2024-04-30"})
	require.NoError(t, err)
	require.NoError(t, f.orch.GenerateReport(ctx, &models.Job{Payload: payload}))
	_, ok = f.repo.Report("2024-04-30")
	assert.True(t, ok)
}

func TestPipeline_RetryDeliversAfterTransientFailure(t *testing.T) {
	opts := queue.DefaultOptions()
	opts.Backoff = 10 * time.Millisecond
	opts.PollInterval = 5 * time.Millisecond
	f := newFixture(t, opts)
	f.sender.failures = 1
	f.orch.Register(f.queue, 1, 1, 1)

	ctx := context.Background()
	require.NoError(t, f.queue.Start(ctx))
	defer f.queue.Stop()

	_, err := f.queue.Enqueue(ctx, models.JobProcessMessage, models.InboundMessage{
		CustomerID: "+15551234567", Body: "hello", Type: models.MessageTypeText,
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		counts, err := f.store.Counts(ctx, models.JobProcessMessage)
		return err == nil && counts[models.JobCompleted] == 1
	}, 2*time.Second, 10*time.Millisecond)

	out := f.sender.sent()
	require.Len(t, out, 3) // failed reply, apology, delivered reply
	assert.Equal(t, models.FlowWelcome, out[0].resp.Flow)
	assert.Equal(t, apologyBody, out[1].resp.Body)
	assert.Equal(t, models.FlowWelcome, out[2].resp.Flow)
}

// gatedClassifier holds back one text until released
type gatedClassifier struct {
	Classifier
	text    string
	release chan struct{}
}

func (g gatedClassifier) Classify(ctx context.Context, text string) models.Classification {
	if text == g.text {
		<-g.release
	}
	return g.Classifier.Classify(ctx, text)
}

// Messages of one customer are processed by independent workers, so a slow
// first message can be answered after a later one.
func TestPipeline_PerCustomerOrderIsNotGuaranteed(t *testing.T) {
	opts := queue.DefaultOptions()
	opts.PollInterval = 5 * time.Millisecond
	f := newFixture(t, opts)
	release := make(chan struct{})
	f.orch.classifier = gatedClassifier{Classifier: f.orch.classifier, text: "hello", release: release}
	f.sender.notify = make(chan struct{}, 4)
	f.orch.Register(f.queue, 2, 1, 1)

	ctx := context.Background()
	require.NoError(t, f.queue.Start(ctx))
	defer f.queue.Stop()

	for _, body := range []string{"hello", "talk to an agent"} {
		_, err := f.queue.Enqueue(ctx, models.JobProcessMessage, models.InboundMessage{
			CustomerID: "+15551234567", Body: body, Type: models.MessageTypeText,
		})
		require.NoError(t, err)
	}

	select {
	case <-f.sender.notify:
	case <-time.After(2 * time.Second):
		t.Fatal("second message was not processed while the first was held")
	}
	close(release)
	select {
	case <-f.sender.notify:
	case <-time.After(2 * time.Second):
		t.Fatal("first message was never answered")
	}

	out := f.sender.sent()
	require.Len(t, out, 2)
	assert.NotEqual(t, models.FlowWelcome, out[0].resp.Flow)
	assert.Equal(t, models.FlowWelcome, out[1].resp.Flow)
}

type panickingMachine struct{}

func (panickingMachine) Advance(customerID string, class models.Classification, prior models.Context, raw string) models.ResponseDescriptor {
	panic("menu option index out of range")
}

func TestProcessMessage_PanicStillApologizes(t *testing.T) {
	f := newFixture(t, queue.DefaultOptions())
	f.orch.machine = panickingMachine{}

	err := f.orch.ProcessMessage(context.Background(), messageJob(t, "+15551234567", "hello", 1))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "menu option index out of range")

	out := f.sender.sent()
	require.Len(t, out, 1)
	assert.Equal(t, apologyBody, out[0].resp.Body)

	// message_received and message_error
	assert.Equal(t, int64(2), analyticsJobs(t, f))
}

// rejectingSender answers like a provider refusing the recipient
type rejectingSender struct {
	recordingSender
}

func (s *rejectingSender) Send(ctx context.Context, recipient string, resp models.ResponseDescriptor) (string, error) {
	_, _ = s.recordingSender.Send(ctx, recipient, resp)
	return "", &transport.APIError{Status: 400, Code: 21211, Message: "Invalid 'To' Phone Number"}
}

func TestPipeline_RejectedReplyIsNotRetried(t *testing.T) {
	opts := queue.DefaultOptions()
	opts.Backoff = 10 * time.Millisecond
	opts.PollInterval = 5 * time.Millisecond
	f := newFixture(t, opts)
	sender := &rejectingSender{}
	f.orch.sender = sender
	f.orch.Register(f.queue, 1, 1, 1)

	ctx := context.Background()
	require.NoError(t, f.queue.Start(ctx))
	defer f.queue.Stop()

	job, err := f.queue.Enqueue(ctx, models.JobProcessMessage, models.InboundMessage{
		CustomerID: "+15550000000", Body: "hello", Type: models.MessageTypeText,
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		counts, err := f.store.Counts(ctx, models.JobProcessMessage)
		return err == nil && counts[models.JobFailed] == 1
	}, 2*time.Second, 10*time.Millisecond)

	stored, err := f.queue.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, stored.Attempt)
	assert.Contains(t, stored.Error, "21211")

	out := sender.sent()
	require.Len(t, out, 2) // rejected reply and the apology attempt
	assert.Equal(t, apologyBody, out[1].resp.Body)
}

func TestProcessMessage_ProviderOutageIsRetryable(t *testing.T) {
	f := newFixture(t, queue.DefaultOptions())
	f.orch.sender = outageSender{}

	err := f.orch.ProcessMessage(context.Background(), messageJob(t, "+15551234567", "hello", 2))
	require.Error(t, err)
	assert.False(t, queue.IsPermanent(err))

	var apiErr *transport.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 503, apiErr.Status)
}

type outageSender struct{}

func (outageSender) Send(ctx context.Context, recipient string, resp models.ResponseDescriptor) (string, error) {
	return "", &transport.APIError{Status: 503, Code: 20503, Message: "Service unavailable"}
}
