// Package pipeline runs the queued work: inbound messages, analytics updates
// and daily reports.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ReaganKibet/chatbot-trial/pkg/models"
	"github.com/ReaganKibet/chatbot-trial/pkg/queue"
	"github.com/ReaganKibet/chatbot-trial/pkg/store"
	"github.com/ReaganKibet/chatbot-trial/pkg/transport"
)

const apologyBody = "Sorry, something went wrong on our side. Please try again in a moment."

type Classifier interface {
	Classify(ctx context.Context, text string) models.Classification
}

type StateMachine interface {
	Advance(customerID string, class models.Classification, prior models.Context, raw string) models.ResponseDescriptor
}

// JobQueue is the part of the queue the orchestrator enqueues follow-up work on
type JobQueue interface {
	Enqueue(ctx context.Context, kind models.JobKind, payload interface{}, opts ...queue.EnqueueOption) (*models.Job, error)
	Counts(ctx context.Context) (map[models.JobKind]map[models.JobState]int64, error)
}

type Dependencies struct {
	Repository store.Repository
	Classifier Classifier
	Machine    StateMachine
	Sender     transport.Sender
	Queue      JobQueue
	Location   *time.Location
	Logger     *logrus.Logger
}

type Orchestrator struct {
	repo       store.Repository
	classifier Classifier
	machine    StateMachine
	sender     transport.Sender
	queue      JobQueue
	loc        *time.Location
	logger     *logrus.Logger
	now        func() time.Time
}

func New(deps Dependencies) *Orchestrator {
	loc := deps.Location
	if loc == nil {
		loc = time.UTC
	}
	return &Orchestrator{
		repo:       deps.Repository,
		classifier: deps.Classifier,
		machine:    deps.Machine,
		sender:     deps.Sender,
		queue:      deps.Queue,
		loc:        loc,
		logger:     deps.Logger,
		now:        time.Now,
	}
}

// Register subscribes the three job handlers
func (o *Orchestrator) Register(q *queue.Queue, messageWorkers, analyticsWorkers, reportWorkers int) {
	q.Subscribe(models.JobProcessMessage, messageWorkers, o.ProcessMessage)
	q.Subscribe(models.JobUpdateAnalytics, analyticsWorkers, o.UpdateAnalytics)
	q.Subscribe(models.JobGenerateReport, reportWorkers, o.GenerateReport)
}

// ProcessMessage turns one inbound message into one reply. A returned error
// lets the queue retry unless the provider rejected the reply outright; the
// customer gets an apology on the first failure.
func (o *Orchestrator) ProcessMessage(ctx context.Context, job *models.Job) error {
	var msg models.InboundMessage
	if err := job.Decode(&msg); err != nil {
		return fmt.Errorf("decode inbound message: %w", err)
	}

	logger := o.logger.WithFields(logrus.Fields{
		"job_id":      job.ID,
		"customer_id": msg.CustomerID,
		"attempt":     job.Attempt,
	})

	sessionID, err := o.processMessageSafely(ctx, msg, logger)
	if err != nil {
		logger.WithError(err).Error("Failed to process message")
		o.track(ctx, models.AnalyticsEvent{
			Event:      models.EventMessageError,
			CustomerID: msg.CustomerID,
			SessionID:  sessionID,
			Error:      err.Error(),
		})
		if job.Attempt <= 1 {
			o.apologize(ctx, msg.CustomerID, logger)
		}
		return err
	}
	return nil
}

// processMessageSafely turns a panic in a collaborator into an error so the
// customer still gets the apology
func (o *Orchestrator) processMessageSafely(ctx context.Context, msg models.InboundMessage, logger *logrus.Entry) (sessionID string, err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.WithFields(logrus.Fields{
				"panic": r,
				"stack": string(debug.Stack()),
			}).Error("Message pipeline panicked")
			err = fmt.Errorf("message pipeline panic: %v", r)
		}
	}()
	return o.processMessage(ctx, msg, logger)
}

func (o *Orchestrator) processMessage(ctx context.Context, msg models.InboundMessage, logger *logrus.Entry) (string, error) {
	session, err := o.repo.GetOrCreateSession(ctx, msg.CustomerID, o.now())
	if err != nil {
		return "", fmt.Errorf("get session: %w", err)
	}

	text := msg.Text()
	class := o.classifier.Classify(ctx, text)

	received := msg.ReceivedAt
	if received.IsZero() {
		received = o.now()
	}
	if err := o.repo.AppendMessage(ctx, session.ID, models.MessageRecord{
		Direction:      models.DirectionInbound,
		Content:        inboundContent(msg),
		Type:           msg.Type,
		Classification: &class,
		Timestamp:      received,
	}); err != nil {
		return session.ID, fmt.Errorf("log inbound message: %w", err)
	}
	o.track(ctx, models.AnalyticsEvent{
		Event:      models.EventMessageReceived,
		CustomerID: msg.CustomerID,
		SessionID:  session.ID,
		Intent:     class.Intent,
	})

	resp := o.machine.Advance(msg.CustomerID, class, session.Context, text)

	if _, err := o.repo.PatchContext(ctx, session.ID, resp.Patch); err != nil {
		return session.ID, fmt.Errorf("update context: %w", err)
	}
	if err := o.repo.AppendMessage(ctx, session.ID, models.MessageRecord{
		Direction: models.DirectionOutbound,
		Content:   resp.Body,
		Type:      resp.MessageType(),
		Flow:      resp.Flow,
		Timestamp: o.now(),
	}); err != nil {
		return session.ID, fmt.Errorf("log outbound message: %w", err)
	}

	providerID, err := o.sender.Send(ctx, msg.CustomerID, resp)
	if err != nil {
		err = fmt.Errorf("deliver reply: %w", err)
		// the provider rejected the message itself, resending the same reply fails the same way
		var apiErr *transport.APIError
		if errors.As(err, &apiErr) && !apiErr.Temporary() {
			return session.ID, queue.Permanent(err)
		}
		return session.ID, err
	}

	o.track(ctx, models.AnalyticsEvent{
		Event:      models.EventMessageSent,
		CustomerID: msg.CustomerID,
		SessionID:  session.ID,
		Intent:     class.Intent,
		Flow:       resp.Flow,
	})

	logger.WithFields(logrus.Fields{
		"session_id":  session.ID,
		"intent":      class.Intent,
		"confidence":  class.Confidence,
		"source":      class.Source,
		"flow":        resp.Flow,
		"provider_id": providerID,
	}).Info("Message processed")
	return session.ID, nil
}

func inboundContent(msg models.InboundMessage) string {
	switch {
	case msg.SelectionID != "" && msg.Body != "":
		return msg.Body + " [" + msg.SelectionID + "]"
	case msg.Body != "":
		return msg.Body
	case msg.SelectionID != "":
		return msg.SelectionID
	default:
		return msg.MediaURL
	}
}

// apologize is best effort; a failed apology is only logged
func (o *Orchestrator) apologize(ctx context.Context, customerID string, logger *logrus.Entry) {
	ctx = context.WithoutCancel(ctx)
	if _, err := o.sender.Send(ctx, customerID, models.ResponseDescriptor{
		Kind: models.ResponseText,
		Flow: models.FlowFallback,
		Body: apologyBody,
	}); err != nil {
		logger.WithError(err).Warn("Failed to send apology")
		return
	}
	logger.Warn("Sent apology after processing failure")
}

// track enqueues an analytics update. Analytics never fail a message.
func (o *Orchestrator) track(ctx context.Context, event models.AnalyticsEvent) {
	if event.At.IsZero() {
		event.At = o.now()
	}
	if _, err := o.queue.Enqueue(context.WithoutCancel(ctx), models.JobUpdateAnalytics, event); err != nil {
		o.logger.WithError(err).WithField("event", event.Event).Warn("Failed to enqueue analytics event")
	}
}

func (o *Orchestrator) UpdateAnalytics(ctx context.Context, job *models.Job) error {
	var event models.AnalyticsEvent
	if err := job.Decode(&event); err != nil {
		return fmt.Errorf("decode analytics event: %w", err)
	}
	if err := o.repo.RecordAnalytics(ctx, event); err != nil {
		return fmt.Errorf("record analytics: %w", err)
	}
	return nil
}

// GenerateReport aggregates one day of analytics with the current queue
// counts and stores the result. An empty day means yesterday.
func (o *Orchestrator) GenerateReport(ctx context.Context, job *models.Job) error {
	var req models.ReportRequest
	if err := job.Decode(&req); err != nil {
		return fmt.Errorf("decode report request: %w", err)
	}

	day := req.Day
	if day == "" {
		day = models.DayKey(o.now().In(o.loc).AddDate(0, 0, -1), o.loc)
	}

	stats, err := o.repo.DailyStats(ctx, day)
	if err != nil {
		return fmt.Errorf("load stats for %s: %w", day, err)
	}
	counts, err := o.queue.Counts(ctx)
	if err != nil {
		return fmt.Errorf("load queue counts: %w", err)
	}

	report := models.Report{
		Day:         day,
		Stats:       stats,
		Queue:       counts,
		GeneratedAt: o.now(),
	}
	if err := o.repo.SaveReport(ctx, report); err != nil {
		return fmt.Errorf("save report for %s: %w", day, err)
	}

	o.logger.WithFields(logrus.Fields{
		"day":      day,
		"received": stats.Events[models.EventMessageReceived],
		"sent":     stats.Events[models.EventMessageSent],
		"errors":   stats.Events[models.EventMessageError],
		"intents":  stats.Intents,
		"flows":    stats.Flows,
	}).Info("Daily report generated")
	return nil
}
