// Package mongo implements store.Repository on MongoDB.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/v2/bson"
	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"

	"github.com/ReaganKibet/chatbot-trial/pkg/metrics"
	"github.com/ReaganKibet/chatbot-trial/pkg/models"
	"github.com/ReaganKibet/chatbot-trial/pkg/store"
)

const (
	sessionsCollection  = "sessions"
	analyticsCollection = "analytics_daily"
	reportsCollection   = "reports"
	defaultOpTimeout    = 5 * time.Second
)

// Options configures the Mongo repository.
type Options struct {
	Client   *mongodriver.Client
	Database string
	Timeout  time.Duration
	Location *time.Location
	Metrics  *metrics.Metrics
}

type Repository struct {
	mongo     *mongodriver.Client
	sessions  *mongodriver.Collection
	analytics *mongodriver.Collection
	reports   *mongodriver.Collection
	timeout   time.Duration
	loc       *time.Location
	metrics   *metrics.Metrics
}

// Connect dials uri and verifies the connection with a ping
func Connect(ctx context.Context, uri string) (*mongodriver.Client, error) {
	client, err := mongodriver.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect to mongo: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}
	return client, nil
}

// New returns a Repository and makes sure its indexes exist.
func New(opts Options) (*Repository, error) {
	if opts.Client == nil {
		return nil, errors.New("mongo client is required")
	}
	if opts.Database == "" {
		return nil, errors.New("database name is required")
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultOpTimeout
	}
	loc := opts.Location
	if loc == nil {
		loc = time.UTC
	}

	db := opts.Client.Database(opts.Database)
	r := &Repository{
		mongo:     opts.Client,
		sessions:  db.Collection(sessionsCollection),
		analytics: db.Collection(analyticsCollection),
		reports:   db.Collection(reportsCollection),
		timeout:   timeout,
		loc:       loc,
		metrics:   opts.Metrics,
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := r.ensureIndexes(ctx); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Repository) ensureIndexes(ctx context.Context) error {
	_, err := r.sessions.Indexes().CreateMany(ctx, []mongodriver.IndexModel{
		{
			Keys:    bson.D{{Key: "session_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			// one session per customer and day; makes get-or-create race-safe
			Keys:    bson.D{{Key: "customer_id", Value: 1}, {Key: "day", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
	})
	if err != nil {
		return fmt.Errorf("create session indexes: %w", err)
	}
	if _, err := r.analytics.Indexes().CreateOne(ctx, mongodriver.IndexModel{
		Keys:    bson.D{{Key: "day", Value: 1}},
		Options: options.Index().SetUnique(true),
	}); err != nil {
		return fmt.Errorf("create analytics index: %w", err)
	}
	if _, err := r.reports.Indexes().CreateOne(ctx, mongodriver.IndexModel{
		Keys:    bson.D{{Key: "day", Value: 1}},
		Options: options.Index().SetUnique(true),
	}); err != nil {
		return fmt.Errorf("create reports index: %w", err)
	}
	return nil
}

func (r *Repository) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, r.timeout)
}

func (r *Repository) observe(operation string, start time.Time) {
	if r.metrics == nil {
		return
	}
	r.metrics.StoreOperationDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

func (r *Repository) GetOrCreateSession(ctx context.Context, customerID string, now time.Time) (*models.Session, error) {
	defer r.observe("session_get_or_create", time.Now())

	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	day := models.DayKey(now, r.loc)
	now = now.UTC()

	if _, err := r.sessions.UpdateMany(ctx,
		bson.M{"customer_id": customerID, "day": bson.M{"$lt": day}, "end_time": bson.M{"$exists": false}},
		bson.M{"$set": bson.M{"end_time": now, "outcome": models.OutcomeExpired}},
	); err != nil {
		return nil, fmt.Errorf("expire old sessions of %s: %w", customerID, err)
	}

	fresh := store.NewSession(uuid.New().String(), customerID, day, now)
	filter := bson.M{"customer_id": customerID, "day": day}
	update := bson.M{
		// pure $setOnInsert so a concurrent or retried call never modifies an existing session
		"$setOnInsert": bson.M{
			"session_id":    fresh.ID,
			"customer_id":   customerID,
			"day":           day,
			"context":       fresh.Context,
			"messages":      fresh.Messages,
			"message_count": 0,
			"start_time":    now,
		},
	}
	_, err := r.sessions.UpdateOne(ctx, filter, update, options.UpdateOne().SetUpsert(true))
	if err != nil && !mongodriver.IsDuplicateKeyError(err) {
		return nil, fmt.Errorf("upsert session of %s: %w", customerID, err)
	}

	var s models.Session
	if err := r.sessions.FindOne(ctx, filter).Decode(&s); err != nil {
		return nil, fmt.Errorf("load session of %s: %w", customerID, err)
	}

	if !s.IsOpen() {
		if _, err := r.sessions.UpdateOne(ctx,
			bson.M{"session_id": s.ID},
			bson.M{"$unset": bson.M{"end_time": "", "outcome": ""}},
		); err != nil {
			return nil, fmt.Errorf("reopen session %s: %w", s.ID, err)
		}
		s.EndTime = nil
		s.Outcome = ""
	}
	return &s, nil
}

func (r *Repository) GetSession(ctx context.Context, sessionID string) (*models.Session, error) {
	defer r.observe("session_get", time.Now())

	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	var s models.Session
	if err := r.sessions.FindOne(ctx, bson.M{"session_id": sessionID}).Decode(&s); err != nil {
		if errors.Is(err, mongodriver.ErrNoDocuments) {
			return nil, fmt.Errorf("get session %s: %w", sessionID, store.ErrSessionNotFound)
		}
		return nil, fmt.Errorf("get session %s: %w", sessionID, err)
	}
	return &s, nil
}

func (r *Repository) AppendMessage(ctx context.Context, sessionID string, msg models.MessageRecord) error {
	defer r.observe("session_append", time.Now())

	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	msg.Timestamp = msg.Timestamp.UTC()
	res, err := r.sessions.UpdateOne(ctx,
		bson.M{"session_id": sessionID},
		bson.M{
			"$push": bson.M{"messages": msg},
			"$inc":  bson.M{"message_count": 1},
		},
	)
	if err != nil {
		return fmt.Errorf("append message to %s: %w", sessionID, err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("append message to %s: %w", sessionID, store.ErrSessionNotFound)
	}
	return nil
}

func (r *Repository) PatchContext(ctx context.Context, sessionID string, patch models.ContextPatch) (models.Context, error) {
	defer r.observe("session_patch_context", time.Now())

	s, err := r.GetSession(ctx, sessionID)
	if err != nil {
		return models.Context{}, err
	}
	next := patch.Apply(s.Context)

	ctx, cancel := r.withTimeout(ctx)
	defer cancel()
	if _, err := r.sessions.UpdateOne(ctx,
		bson.M{"session_id": sessionID},
		bson.M{"$set": bson.M{"context": next}},
	); err != nil {
		return models.Context{}, fmt.Errorf("patch context of %s: %w", sessionID, err)
	}
	return next, nil
}

func (r *Repository) CloseSession(ctx context.Context, sessionID, outcome string, at time.Time) error {
	defer r.observe("session_close", time.Now())

	if _, err := r.GetSession(ctx, sessionID); err != nil {
		return err
	}

	ctx, cancel := r.withTimeout(ctx)
	defer cancel()
	if _, err := r.sessions.UpdateOne(ctx,
		bson.M{"session_id": sessionID, "end_time": bson.M{"$exists": false}},
		bson.M{"$set": bson.M{"end_time": at.UTC(), "outcome": outcome}},
	); err != nil {
		return fmt.Errorf("close session %s: %w", sessionID, err)
	}
	return nil
}

func (r *Repository) RecordAnalytics(ctx context.Context, event models.AnalyticsEvent) error {
	defer r.observe("analytics_record", time.Now())

	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	inc := bson.M{"events." + event.Event: 1}
	if event.Intent != "" {
		inc["intents."+event.Intent] = 1
	}
	if event.Flow != models.FlowNone {
		inc["flows."+string(event.Flow)] = 1
	}

	day := models.DayKey(event.At, r.loc)
	if _, err := r.analytics.UpdateOne(ctx,
		bson.M{"day": day},
		bson.M{"$inc": inc},
		options.UpdateOne().SetUpsert(true),
	); err != nil {
		return fmt.Errorf("record %s for %s: %w", event.Event, day, err)
	}
	return nil
}

func (r *Repository) DailyStats(ctx context.Context, day string) (models.DailyStats, error) {
	defer r.observe("analytics_daily_stats", time.Now())

	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	var stats models.DailyStats
	err := r.analytics.FindOne(ctx, bson.M{"day": day}).Decode(&stats)
	if errors.Is(err, mongodriver.ErrNoDocuments) {
		return store.EmptyStats(day), nil
	}
	if err != nil {
		return models.DailyStats{}, fmt.Errorf("load stats for %s: %w", day, err)
	}

	out := store.EmptyStats(day)
	for k, v := range stats.Events {
		out.Events[k] = v
	}
	for k, v := range stats.Intents {
		out.Intents[k] = v
	}
	for k, v := range stats.Flows {
		out.Flows[k] = v
	}
	return out, nil
}

func (r *Repository) SaveReport(ctx context.Context, report models.Report) error {
	defer r.observe("report_save", time.Now())

	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	if _, err := r.reports.ReplaceOne(ctx,
		bson.M{"day": report.Day},
		report,
		options.Replace().SetUpsert(true),
	); err != nil {
		return fmt.Errorf("save report for %s: %w", report.Day, err)
	}
	return nil
}

func (r *Repository) Ping(ctx context.Context) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()
	return r.mongo.Ping(ctx, readpref.Primary())
}

func (r *Repository) Close(ctx context.Context) error {
	return r.mongo.Disconnect(ctx)
}
