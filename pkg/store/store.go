// Package store persists conversation sessions, analytics counters and daily reports.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/ReaganKibet/chatbot-trial/pkg/models"
)

var ErrSessionNotFound = errors.New("session not found")

// Repository is the persistence boundary of the pipeline.
//
// GetOrCreateSession returns the customer's session for the calendar day of
// now. It is safe under concurrent first contact, closes any open session of
// an earlier day with outcome expired, and reopens today's session if it had
// been closed.
type Repository interface {
	GetOrCreateSession(ctx context.Context, customerID string, now time.Time) (*models.Session, error)
	GetSession(ctx context.Context, sessionID string) (*models.Session, error)
	AppendMessage(ctx context.Context, sessionID string, msg models.MessageRecord) error
	PatchContext(ctx context.Context, sessionID string, patch models.ContextPatch) (models.Context, error)
	CloseSession(ctx context.Context, sessionID, outcome string, at time.Time) error

	RecordAnalytics(ctx context.Context, event models.AnalyticsEvent) error
	DailyStats(ctx context.Context, day string) (models.DailyStats, error)
	SaveReport(ctx context.Context, report models.Report) error

	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}

// NewSession builds the first record of a customer's day
func NewSession(id, customerID, day string, now time.Time) *models.Session {
	return &models.Session{
		ID:         id,
		CustomerID: customerID,
		Day:        day,
		Context:    models.Context{Version: models.ContextVersion},
		Messages:   []models.MessageRecord{},
		StartTime:  now,
	}
}

// EmptyStats returns zeroed counters for day
func EmptyStats(day string) models.DailyStats {
	return models.DailyStats{
		Day:     day,
		Events:  map[string]int64{},
		Intents: map[string]int64{},
		Flows:   map[string]int64{},
	}
}
