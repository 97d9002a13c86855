package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ReaganKibet/chatbot-trial/pkg/models"
)

// MemoryRepository keeps everything in process. Used for single-process
// development and tests.
type MemoryRepository struct {
	loc *time.Location

	mu       sync.Mutex
	sessions map[string]*models.Session // by session id
	daily    map[string]string          // customer|day -> session id
	stats    map[string]models.DailyStats
	reports  map[string]models.Report
}

func NewMemoryRepository(loc *time.Location) *MemoryRepository {
	if loc == nil {
		loc = time.UTC
	}
	return &MemoryRepository{
		loc:      loc,
		sessions: make(map[string]*models.Session),
		daily:    make(map[string]string),
		stats:    make(map[string]models.DailyStats),
		reports:  make(map[string]models.Report),
	}
}

func dailyKey(customerID, day string) string {
	return customerID + "|" + day
}

func (r *MemoryRepository) GetOrCreateSession(ctx context.Context, customerID string, now time.Time) (*models.Session, error) {
	day := models.DayKey(now, r.loc)

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, s := range r.sessions {
		if s.CustomerID == customerID && s.IsOpen() && s.Day < day {
			end := now
			s.EndTime = &end
			s.Outcome = models.OutcomeExpired
		}
	}

	if id, ok := r.daily[dailyKey(customerID, day)]; ok {
		s := r.sessions[id]
		if !s.IsOpen() {
			s.EndTime = nil
			s.Outcome = ""
		}
		return copySession(s), nil
	}

	s := NewSession(uuid.New().String(), customerID, day, now)
	r.sessions[s.ID] = s
	r.daily[dailyKey(customerID, day)] = s.ID
	return copySession(s), nil
}

func (r *MemoryRepository) GetSession(ctx context.Context, sessionID string) (*models.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("get session %s: %w", sessionID, ErrSessionNotFound)
	}
	return copySession(s), nil
}

func (r *MemoryRepository) AppendMessage(ctx context.Context, sessionID string, msg models.MessageRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[sessionID]
	if !ok {
		return fmt.Errorf("append message to %s: %w", sessionID, ErrSessionNotFound)
	}
	s.Messages = append(s.Messages, msg)
	s.MessageCount++
	return nil
}

func (r *MemoryRepository) PatchContext(ctx context.Context, sessionID string, patch models.ContextPatch) (models.Context, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[sessionID]
	if !ok {
		return models.Context{}, fmt.Errorf("patch context of %s: %w", sessionID, ErrSessionNotFound)
	}
	s.Context = patch.Apply(s.Context)
	return copyContext(s.Context), nil
}

func (r *MemoryRepository) CloseSession(ctx context.Context, sessionID, outcome string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[sessionID]
	if !ok {
		return fmt.Errorf("close session %s: %w", sessionID, ErrSessionNotFound)
	}
	if !s.IsOpen() {
		return nil
	}
	s.EndTime = &at
	s.Outcome = outcome
	return nil
}

func (r *MemoryRepository) RecordAnalytics(ctx context.Context, event models.AnalyticsEvent) error {
	day := models.DayKey(event.At, r.loc)

	r.mu.Lock()
	defer r.mu.Unlock()

	stats, ok := r.stats[day]
	if !ok {
		stats = EmptyStats(day)
	}
	stats.Events[event.Event]++
	if event.Intent != "" {
		stats.Intents[event.Intent]++
	}
	if event.Flow != models.FlowNone {
		stats.Flows[string(event.Flow)]++
	}
	r.stats[day] = stats
	return nil
}

func (r *MemoryRepository) DailyStats(ctx context.Context, day string) (models.DailyStats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := EmptyStats(day)
	if stats, ok := r.stats[day]; ok {
		for k, v := range stats.Events {
			out.Events[k] = v
		}
		for k, v := range stats.Intents {
			out.Intents[k] = v
		}
		for k, v := range stats.Flows {
			out.Flows[k] = v
		}
	}
	return out, nil
}

func (r *MemoryRepository) SaveReport(ctx context.Context, report models.Report) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reports[report.Day] = report
	return nil
}

// Report returns the stored report for day
func (r *MemoryRepository) Report(day string) (models.Report, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	report, ok := r.reports[day]
	return report, ok
}

func (r *MemoryRepository) Ping(ctx context.Context) error {
	return nil
}

func (r *MemoryRepository) Close(ctx context.Context) error {
	return nil
}

func copySession(s *models.Session) *models.Session {
	out := *s
	out.Messages = append([]models.MessageRecord(nil), s.Messages...)
	out.Context = copyContext(s.Context)
	if s.EndTime != nil {
		end := *s.EndTime
		out.EndTime = &end
	}
	return &out
}

func copyContext(c models.Context) models.Context {
	c.MenuOptions = append([]string(nil), c.MenuOptions...)
	return c
}
