package models

import "time"

// Direction of a logged message relative to the bot
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// MessageType is the content type of a logged message
type MessageType string

const (
	MessageTypeText      MessageType = "text"
	MessageTypeMedia     MessageType = "media"
	MessageTypeButtons   MessageType = "buttons"
	MessageTypeList      MessageType = "list"
	MessageTypeMediaText MessageType = "media_text"
)

// Session outcomes written when a session is closed
const (
	OutcomeExpired = "expired" // passed its day boundary
	OutcomeClosed  = "closed"  // closed by an operator
)

// MessageRecord is one entry of a session's append-only message log
type MessageRecord struct {
	Direction      Direction       `json:"direction" bson:"direction"`
	Content        string          `json:"content" bson:"content"`
	Type           MessageType     `json:"type" bson:"type"`
	Classification *Classification `json:"classification,omitempty" bson:"classification,omitempty"`
	Flow           Flow            `json:"flow,omitempty" bson:"flow,omitempty"`
	Timestamp      time.Time       `json:"timestamp" bson:"timestamp"`
}

// Session is the daily conversation record for one customer
type Session struct {
	ID           string          `json:"session_id" bson:"session_id"`
	CustomerID   string          `json:"customer_id" bson:"customer_id"`
	Day          string          `json:"day" bson:"day"` // YYYY-MM-DD in the configured time zone
	Context      Context         `json:"context" bson:"context"`
	Messages     []MessageRecord `json:"messages" bson:"messages"`
	MessageCount int             `json:"message_count" bson:"message_count"`
	StartTime    time.Time       `json:"start_time" bson:"start_time"`
	EndTime      *time.Time      `json:"end_time,omitempty" bson:"end_time,omitempty"`
	Outcome      string          `json:"outcome,omitempty" bson:"outcome,omitempty"`
}

// IsOpen reports whether the session has not been closed yet
func (s *Session) IsOpen() bool {
	return s.EndTime == nil
}

// DayKey formats t as the calendar day used to key sessions
func DayKey(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc).Format("2006-01-02")
}
