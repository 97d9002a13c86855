package models

import (
	"encoding/json"
	"time"
)

// JobKind tags the work a job carries
type JobKind string

const (
	JobProcessMessage  JobKind = "process_message"
	JobUpdateAnalytics JobKind = "update_analytics"
	JobGenerateReport  JobKind = "generate_report"
)

// JobKinds lists every queue kind
var JobKinds = []JobKind{JobProcessMessage, JobUpdateAnalytics, JobGenerateReport}

// JobState is the lifecycle position of a job
type JobState string

const (
	JobWaiting   JobState = "waiting"
	JobActive    JobState = "active"
	JobCompleted JobState = "completed"
	JobFailed    JobState = "failed"
)

// JobStates lists every job state
var JobStates = []JobState{JobWaiting, JobActive, JobCompleted, JobFailed}

// Job is one unit of queued, retryable work.
// Payload, Kind, MaxAttempts and Backoff never change after enqueue.
type Job struct {
	ID          string          `json:"id"`
	Kind        JobKind         `json:"kind"`
	Payload     json.RawMessage `json:"payload"`
	MaxAttempts int             `json:"max_attempts"`
	Backoff     time.Duration   `json:"backoff"`
	CreatedAt   time.Time       `json:"created_at"`

	Attempt    int        `json:"attempt"`
	State      JobState   `json:"state"`
	Stalls     int        `json:"stalls"`
	Error      string     `json:"error,omitempty"`
	UpdatedAt  time.Time  `json:"updated_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// Decode unmarshals the job payload into v
func (j *Job) Decode(v interface{}) error {
	return json.Unmarshal(j.Payload, v)
}

// InboundMessage is the payload of a process_message job
type InboundMessage struct {
	CustomerID        string      `json:"customer_id"`
	To                string      `json:"to"`
	Body              string      `json:"body"`
	Type              MessageType `json:"type"`
	MediaURL          string      `json:"media_url,omitempty"`
	MediaType         string      `json:"media_type,omitempty"`
	SelectionID       string      `json:"selection_id,omitempty"`
	ProviderMessageID string      `json:"provider_message_id"`
	ReceivedAt        time.Time   `json:"received_at"`
}

// Text is what the classifier and state machine see for this message
func (m InboundMessage) Text() string {
	if m.SelectionID != "" {
		return m.SelectionID
	}
	return m.Body
}

// Analytics event names
const (
	EventMessageReceived = "message_received"
	EventMessageSent     = "message_sent"
	EventMessageError    = "message_error"
)

// AnalyticsEvent is the payload of an update_analytics job
type AnalyticsEvent struct {
	Event      string    `json:"event" bson:"event"`
	CustomerID string    `json:"customer_id" bson:"customer_id"`
	SessionID  string    `json:"session_id,omitempty" bson:"session_id,omitempty"`
	Intent     string    `json:"intent,omitempty" bson:"intent,omitempty"`
	Flow       Flow      `json:"flow,omitempty" bson:"flow,omitempty"`
	Error      string    `json:"error,omitempty" bson:"error,omitempty"`
	At         time.Time `json:"at" bson:"at"`
}

// ReportRequest is the payload of a generate_report job. An empty Day means yesterday.
type ReportRequest struct {
	Day string `json:"day,omitempty"`
}

// DailyStats aggregates analytics counters for one day
type DailyStats struct {
	Day     string           `json:"day" bson:"day"`
	Events  map[string]int64 `json:"events" bson:"events"`
	Intents map[string]int64 `json:"intents" bson:"intents"`
	Flows   map[string]int64 `json:"flows" bson:"flows"`
}

// Report is the stored output of a generate_report job
type Report struct {
	Day         string                         `json:"day" bson:"day"`
	Stats       DailyStats                     `json:"stats" bson:"stats"`
	Queue       map[JobKind]map[JobState]int64 `json:"queue" bson:"queue"`
	GeneratedAt time.Time                      `json:"generated_at" bson:"generated_at"`
}
