package constants

import "time"

// Default retry policy
const (
	// DefaultMaxAttempts - Delivery attempts before a job is marked failed
	DefaultMaxAttempts = 3

	// DefaultBackoffMS - First retry delay; doubles on every further attempt
	DefaultBackoffMS = 1000

	// DefaultLeaseMS - How long a worker may hold a job active before it is considered stalled
	DefaultLeaseMS = 30000

	// DefaultMaxStalls - Stall re-deliveries allowed before a job is failed
	DefaultMaxStalls = 3

	// DefaultPollIntervalMS - Idle workers check for ready jobs this often
	DefaultPollIntervalMS = 200
)

// Default retention of finished jobs
const (
	DefaultRetainCompleted = 1000
	DefaultRetainFailed    = 5000
	DefaultRetainAgeHours  = 24 * 7

	// DefaultCleanupIntervalMS - Purge loop interval
	DefaultCleanupIntervalMS = 60 * 60 * 1000
)

// Default worker pool sizes per job kind
const (
	DefaultMessageConcurrency   = 5
	DefaultAnalyticsConcurrency = 2
	DefaultReportConcurrency    = 1
)

// Default timeouts on network suspension points
const (
	DefaultNLPTimeoutMS      = 3000
	DefaultDeliveryTimeoutMS = 10000
	DefaultStoreTimeoutMS    = 5000
)

// Leader election
const (
	DefaultLeaderElectionTTLSeconds      = 10
	DefaultLeaderElectionIntervalSeconds = 3
)

// DefaultReportCron generates the daily report shortly after midnight
const DefaultReportCron = "5 0 * * *"

// Redis key prefixes and names
const (
	QueueKeyPrefix    = "chatbot:queue"
	LeaderElectionKey = "chatbot:leader"
	QueueEventsStream = "chatbot:queue:events"
	QueueEventsMaxLen = 10000
	QueueEventsBuffer = 1024
)

// Helper functions for time conversions
func MillisecondsToDuration(ms int64) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

func SecondsToDuration(seconds int) time.Duration {
	return time.Duration(seconds) * time.Second
}

// BackoffDelay returns the wait before the retry that follows the given attempt (1-based).
// Attempt 1 waits base, attempt 2 waits 2*base, and so on.
func BackoffDelay(base time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 30 {
		attempt = 30
	}
	return base * time.Duration(1<<uint(attempt-1))
}
