package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/adhocore/gronx"
	"github.com/google/uuid"

	"github.com/ReaganKibet/chatbot-trial/pkg/constants"
)

const (
	EnvProduction  = "production"
	EnvDevelopment = "development"

	BackendRedis  = "redis"
	BackendMongo  = "mongo"
	BackendMemory = "memory"
)

type Config struct {
	Environment string
	Port        string
	LogLevel    string
	PodID       string
	Timezone    string

	QueueBackend string
	RedisURL     string
	StoreBackend string
	MongoURI     string
	MongoDB      string
	CatalogPath  string

	WebhookPublicURL        string
	TwilioAccountSID        string
	TwilioAuthToken         string
	TwilioWhatsAppNumber    string
	SkipSignatureValidation bool
	AdminToken              string

	OpenAIAPIKey  string
	OpenAIBaseURL string
	OpenAIModel   string

	NLPTimeoutMS       int64
	DeliveryTimeoutMS  int64
	DeliveryRatePerSec float64
	StoreTimeoutMS     int64

	JobMaxAttempts       int
	JobBackoffMS         int64
	JobLeaseMS           int64
	JobMaxStalls         int
	PollIntervalMS       int64
	MessageConcurrency   int
	AnalyticsConcurrency int
	ReportConcurrency    int
	RetainCompleted      int
	RetainFailed         int
	RetainAgeHours       int
	CleanupIntervalMS    int64
	ReportCron           string
	LeaderElectionTTL    int
}

func Load() (*Config, error) {
	config := &Config{
		Environment: getEnv("APP_ENV", EnvDevelopment),
		Port:        getEnv("PORT", "8080"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		PodID:       getEnv("POD_ID", generatePodID()),
		Timezone:    getEnv("TIMEZONE", "UTC"),

		QueueBackend: getEnv("QUEUE_BACKEND", BackendRedis),
		RedisURL:     getEnv("REDIS_URL", "redis://localhost:6379"),
		StoreBackend: getEnv("STORE_BACKEND", BackendMongo),
		MongoURI:     getEnv("MONGO_URI", "mongodb://localhost:27017"),
		MongoDB:      getEnv("MONGO_DATABASE", "chatbot"),
		CatalogPath:  getEnv("CATALOG_PATH", ""),

		WebhookPublicURL:        getEnv("WEBHOOK_PUBLIC_URL", ""),
		TwilioAccountSID:        getEnv("TWILIO_ACCOUNT_SID", ""),
		TwilioAuthToken:         getEnv("TWILIO_AUTH_TOKEN", ""),
		TwilioWhatsAppNumber:    getEnv("TWILIO_WHATSAPP_NUMBER", ""),
		SkipSignatureValidation: getEnvBool("SKIP_SIGNATURE_VALIDATION", false),
		AdminToken:              getEnv("ADMIN_TOKEN", ""),

		OpenAIAPIKey:  getEnv("OPENAI_API_KEY", ""),
		OpenAIBaseURL: getEnv("OPENAI_BASE_URL", "https://api.openai.com/v1"),
		OpenAIModel:   getEnv("OPENAI_MODEL", "gpt-4o-mini"),

		NLPTimeoutMS:       getEnvInt64("NLP_TIMEOUT_MS", constants.DefaultNLPTimeoutMS),
		DeliveryTimeoutMS:  getEnvInt64("DELIVERY_TIMEOUT_MS", constants.DefaultDeliveryTimeoutMS),
		DeliveryRatePerSec: getEnvFloat("DELIVERY_RATE_PER_SEC", 10),
		StoreTimeoutMS:     getEnvInt64("STORE_TIMEOUT_MS", constants.DefaultStoreTimeoutMS),

		JobMaxAttempts:       getEnvInt("JOB_MAX_ATTEMPTS", constants.DefaultMaxAttempts),
		JobBackoffMS:         getEnvInt64("JOB_BACKOFF_MS", constants.DefaultBackoffMS),
		JobLeaseMS:           getEnvInt64("JOB_LEASE_MS", constants.DefaultLeaseMS),
		JobMaxStalls:         getEnvInt("JOB_MAX_STALLS", constants.DefaultMaxStalls),
		PollIntervalMS:       getEnvInt64("POLL_INTERVAL_MS", constants.DefaultPollIntervalMS),
		MessageConcurrency:   getEnvInt("MESSAGE_CONCURRENCY", constants.DefaultMessageConcurrency),
		AnalyticsConcurrency: getEnvInt("ANALYTICS_CONCURRENCY", constants.DefaultAnalyticsConcurrency),
		ReportConcurrency:    getEnvInt("REPORT_CONCURRENCY", constants.DefaultReportConcurrency),
		RetainCompleted:      getEnvInt("RETAIN_COMPLETED", constants.DefaultRetainCompleted),
		RetainFailed:         getEnvInt("RETAIN_FAILED", constants.DefaultRetainFailed),
		RetainAgeHours:       getEnvInt("RETAIN_AGE_HOURS", constants.DefaultRetainAgeHours),
		CleanupIntervalMS:    getEnvInt64("CLEANUP_INTERVAL_MS", constants.DefaultCleanupIntervalMS),
		ReportCron:           getEnv("REPORT_CRON", constants.DefaultReportCron),
		LeaderElectionTTL:    getEnvInt("LEADER_ELECTION_TTL", constants.DefaultLeaderElectionTTLSeconds),
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// Validate checks the configuration. Signature bypass is never allowed in production.
func (c *Config) Validate() error {
	if c.IsProduction() && c.SkipSignatureValidation {
		return errors.New("SKIP_SIGNATURE_VALIDATION cannot be enabled in production")
	}
	if c.IsProduction() && c.TwilioAuthToken == "" {
		return errors.New("TWILIO_AUTH_TOKEN is required in production")
	}
	if c.Port == "" {
		return errors.New("PORT cannot be empty")
	}
	switch c.QueueBackend {
	case BackendRedis, BackendMemory:
	default:
		return fmt.Errorf("unknown QUEUE_BACKEND %q", c.QueueBackend)
	}
	switch c.StoreBackend {
	case BackendMongo, BackendMemory:
	default:
		return fmt.Errorf("unknown STORE_BACKEND %q", c.StoreBackend)
	}
	if c.JobMaxAttempts <= 0 {
		return errors.New("JOB_MAX_ATTEMPTS must be > 0")
	}
	if c.JobBackoffMS <= 0 || c.JobLeaseMS <= 0 || c.PollIntervalMS <= 0 {
		return errors.New("JOB_BACKOFF_MS, JOB_LEASE_MS and POLL_INTERVAL_MS must be > 0")
	}
	if c.MessageConcurrency <= 0 || c.AnalyticsConcurrency <= 0 || c.ReportConcurrency <= 0 {
		return errors.New("worker concurrency must be > 0")
	}
	if c.ReportCron != "" && !gronx.New().IsValid(c.ReportCron) {
		return fmt.Errorf("invalid REPORT_CRON %q", c.ReportCron)
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("invalid TIMEZONE %q: %w", c.Timezone, err)
	}
	return nil
}

func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Environment, EnvProduction)
}

// SignatureBypass reports whether webhook signatures are skipped.
// Always false in production regardless of the flag.
func (c *Config) SignatureBypass() bool {
	return c.SkipSignatureValidation && !c.IsProduction()
}

func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func (c *Config) NLPTimeout() time.Duration {
	return constants.MillisecondsToDuration(c.NLPTimeoutMS)
}

func (c *Config) DeliveryTimeout() time.Duration {
	return constants.MillisecondsToDuration(c.DeliveryTimeoutMS)
}

func (c *Config) StoreTimeout() time.Duration {
	return constants.MillisecondsToDuration(c.StoreTimeoutMS)
}

func (c *Config) JobBackoff() time.Duration {
	return constants.MillisecondsToDuration(c.JobBackoffMS)
}

func (c *Config) JobLease() time.Duration {
	return constants.MillisecondsToDuration(c.JobLeaseMS)
}

func (c *Config) PollInterval() time.Duration {
	return constants.MillisecondsToDuration(c.PollIntervalMS)
}

func (c *Config) CleanupInterval() time.Duration {
	return constants.MillisecondsToDuration(c.CleanupIntervalMS)
}

func (c *Config) RetainAge() time.Duration {
	return time.Duration(c.RetainAgeHours) * time.Hour
}

func (c *Config) LeaderElectionTTLDuration() time.Duration {
	return constants.SecondsToDuration(c.LeaderElectionTTL)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func generatePodID() string {
	hostname, err := os.Hostname()
	if err != nil {
		return uuid.New().String()
	}
	return hostname + "-" + uuid.New().String()[:8]
}
