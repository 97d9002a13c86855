package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("APP_ENV", "")
	t.Setenv("SKIP_SIGNATURE_VALIDATION", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, EnvDevelopment, cfg.Environment)
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, 3, cfg.JobMaxAttempts)
	assert.Equal(t, BackendRedis, cfg.QueueBackend)
	assert.NotEmpty(t, cfg.PodID)
	assert.False(t, cfg.SignatureBypass())
}

func TestLoad_OverridesFromEnv(t *testing.T) {
	t.Setenv("JOB_MAX_ATTEMPTS", "5")
	t.Setenv("JOB_BACKOFF_MS", "250")
	t.Setenv("QUEUE_BACKEND", "memory")
	t.Setenv("REPORT_CRON", "0 * * * *")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 5, cfg.JobMaxAttempts)
	assert.Equal(t, int64(250), cfg.JobBackoffMS)
	assert.Equal(t, BackendMemory, cfg.QueueBackend)
	assert.Equal(t, "0 * * * *", cfg.ReportCron)
}

func TestValidate_SignatureBypassRejectedInProduction(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	t.Setenv("TWILIO_AUTH_TOKEN", "secret")
	t.Setenv("SKIP_SIGNATURE_VALIDATION", "true")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SKIP_SIGNATURE_VALIDATION")
}

func TestSignatureBypass_NeverInProduction(t *testing.T) {
	cfg := &Config{Environment: EnvProduction, SkipSignatureValidation: true}
	assert.False(t, cfg.SignatureBypass())

	cfg.Environment = EnvDevelopment
	assert.True(t, cfg.SignatureBypass())
}

func TestValidate_RejectsBadValues(t *testing.T) {
	base := func() *Config {
		return &Config{
			Environment:          EnvDevelopment,
			Port:                 "8080",
			Timezone:             "UTC",
			QueueBackend:         BackendMemory,
			StoreBackend:         BackendMemory,
			JobMaxAttempts:       3,
			JobBackoffMS:         100,
			JobLeaseMS:           1000,
			PollIntervalMS:       10,
			MessageConcurrency:   1,
			AnalyticsConcurrency: 1,
			ReportConcurrency:    1,
		}
	}

	require.NoError(t, base().Validate())

	cfg := base()
	cfg.JobMaxAttempts = 0
	assert.Error(t, cfg.Validate())

	cfg = base()
	cfg.ReportCron = "not a cron"
	assert.Error(t, cfg.Validate())

	cfg = base()
	cfg.QueueBackend = "kafka"
	assert.Error(t, cfg.Validate())

	cfg = base()
	cfg.Timezone = "Mars/Olympus"
	assert.Error(t, cfg.Validate())
}
