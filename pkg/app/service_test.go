package app

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ReaganKibet/chatbot-trial/pkg/config"
)

func memoryConfig() *config.Config {
	return &config.Config{
		Environment:             config.EnvDevelopment,
		Port:                    "0",
		LogLevel:                "info",
		PodID:                   "test-pod",
		Timezone:                "UTC",
		QueueBackend:            config.BackendMemory,
		StoreBackend:            config.BackendMemory,
		SkipSignatureValidation: true,
		NLPTimeoutMS:            1000,
		DeliveryTimeoutMS:       1000,
		StoreTimeoutMS:          1000,
		JobMaxAttempts:          3,
		JobBackoffMS:            10,
		JobLeaseMS:              30000,
		JobMaxStalls:            1,
		PollIntervalMS:          5,
		MessageConcurrency:      2,
		AnalyticsConcurrency:    1,
		ReportConcurrency:       1,
		RetainCompleted:         100,
		RetainFailed:            100,
		RetainAgeHours:          24,
		CleanupIntervalMS:       60000,
		ReportCron:              "0 1 * * *",
		LeaderElectionTTL:       10,
	}
}

func newTestLogger() (*logrus.Logger, *logtest.Hook) {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger, logtest.NewLocal(logger)
}

func logged(hook *logtest.Hook, message string) bool {
	for _, e := range hook.AllEntries() {
		if e.Message == message {
			return true
		}
	}
	return false
}

func TestService_MemoryBackends(t *testing.T) {
	logger, hook := newTestLogger()
	ctx := context.Background()

	svc, err := NewService(ctx, memoryConfig(), prometheus.NewRegistry(), logger)
	require.NoError(t, err)
	require.NoError(t, svc.Start(ctx))
	assert.True(t, svc.IsLeader())

	srv := httptest.NewServer(svc.Router())
	defer srv.Close()

	form := url.Values{"From": {"whatsapp:+15551234567"}, "Body": {"hello"}, "MessageSid": {"SM1"}}
	res, err := http.Post(srv.URL+"/webhook", "application/x-www-form-urlencoded", strings.NewReader(form.Encode()))
	require.NoError(t, err)
	res.Body.Close()
	assert.Equal(t, http.StatusOK, res.StatusCode)

	require.Eventually(t, func() bool {
		return logged(hook, "Message processed")
	}, 2*time.Second, 10*time.Millisecond)

	res, err = http.Get(srv.URL + "/status")
	require.NoError(t, err)
	defer res.Body.Close()
	var status struct {
		IsLeader bool                        `json:"is_leader"`
		Queue    map[string]map[string]int64 `json:"queue"`
	}
	require.NoError(t, json.NewDecoder(res.Body).Decode(&status))
	assert.True(t, status.IsLeader)
	assert.Contains(t, status.Queue, "process_message")

	stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	assert.NoError(t, svc.Stop(stopCtx))
	assert.True(t, logged(hook, "Chatbot service stopped"))
}

func TestNewService_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"missing catalog", func(c *config.Config) { c.CatalogPath = "/does/not/exist.yaml" }},
		{"bad report cron", func(c *config.Config) { c.ReportCron = "every day" }},
		{"production without twilio", func(c *config.Config) {
			c.Environment = config.EnvProduction
			c.SkipSignatureValidation = false
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, _ := newTestLogger()
			cfg := memoryConfig()
			tt.mutate(cfg)

			_, err := NewService(context.Background(), cfg, prometheus.NewRegistry(), logger)
			assert.Error(t, err)
		})
	}
}

func TestService_DevelopmentDefaults(t *testing.T) {
	logger, hook := newTestLogger()
	cfg := memoryConfig()
	cfg.SkipSignatureValidation = false

	svc, err := NewService(context.Background(), cfg, prometheus.NewRegistry(), logger)
	require.NoError(t, err)
	assert.NotNil(t, svc.handler)
	assert.True(t, logged(hook, "Twilio not configured; replies are only logged"))
	assert.True(t, logged(hook, "No Twilio auth token; webhook signatures are not checked"))
	assert.True(t, logged(hook, "No OpenAI key configured; classifying offline only"))
}
