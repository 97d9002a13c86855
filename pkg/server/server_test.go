package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ReaganKibet/chatbot-trial/pkg/handlers"
	"github.com/ReaganKibet/chatbot-trial/pkg/metrics"
	"github.com/ReaganKibet/chatbot-trial/pkg/queue"
	"github.com/ReaganKibet/chatbot-trial/pkg/store"
)

func TestRouter(t *testing.T) {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	reg := prometheus.NewRegistry()
	m := metrics.NewMetrics(reg)

	q := queue.New(queue.NewMemoryStore(), queue.DefaultOptions(), nil, logger, m)
	h := handlers.NewHandler(q, store.NewMemoryRepository(nil), nil, logger, m)
	srv := httptest.NewServer(NewRouter(h, reg, logger))
	defer srv.Close()

	res, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	res.Body.Close()
	assert.Equal(t, http.StatusOK, res.StatusCode)

	form := url.Values{"From": {"whatsapp:+15551234567"}, "Body": {"hi"}, "MessageSid": {"SM1"}}
	res, err = http.Post(srv.URL+"/webhook", "application/x-www-form-urlencoded", strings.NewReader(form.Encode()))
	require.NoError(t, err)
	res.Body.Close()
	assert.Equal(t, http.StatusOK, res.StatusCode)

	res, err = http.Get(srv.URL + "/webhook")
	require.NoError(t, err)
	res.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, res.StatusCode)

	res, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer res.Body.Close()
	assert.Equal(t, http.StatusOK, res.StatusCode)

	counts, err := q.Counts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts["process_message"]["waiting"])
}

func TestRouter_SessionClose(t *testing.T) {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	reg := prometheus.NewRegistry()
	m := metrics.NewMetrics(reg)

	q := queue.New(queue.NewMemoryStore(), queue.DefaultOptions(), nil, logger, m)
	repo := store.NewMemoryRepository(nil)

	// not routed unless a token is configured
	h := handlers.NewHandler(q, repo, nil, logger, m)
	srv := httptest.NewServer(NewRouter(h, reg, logger))
	res, err := http.Post(srv.URL+"/sessions/abc/close", "application/json", nil)
	require.NoError(t, err)
	res.Body.Close()
	srv.Close()
	assert.Equal(t, http.StatusNotFound, res.StatusCode)

	h.EnableSessionAdmin(repo, "s3cret")
	srv = httptest.NewServer(NewRouter(h, prometheus.NewRegistry(), logger))
	defer srv.Close()

	s, err := repo.GetOrCreateSession(context.Background(), "+15551234567", time.Now())
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodPost, srv.URL+"/sessions/"+s.ID+"/close", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer s3cret")
	res, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	res.Body.Close()
	assert.Equal(t, http.StatusOK, res.StatusCode)

	closed, err := repo.GetSession(context.Background(), s.ID)
	require.NoError(t, err)
	assert.False(t, closed.IsOpen())
}
