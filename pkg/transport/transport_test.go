package transport

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ReaganKibet/chatbot-trial/pkg/metrics"
	"github.com/ReaganKibet/chatbot-trial/pkg/models"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return logger
}

func newTestSender(t *testing.T, baseURL string, timeout time.Duration) *TwilioSender {
	t.Helper()
	s, err := NewTwilioSender(TwilioConfig{
		BaseURL:    baseURL,
		AccountSID: "AC123",
		AuthToken:  "secret",
		From:       "+14155238886",
		Timeout:    timeout,
	}, nil, testLogger(), metrics.NewMetrics(prometheus.NewRegistry()))
	require.NoError(t, err)
	return s
}

func TestRender(t *testing.T) {
	tests := []struct {
		name  string
		resp  models.ResponseDescriptor
		body  string
		media string
	}{
		{
			name: "text",
			resp: models.ResponseDescriptor{Kind: models.ResponseText, Body: "Hello"},
			body: "Hello",
		},
		{
			name: "buttons",
			resp: models.ResponseDescriptor{
				Kind:    models.ResponseButtons,
				Body:    "Pick one:",
				Buttons: []models.Button{{ID: "menu_faq", Label: "FAQs"}, {ID: "menu_support", Label: "Support"}},
			},
			body: "Pick one:\n\n1. FAQs\n2. Support\n\nReply with the number of your choice.",
		},
		{
			name: "list numbering runs across sections",
			resp: models.ResponseDescriptor{
				Kind: models.ResponseList,
				Body: "Results:",
				Sections: []models.ListSection{
					{Title: "Audio", Rows: []models.ListRow{{ID: "product_p-102", Title: "Headphones", Description: "USD 89.00"}}},
					{Title: "More", Rows: []models.ListRow{{ID: "menu_support", Title: "Support"}}},
				},
			},
			body: "Results:\n\n*Audio*\n1. Headphones - USD 89.00\n\n*More*\n2. Support\n\nReply with the number of your choice.",
		},
		{
			name: "media with caption",
			resp: models.ResponseDescriptor{
				Kind:     models.ResponseMediaText,
				Body:     "Phone",
				MediaURL: "https://cdn.example.com/p.jpg",
				Buttons:  []models.Button{{ID: "menu_support", Label: "Support"}},
			},
			body:  "Phone\n\n1. Support\n\nReply with the number of your choice.",
			media: "https://cdn.example.com/p.jpg",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body, media := Render(tt.resp)
			assert.Equal(t, tt.body, body)
			assert.Equal(t, tt.media, media)
		})
	}
}

func TestRender_Truncates(t *testing.T) {
	body, _ := Render(models.ResponseDescriptor{Kind: models.ResponseText, Body: strings.Repeat("a", 2000)})
	assert.Equal(t, maxBodyRunes, len([]rune(body)))
	assert.True(t, strings.HasSuffix(body, "…"))
}

func TestAddress(t *testing.T) {
	assert.Equal(t, "whatsapp:+15551234567", Address("+15551234567"))
	assert.Equal(t, "whatsapp:+15551234567", Address("15551234567"))
	assert.Equal(t, "whatsapp:+15551234567", Address("whatsapp:+15551234567"))
}

func TestTwilioSender_Send(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/2010-04-01/Accounts/AC123/Messages.json", r.URL.Path)
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "AC123", user)
		assert.Equal(t, "secret", pass)

		require.NoError(t, r.ParseForm())
		assert.Equal(t, "whatsapp:+14155238886", r.PostForm.Get("From"))
		assert.Equal(t, "whatsapp:+15551234567", r.PostForm.Get("To"))
		assert.Equal(t, "Hello", r.PostForm.Get("Body"))
		assert.Equal(t, "https://cdn.example.com/p.jpg", r.PostForm.Get("MediaUrl"))

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"sid":"SM123","status":"queued"}`))
	}))
	defer server.Close()

	s := newTestSender(t, server.URL, time.Second)
	id, err := s.Send(context.Background(), "+15551234567", models.ResponseDescriptor{
		Kind:     models.ResponseMediaText,
		Body:     "Hello",
		MediaURL: "https://cdn.example.com/p.jpg",
	})
	require.NoError(t, err)
	assert.Equal(t, "SM123", id)
}

func TestTwilioSender_APIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"code":20503,"message":"Service unavailable","status":503}`))
	}))
	defer server.Close()

	s := newTestSender(t, server.URL, time.Second)
	_, err := s.Send(context.Background(), "+15551234567", models.ResponseDescriptor{Kind: models.ResponseText, Body: "hi"})
	require.Error(t, err)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, 503, apiErr.Status)
	assert.Equal(t, 20503, apiErr.Code)
	assert.True(t, apiErr.Temporary())
}

func TestTwilioSender_Timeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	s := newTestSender(t, server.URL, 50*time.Millisecond)
	start := time.Now()
	_, err := s.Send(context.Background(), "+15551234567", models.ResponseDescriptor{Kind: models.ResponseText, Body: "hi"})
	require.Error(t, err)
	assert.Less(t, time.Since(start), time.Second)
}

func TestTwilioSender_RateLimited(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte(`{"sid":"SM1"}`))
	}))
	defer server.Close()

	s, err := NewTwilioSender(TwilioConfig{
		BaseURL: server.URL, AccountSID: "AC1", AuthToken: "t", From: "+1", Timeout: 100 * time.Millisecond, RatePerSec: 1,
	}, nil, testLogger(), metrics.NewMetrics(prometheus.NewRegistry()))
	require.NoError(t, err)

	resp := models.ResponseDescriptor{Kind: models.ResponseText, Body: "hi"}
	_, err = s.Send(context.Background(), "+2", resp)
	require.NoError(t, err)

	// the bucket holds one token per second, so the next call cannot fit in its timeout
	_, err = s.Send(context.Background(), "+2", resp)
	assert.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestNewTwilioSender_RequiresCredentials(t *testing.T) {
	_, err := NewTwilioSender(TwilioConfig{From: "+1"}, nil, testLogger(), metrics.NewMetrics(prometheus.NewRegistry()))
	assert.Error(t, err)
}

func TestLogSender(t *testing.T) {
	id, err := NewLogSender(testLogger()).Send(context.Background(), "+1", models.ResponseDescriptor{Kind: models.ResponseText, Body: "hi"})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(id, "log-"))
}

func TestAPIError_Temporary(t *testing.T) {
	for status, temporary := range map[int]bool{400: false, 401: false, 404: false, 429: true, 500: true, 503: true} {
		assert.Equal(t, temporary, (&APIError{Status: status}).Temporary(), "status %d", status)
	}
}
