package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/ReaganKibet/chatbot-trial/pkg/metrics"
	"github.com/ReaganKibet/chatbot-trial/pkg/models"
)

const DefaultTwilioBaseURL = "https://api.twilio.com"

type TwilioConfig struct {
	BaseURL    string
	AccountSID string
	AuthToken  string
	From       string // the business WhatsApp number
	Timeout    time.Duration
	RatePerSec float64
}

// TwilioSender posts replies to the Twilio Messages API. Calls are paced by a
// token bucket shared by all workers of the process.
type TwilioSender struct {
	cfg     TwilioConfig
	client  *http.Client
	limiter *rate.Limiter
	logger  *logrus.Logger
	metrics *metrics.Metrics
}

func NewTwilioSender(cfg TwilioConfig, httpClient *http.Client, logger *logrus.Logger, metrics *metrics.Metrics) (*TwilioSender, error) {
	if cfg.AccountSID == "" || cfg.AuthToken == "" {
		return nil, errors.New("twilio account sid and auth token are required")
	}
	if cfg.From == "" {
		return nil, errors.New("twilio sender number is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultTwilioBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if httpClient == nil {
		httpClient = &http.Client{}
	}

	limit := rate.Inf
	burst := 1
	if cfg.RatePerSec > 0 {
		limit = rate.Limit(cfg.RatePerSec)
		if b := int(cfg.RatePerSec); b > 1 {
			burst = b
		}
	}

	return &TwilioSender{
		cfg:     cfg,
		client:  httpClient,
		limiter: rate.NewLimiter(limit, burst),
		logger:  logger,
		metrics: metrics,
	}, nil
}

type messageResponse struct {
	SID    string `json:"sid"`
	Status string `json:"status"`
}

func (s *TwilioSender) Send(ctx context.Context, recipient string, resp models.ResponseDescriptor) (string, error) {
	start := time.Now()

	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	if err := s.limiter.Wait(ctx); err != nil {
		s.observe("rate_limited", start)
		return "", fmt.Errorf("waiting for delivery slot: %w", err)
	}

	body, mediaURL := Render(resp)
	form := url.Values{}
	form.Set("From", Address(s.cfg.From))
	form.Set("To", Address(recipient))
	form.Set("Body", body)
	if mediaURL != "" {
		form.Set("MediaUrl", mediaURL)
	}

	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Messages.json", strings.TrimRight(s.cfg.BaseURL, "/"), s.cfg.AccountSID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("build delivery request: %w", err)
	}
	req.SetBasicAuth(s.cfg.AccountSID, s.cfg.AuthToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	res, err := s.client.Do(req)
	if err != nil {
		s.observe("error", start)
		return "", fmt.Errorf("deliver to %s: %w", recipient, err)
	}
	defer res.Body.Close()

	data, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		s.observe("error", start)
		return "", fmt.Errorf("read delivery response: %w", err)
	}

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		s.observe("error", start)
		apiErr := &APIError{Status: res.StatusCode}
		if jsonErr := json.Unmarshal(data, apiErr); jsonErr != nil || apiErr.Message == "" {
			apiErr.Message = http.StatusText(res.StatusCode)
		}
		apiErr.Status = res.StatusCode
		return "", fmt.Errorf("deliver to %s: %w", recipient, apiErr)
	}

	var msg messageResponse
	if err := json.Unmarshal(data, &msg); err != nil {
		s.observe("error", start)
		return "", fmt.Errorf("decode delivery response: %w", err)
	}

	s.observe("sent", start)
	s.logger.WithFields(logrus.Fields{
		"recipient":  recipient,
		"message_id": msg.SID,
		"status":     msg.Status,
		"flow":       resp.Flow,
	}).Debug("Reply delivered")
	return msg.SID, nil
}

func (s *TwilioSender) observe(status string, start time.Time) {
	s.metrics.DeliveryDuration.WithLabelValues(status).Observe(time.Since(start).Seconds())
}
