package classifier

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ReaganKibet/chatbot-trial/pkg/metrics"
	"github.com/ReaganKibet/chatbot-trial/pkg/models"
)

// selectionConfidence sits in the continuation band so a menu reply keeps the current flow
const selectionConfidence = 0.6

var selectionRe = regexp.MustCompile(`^(?:\d{1,2}|(?:category|product|menu)_[A-Za-z0-9_-]+)$`)

// Provider is a remote NLP capability. It may fail or time out.
type Provider interface {
	Classify(ctx context.Context, text string) (models.Classification, error)
}

// Classifier tries the primary provider within a hard timeout and falls back
// to the offline model on any error. It never fails.
type Classifier struct {
	primary Provider
	offline *Offline
	timeout time.Duration
	logger  *logrus.Logger
	metrics *metrics.Metrics
}

// New builds a classifier. primary may be nil to run offline only.
func New(primary Provider, timeout time.Duration, logger *logrus.Logger, metrics *metrics.Metrics) *Classifier {
	return &Classifier{
		primary: primary,
		offline: NewOffline(),
		timeout: timeout,
		logger:  logger,
		metrics: metrics,
	}
}

func (c *Classifier) Classify(ctx context.Context, text string) models.Classification {
	start := time.Now()
	result := c.classify(ctx, strings.TrimSpace(text))

	c.metrics.ClassifierDuration.Observe(time.Since(start).Seconds())
	c.metrics.ClassifierResults.WithLabelValues(result.Source, result.Intent).Inc()
	return result
}

func (c *Classifier) classify(ctx context.Context, text string) models.Classification {
	if IsSelection(text) {
		return models.Classification{
			Intent:     models.IntentMenuSelection,
			Confidence: selectionConfidence,
			Scored:     true,
			Source:     models.SourceSelection,
			Sentiment:  models.Sentiment{Label: models.SentimentNeutral},
		}
	}

	if c.primary != nil && text != "" {
		result, err := c.callPrimary(ctx, text)
		if err == nil {
			return result
		}
		c.logger.WithError(err).Warn("Primary classifier unavailable, using offline model")
	}

	return c.offline.Classify(text)
}

type primaryOutcome struct {
	result models.Classification
	err    error
}

// callPrimary returns by the deadline even if the provider ignores its context
func (c *Classifier) callPrimary(ctx context.Context, text string) (models.Classification, error) {
	pctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	done := make(chan primaryOutcome, 1)
	go func() {
		result, err := c.primary.Classify(pctx, text)
		done <- primaryOutcome{result: result, err: err}
	}()

	select {
	case out := <-done:
		return out.result, out.err
	case <-pctx.Done():
		return models.Classification{}, pctx.Err()
	}
}

// IsSelection reports whether text is a menu reply: a bare number or an option id
func IsSelection(text string) bool {
	return selectionRe.MatchString(strings.TrimSpace(text))
}
