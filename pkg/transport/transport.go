// Package transport delivers replies to customers.
package transport

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/ReaganKibet/chatbot-trial/pkg/models"
)

// Sender hands one reply to the messaging provider and returns the
// provider's message id.
type Sender interface {
	Send(ctx context.Context, recipient string, resp models.ResponseDescriptor) (string, error)
}

// APIError is a non-2xx answer from the provider
type APIError struct {
	Status  int    `json:"status"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("provider returned %d (code %d): %s", e.Status, e.Code, e.Message)
}

// Temporary reports whether a retry may succeed
func (e *APIError) Temporary() bool {
	return e.Status == 429 || e.Status >= 500
}

// LogSender writes replies to the log instead of delivering them.
// Used in development when no provider credentials are configured.
type LogSender struct {
	logger *logrus.Logger
}

func NewLogSender(logger *logrus.Logger) *LogSender {
	return &LogSender{logger: logger}
}

func (s *LogSender) Send(ctx context.Context, recipient string, resp models.ResponseDescriptor) (string, error) {
	body, media := Render(resp)
	id := "log-" + uuid.New().String()
	s.logger.WithFields(logrus.Fields{
		"recipient":  recipient,
		"message_id": id,
		"kind":       resp.Kind,
		"flow":       resp.Flow,
		"media_url":  media,
	}).Info(body)
	return id, nil
}

// Address formats a bare customer id as a WhatsApp address
func Address(id string) string {
	if strings.HasPrefix(id, "whatsapp:") {
		return id
	}
	if !strings.HasPrefix(id, "+") {
		id = "+" + id
	}
	return "whatsapp:" + id
}
