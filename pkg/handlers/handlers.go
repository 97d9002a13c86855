package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ReaganKibet/chatbot-trial/pkg/metrics"
	"github.com/ReaganKibet/chatbot-trial/pkg/models"
	"github.com/ReaganKibet/chatbot-trial/pkg/queue"
)

// JobQueue is the part of the work queue the HTTP surface needs
type JobQueue interface {
	Enqueue(ctx context.Context, kind models.JobKind, payload interface{}, opts ...queue.EnqueueOption) (*models.Job, error)
	Counts(ctx context.Context) (map[models.JobKind]map[models.JobState]int64, error)
	IsLeader() bool
}

// Pinger reports whether a backing store is reachable
type Pinger interface {
	Ping(ctx context.Context) error
}

type Handler struct {
	queue     JobQueue
	store     Pinger
	validator *SignatureValidator
	logger    *logrus.Logger
	metrics   *metrics.Metrics
	now       func() time.Time

	sessions   SessionCloser
	adminToken string
}

// NewHandler wires the HTTP handlers. A nil validator accepts unsigned webhooks.
func NewHandler(q JobQueue, store Pinger, validator *SignatureValidator, logger *logrus.Logger, metrics *metrics.Metrics) *Handler {
	return &Handler{
		queue:     q,
		store:     store,
		validator: validator,
		logger:    logger,
		metrics:   metrics,
		now:       time.Now,
	}
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	checks := map[string]string{"store": "ok", "queue": "ok"}
	healthy := true
	if err := h.store.Ping(ctx); err != nil {
		h.logger.WithError(err).Warn("Store health check failed")
		checks["store"] = err.Error()
		healthy = false
	}
	if _, err := h.queue.Counts(ctx); err != nil {
		h.logger.WithError(err).Warn("Queue health check failed")
		checks["queue"] = err.Error()
		healthy = false
	}

	status := "healthy"
	code := http.StatusOK
	if !healthy {
		status = "unhealthy"
		code = http.StatusServiceUnavailable
	}

	writeJSON(w, code, map[string]interface{}{
		"status":    status,
		"checks":    checks,
		"is_leader": h.queue.IsLeader(),
		"timestamp": h.now(),
	})
}

func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	counts, err := h.queue.Counts(r.Context())
	if err != nil {
		h.logger.WithError(err).Error("Failed to read queue counts")
		http.Error(w, "Failed to get status", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"is_leader": h.queue.IsLeader(),
		"queue":     counts,
		"timestamp": h.now(),
	})
}

func writeJSON(w http.ResponseWriter, code int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}
