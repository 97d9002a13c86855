package server

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/ReaganKibet/chatbot-trial/pkg/config"
	"github.com/ReaganKibet/chatbot-trial/pkg/handlers"
)

// NewRouter registers the public routes. gatherer serves /metrics.
func NewRouter(handler *handlers.Handler, gatherer prometheus.Gatherer, logger *logrus.Logger) *mux.Router {
	router := mux.NewRouter()

	// Provider callbacks
	router.HandleFunc("/webhook", handler.Webhook).Methods("POST")

	router.HandleFunc("/health", handler.Health).Methods("GET")
	router.HandleFunc("/status", handler.Status).Methods("GET")

	if handler.SessionAdminEnabled() {
		router.HandleFunc("/sessions/{id}/close", handler.CloseSession).Methods("POST")
	}

	// Metrics endpoint
	router.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})).Methods("GET")

	// Add logging middleware
	router.Use(loggingMiddleware(logger))

	return router
}

func NewHTTPServer(config *config.Config, handler *handlers.Handler, gatherer prometheus.Gatherer, logger *logrus.Logger) *http.Server {
	return &http.Server{
		Addr:         ":" + config.Port,
		Handler:      NewRouter(handler, gatherer, logger),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func loggingMiddleware(logger *logrus.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

			next.ServeHTTP(rec, r)

			logger.WithFields(logrus.Fields{
				"method":   r.Method,
				"path":     r.URL.Path,
				"status":   rec.status,
				"duration": time.Since(start),
				"remote":   r.RemoteAddr,
			}).Debug("HTTP request processed")
		})
	}
}
