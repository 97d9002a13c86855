package handlers

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/ReaganKibet/chatbot-trial/pkg/models"
	"github.com/ReaganKibet/chatbot-trial/pkg/store"
)

// SessionCloser ends a session before its day boundary
type SessionCloser interface {
	CloseSession(ctx context.Context, sessionID, outcome string, at time.Time) error
}

// EnableSessionAdmin turns on the session close endpoint. Requests must send
// the token as a bearer credential.
func (h *Handler) EnableSessionAdmin(sessions SessionCloser, token string) {
	if sessions == nil || token == "" {
		return
	}
	h.sessions = sessions
	h.adminToken = token
}

func (h *Handler) SessionAdminEnabled() bool {
	return h.sessions != nil
}

// CloseSession closes one session with outcome "closed". The customer's next
// message the same day reopens it.
func (h *Handler) CloseSession(w http.ResponseWriter, r *http.Request) {
	if !h.SessionAdminEnabled() {
		http.NotFound(w, r)
		return
	}
	if !h.authorized(r) {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	id := mux.Vars(r)["id"]
	err := h.sessions.CloseSession(r.Context(), id, models.OutcomeClosed, h.now())
	switch {
	case errors.Is(err, store.ErrSessionNotFound):
		http.Error(w, "Session not found", http.StatusNotFound)
		return
	case err != nil:
		h.logger.WithError(err).WithField("session_id", id).Error("Failed to close session")
		http.Error(w, "Failed to close session", http.StatusInternalServerError)
		return
	}

	h.logger.WithFields(logrus.Fields{
		"session_id": id,
		"outcome":    models.OutcomeClosed,
	}).Info("Session closed")
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"session_id": id,
		"outcome":    models.OutcomeClosed,
	})
}

func (h *Handler) authorized(r *http.Request) bool {
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(h.adminToken)) == 1
}
