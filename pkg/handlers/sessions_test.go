package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ReaganKibet/chatbot-trial/pkg/models"
	"github.com/ReaganKibet/chatbot-trial/pkg/store"
)

func closeRequest(sessionID, token string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/sessions/"+sessionID+"/close", nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return mux.SetURLVars(req, map[string]string{"id": sessionID})
}

func TestCloseSession(t *testing.T) {
	q, _ := newTestQueue()
	h := newTestHandler(q, nil)
	at := time.Date(2024, 5, 1, 15, 0, 0, 0, time.UTC)
	h.now = func() time.Time { return at }

	repo := store.NewMemoryRepository(time.UTC)
	h.EnableSessionAdmin(repo, "s3cret")
	require.True(t, h.SessionAdminEnabled())

	ctx := context.Background()
	s, err := repo.GetOrCreateSession(ctx, "+15551234567", at.Add(-time.Hour))
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	h.CloseSession(rec, closeRequest(s.ID, "s3cret"))
	assert.Equal(t, http.StatusOK, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, models.OutcomeClosed, body["outcome"])

	closed, err := repo.GetSession(ctx, s.ID)
	require.NoError(t, err)
	assert.False(t, closed.IsOpen())
	assert.Equal(t, models.OutcomeClosed, closed.Outcome)
	assert.Equal(t, at, *closed.EndTime)

	rec = httptest.NewRecorder()
	h.CloseSession(rec, closeRequest("missing", "s3cret"))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCloseSession_RequiresToken(t *testing.T) {
	q, _ := newTestQueue()
	h := newTestHandler(q, nil)
	repo := store.NewMemoryRepository(time.UTC)
	h.EnableSessionAdmin(repo, "s3cret")

	s, err := repo.GetOrCreateSession(context.Background(), "+15551234567", time.Now())
	require.NoError(t, err)

	for _, token := range []string{"", "wrong"} {
		rec := httptest.NewRecorder()
		h.CloseSession(rec, closeRequest(s.ID, token))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	}

	open, err := repo.GetSession(context.Background(), s.ID)
	require.NoError(t, err)
	assert.True(t, open.IsOpen())
}

func TestCloseSession_DisabledWithoutToken(t *testing.T) {
	q, _ := newTestQueue()
	h := newTestHandler(q, nil)
	h.EnableSessionAdmin(store.NewMemoryRepository(time.UTC), "")
	assert.False(t, h.SessionAdminEnabled())

	rec := httptest.NewRecorder()
	h.CloseSession(rec, closeRequest("any", "any"))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
