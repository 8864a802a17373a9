package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/socratic-labs/socratic/internal/service"
	"github.com/socratic-labs/socratic/internal/store"
)

func TestWriteServiceErrorMapping(t *testing.T) {
	h := NewSessionHandler(nil, zap.NewNop())

	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantBody   string
	}{
		{"invalid input echoes message", fmt.Errorf("%w: response is required", service.ErrInvalidInput),
			http.StatusBadRequest, "invalid input: response is required"},
		{"not found", store.ErrNotFound, http.StatusNotFound, "session not found"},
		{"session complete", service.ErrSessionComplete, http.StatusConflict, "session is already complete"},
		{"invalid transition", service.ErrInvalidTransition,
			http.StatusConflict, "operation not valid in the session's current state"},
		{"stale transition", service.ErrStaleTransition,
			http.StatusConflict, "session advanced concurrently, retry with fresh state"},
		{"generation unavailable", service.ErrGenerationUnavailable,
			http.StatusServiceUnavailable, "lesson generation is temporarily unavailable"},
		{"profile conflict", service.ErrConcurrencyConflict,
			http.StatusConflict, "profile update conflicted, retry"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.writeServiceError(rec, tt.err)

			assert.Equal(t, tt.wantStatus, rec.Code)
			var body map[string]string
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tt.wantBody, body["error"])
		})
	}
}

func TestWriteServiceErrorHidesInternalDetail(t *testing.T) {
	h := NewSessionHandler(nil, zap.NewNop())

	rec := httptest.NewRecorder()
	h.writeServiceError(rec, errors.New("embed response: chat API returned status 401 for key sk-abc"))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "internal error, try again", body["error"])
	assert.NotContains(t, rec.Body.String(), "401")
	assert.NotContains(t, rec.Body.String(), "sk-abc")
}
