package httputil

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeError(t *testing.T, w *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	var body ErrorResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	return body
}

func TestWriteJSON(t *testing.T) {
	w := httptest.NewRecorder()

	require.NoError(t, WriteSuccess(w, map[string]string{"name": "sample.items.index"}))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"name":"sample.items.index"}`, w.Body.String())

	w = httptest.NewRecorder()
	require.NoError(t, WriteCreated(w, map[string]int{"assigned": 2}))
	assert.Equal(t, http.StatusCreated, w.Code)
}

func TestErrorWriters(t *testing.T) {
	tests := []struct {
		name       string
		write      func(w http.ResponseWriter)
		wantStatus int
		wantCode   string
		wantError  string
	}{
		{"error", func(w http.ResponseWriter) { WriteError(w, http.StatusConflict, errors.New("role exists")) },
			http.StatusConflict, CodeConflict, "role exists"},
		{"validation", func(w http.ResponseWriter) { WriteValidationError(w, "name is required") },
			http.StatusBadRequest, CodeValidation, "name is required"},
		{"bad request", func(w http.ResponseWriter) { WriteBadRequest(w, "invalid JSON") },
			http.StatusBadRequest, CodeBadRequest, "invalid JSON"},
		{"not found", func(w http.ResponseWriter) { WriteNotFoundError(w, "role not found") },
			http.StatusNotFound, CodeNotFound, "role not found"},
		{"unauthorized", func(w http.ResponseWriter) { WriteUnauthorized(w, "authentication required") },
			http.StatusUnauthorized, CodeUnauthorized, "authentication required"},
		{"forbidden", func(w http.ResponseWriter) { WriteForbidden(w, "forbidden") },
			http.StatusForbidden, CodeForbidden, "forbidden"},
		{"conflict", func(w http.ResponseWriter) { WriteConflict(w, "cannot delete role assigned to users") },
			http.StatusConflict, CodeConflict, "cannot delete role assigned to users"},
		{"internal hides cause", func(w http.ResponseWriter) { WriteInternalError(w) },
			http.StatusInternalServerError, CodeInternal, "internal server error"},
		{"method not allowed", func(w http.ResponseWriter) { WriteErrorMessage(w, http.StatusMethodNotAllowed, "method not allowed") },
			http.StatusMethodNotAllowed, CodeMethodNotAllowed, "method not allowed"},
		{"unavailable", func(w http.ResponseWriter) { WriteErrorMessage(w, http.StatusServiceUnavailable, "down") },
			http.StatusServiceUnavailable, CodeUnavailable, "down"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			tt.write(w)

			assert.Equal(t, tt.wantStatus, w.Code)
			body := decodeError(t, w)
			assert.Equal(t, tt.wantCode, body.Code)
			assert.Equal(t, tt.wantError, body.Error)
			assert.Zero(t, body.RetryAfter)
		})
	}
}

func TestWriteRateLimited(t *testing.T) {
	tests := []struct {
		retryAfter time.Duration
		want       string
	}{
		{30 * time.Second, "30"},
		{1500 * time.Millisecond, "2"},
		{0, "1"},
	}
	for _, tt := range tests {
		t.Run(tt.retryAfter.String(), func(t *testing.T) {
			w := httptest.NewRecorder()
			WriteRateLimited(w, tt.retryAfter)

			assert.Equal(t, http.StatusTooManyRequests, w.Code)
			assert.Equal(t, tt.want, w.Header().Get("Retry-After"))
			body := decodeError(t, w)
			assert.Equal(t, CodeRateLimited, body.Code)
			assert.Equal(t, "rate limit exceeded", body.Error)
			assert.Positive(t, body.RetryAfter)
		})
	}
}

func TestWriteNoContent(t *testing.T) {
	w := httptest.NewRecorder()
	WriteNoContent(w)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Empty(t, w.Body.String())
}

func TestCodeForStatus_Unknown(t *testing.T) {
	assert.Equal(t, CodeInternal, CodeForStatus(http.StatusTeapot))
}
