package middleware

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iudanet/edusession/pkg/api"
)

func TestRecoveryMiddleware(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	tests := []struct {
		handler    http.HandlerFunc
		name       string
		wantStatus int
		wantJSON   bool
	}{
		{
			name: "no panic",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusNoContent)
			},
			wantStatus: http.StatusNoContent,
		},
		{
			name:       "string panic",
			handler:    func(http.ResponseWriter, *http.Request) { panic("refresh store exploded") },
			wantStatus: http.StatusInternalServerError,
			wantJSON:   true,
		},
		{
			name:       "error panic",
			handler:    func(http.ResponseWriter, *http.Request) { panic(fmt.Errorf("nil user %d", 7)) },
			wantStatus: http.StatusInternalServerError,
			wantJSON:   true,
		},
		{
			name: "panic after response started",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
				_, _ = w.Write([]byte(`{"access":`))
				panic("encoder failed")
			},
			wantStatus: http.StatusOK,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := RecoveryMiddleware(logger)(tt.handler)

			w := httptest.NewRecorder()
			handler.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/auth/token/refresh", nil))

			assert.Equal(t, tt.wantStatus, w.Code)
			if !tt.wantJSON {
				assert.NotContains(t, w.Body.String(), "internal server error")
				return
			}

			assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
			var body api.ErrorResponse
			require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
			assert.Equal(t, "internal server error", body.Detail)
			assert.NotContains(t, body.Detail, "exploded", "panic details must not leak")
		})
	}
}

func TestRecoveryMiddleware_RepanicsAbortHandler(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	handler := RecoveryMiddleware(logger)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic(http.ErrAbortHandler)
	}))

	assert.PanicsWithValue(t, http.ErrAbortHandler, func() {
		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/auth/me", nil))
	})
}

func TestRecoveryMiddleware_LogsWithRequestID(t *testing.T) {
	var buf bytes.Buffer
	logger := jsonLogger(&buf)

	// логирование внутри recovery, как в server.New
	handler := RecoveryMiddleware(logger)(LoggingMiddleware(slog.New(slog.NewTextHandler(io.Discard, nil)))(
		http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
			panic("test panic for logging")
		})))

	req := httptest.NewRequest(http.MethodPost, "/auth/login", nil)
	req.Header.Set(HeaderRequestID, "req-1")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	var entry struct {
		Msg       string `json:"msg"`
		Panic     string `json:"panic"`
		RequestID string `json:"request_id"`
		Path      string `json:"path"`
		Stack     string `json:"stack"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "Panic recovered", entry.Msg)
	assert.Equal(t, "test panic for logging", entry.Panic)
	assert.Equal(t, "req-1", entry.RequestID)
	assert.Equal(t, "/auth/login", entry.Path)
	assert.Contains(t, entry.Stack, "goroutine")
}
