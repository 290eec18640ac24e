package middleware

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iudanet/edusession/pkg/api"
)

func TestNewRateLimiter(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	limiter := NewRateLimiter(10, time.Minute, logger, nil)
	defer limiter.Stop()

	assert.Equal(t, 10, limiter.rate)
	assert.Equal(t, time.Minute, limiter.window)
	assert.NotNil(t, limiter.buckets)

	// Stop идемпотентен
	limiter.Stop()
}

func TestRateLimiter_Allow(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	t.Run("Requests over limit are denied", func(t *testing.T) {
		limiter := NewRateLimiter(3, time.Minute, logger, clockwork.NewFakeClock())
		defer limiter.Stop()

		for i := 0; i < 3; i++ {
			assert.True(t, limiter.Allow("192.168.1.2"), fmt.Sprintf("request %d should be allowed", i+1))
		}
		assert.False(t, limiter.Allow("192.168.1.2"))

		// другой ключ не затронут
		assert.True(t, limiter.Allow("192.168.1.3"))
	})

	t.Run("Tokens refill after window", func(t *testing.T) {
		clock := clockwork.NewFakeClock()
		limiter := NewRateLimiter(2, time.Minute, logger, clock)
		defer limiter.Stop()

		key := "192.168.1.4"
		assert.True(t, limiter.Allow(key))
		assert.True(t, limiter.Allow(key))
		assert.False(t, limiter.Allow(key))

		clock.Advance(59 * time.Second)
		assert.False(t, limiter.Allow(key))

		clock.Advance(time.Second)
		assert.True(t, limiter.Allow(key), "tokens should be refilled")
	})
}

func TestGetClientIP(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		xff        string
		xRealIP    string
		expectedIP string
	}{
		{
			name:       "X-Forwarded-For with single IP",
			remoteAddr: "10.0.0.1:12345",
			xff:        "192.168.1.1",
			xRealIP:    "",
			expectedIP: "192.168.1.1",
		},
		{
			name:       "X-Forwarded-For with multiple IPs",
			remoteAddr: "10.0.0.1:12345",
			xff:        "192.168.1.1, 10.0.0.2, 10.0.0.3",
			xRealIP:    "",
			expectedIP: "192.168.1.1", // Первый IP
		},
		{
			name:       "X-Real-IP when X-Forwarded-For is empty",
			remoteAddr: "10.0.0.1:12345",
			xff:        "",
			xRealIP:    "192.168.2.1",
			expectedIP: "192.168.2.1",
		},
		{
			name:       "RemoteAddr when headers are empty",
			remoteAddr: "192.168.3.1:54321",
			xff:        "",
			xRealIP:    "",
			expectedIP: "192.168.3.1",
		},
		{
			name:       "X-Forwarded-For takes precedence over X-Real-IP",
			remoteAddr: "10.0.0.1:12345",
			xff:        "192.168.1.1",
			xRealIP:    "192.168.2.1",
			expectedIP: "192.168.1.1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/test", nil)
			req.RemoteAddr = tt.remoteAddr
			if tt.xff != "" {
				req.Header.Set("X-Forwarded-For", tt.xff)
			}
			if tt.xRealIP != "" {
				req.Header.Set("X-Real-IP", tt.xRealIP)
			}

			ip := getClientIP(req)
			assert.Equal(t, tt.expectedIP, ip)
		})
	}
}

func TestRateLimitByPathMiddleware(t *testing.T) {
	var logBuf strings.Builder
	logger := slog.New(slog.NewTextHandler(&logBuf, &slog.HandlerOptions{Level: slog.LevelWarn}))

	limits := []PathRateLimit{
		{Path: api.PathLogin, Rate: 2, Window: 5 * time.Minute},
	}

	mw, limiters := RateLimitByPathMiddleware(limits, 10, time.Minute, logger, clockwork.NewFakeClock())
	defer limiters.Stop()

	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	do := func(path, addr string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, path, nil)
		req.RemoteAddr = addr
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		return w
	}

	t.Run("Login endpoint has custom limit", func(t *testing.T) {
		for i := 0; i < 2; i++ {
			assert.Equal(t, http.StatusOK, do(api.PathLogin, "192.168.1.1:12345").Code)
		}

		w := do(api.PathLogin, "192.168.1.1:12345")
		assert.Equal(t, http.StatusTooManyRequests, w.Code)
		assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
		assert.Equal(t, "300", w.Header().Get("Retry-After"))

		var body api.ErrorResponse
		require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
		assert.Equal(t, api.CodeRateLimited, body.Code)

		logOutput := logBuf.String()
		assert.Contains(t, logOutput, "Rate limit exceeded")
		assert.Contains(t, logOutput, api.PathLogin)
	})

	t.Run("Unknown path uses default limit", func(t *testing.T) {
		for i := 0; i < 10; i++ {
			assert.Equal(t, http.StatusOK, do(api.PathRefresh, "192.168.1.3:12345").Code)
		}
		assert.Equal(t, http.StatusTooManyRequests, do(api.PathRefresh, "192.168.1.3:12345").Code)
	})
}

func TestRateLimitByPathMiddleware_NoDefault(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	mw, limiters := RateLimitByPathMiddleware(nil, 0, 0, logger, clockwork.NewFakeClock())
	defer limiters.Stop()

	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	for i := 0; i < 50; i++ {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, httptest.NewRequest(http.MethodPost, api.PathRefresh, nil))
		require.Equal(t, http.StatusNoContent, w.Code)
	}
}

func TestRateLimiter_CleanupOldBuckets(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	clock := clockwork.NewFakeClock()
	limiter := NewRateLimiter(10, time.Minute, logger, clock)
	defer limiter.Stop()

	limiter.Allow("192.168.1.1")
	limiter.Allow("192.168.1.2")
	limiter.Allow("192.168.1.3")

	limiter.mu.RLock()
	assert.Len(t, limiter.buckets, 3)
	limiter.mu.RUnlock()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, clock.BlockUntilContext(ctx, 1), "cleanup ticker")

	// тикер срабатывает через 2*window, bucket старше 2*window удаляется на следующем тике
	clock.Advance(2 * time.Minute)
	clock.Advance(2 * time.Minute)

	assert.Eventually(t, func() bool {
		limiter.mu.RLock()
		defer limiter.mu.RUnlock()
		return len(limiter.buckets) == 0
	}, time.Second, 5*time.Millisecond, "old buckets should be cleaned up")
}
