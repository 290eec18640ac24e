package middleware

import (
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/iudanet/edusession/internal/server/handlers"
	"github.com/iudanet/edusession/pkg/api"
)

// RateLimiter представляет rate limiter на основе токен-бакета (token bucket)
type RateLimiter struct {
	buckets  map[string]*bucket
	logger   *slog.Logger
	clock    clockwork.Clock
	cleanupC chan struct{}
	stopOnce sync.Once
	rate     int
	window   time.Duration
	mu       sync.RWMutex
}

// bucket представляет bucket для конкретного IP/ключа
type bucket struct {
	lastRefill time.Time
	tokens     int
	mu         sync.Mutex
}

// NewRateLimiter создает новый rate limiter
// rate - максимальное количество запросов за window
func NewRateLimiter(rate int, window time.Duration, logger *slog.Logger, clock clockwork.Clock) *RateLimiter {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	rl := &RateLimiter{
		buckets:  make(map[string]*bucket),
		rate:     rate,
		window:   window,
		logger:   logger,
		clock:    clock,
		cleanupC: make(chan struct{}),
	}

	// Запускаем периодическую очистку старых buckets
	go rl.cleanup()

	return rl
}

// cleanup периодически удаляет неактивные buckets для экономии памяти
func (rl *RateLimiter) cleanup() {
	ticker := rl.clock.NewTicker(rl.window * 2)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.Chan():
			rl.cleanupOldBuckets()
		case <-rl.cleanupC:
			return
		}
	}
}

// cleanupOldBuckets удаляет buckets, которые не использовались дольше 2*window
func (rl *RateLimiter) cleanupOldBuckets() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.clock.Now()
	for key, b := range rl.buckets {
		b.mu.Lock()
		if now.Sub(b.lastRefill) > rl.window*2 {
			delete(rl.buckets, key)
		}
		b.mu.Unlock()
	}
}

// Stop останавливает cleanup goroutine
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.cleanupC) })
}

// Allow проверяет, разрешен ли запрос для данного ключа (обычно IP адрес)
func (rl *RateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	b, exists := rl.buckets[key]
	if !exists {
		b = &bucket{tokens: rl.rate, lastRefill: rl.clock.Now()}
		rl.buckets[key] = b
	}
	rl.mu.Unlock()

	b.mu.Lock()
	defer b.mu.Unlock()

	now := rl.clock.Now()
	if now.Sub(b.lastRefill) >= rl.window {
		b.tokens = rl.rate
		b.lastRefill = now
	}

	if b.tokens > 0 {
		b.tokens--
		return true
	}

	return false
}

// PathRateLimit лимит для конкретного пути
type PathRateLimit struct {
	Path   string
	Rate   int
	Window time.Duration
}

// Limiters набор limiter-ов, созданных RateLimitByPathMiddleware
type Limiters struct {
	byPath   map[string]*RateLimiter
	fallback *RateLimiter
}

// Stop останавливает все limiter-ы
func (l *Limiters) Stop() {
	for _, rl := range l.byPath {
		rl.Stop()
	}
	if l.fallback != nil {
		l.fallback.Stop()
	}
}

// RateLimitByPathMiddleware создает middleware с кастомными лимитами для путей.
// defaultRate <= 0 отключает лимит для остальных путей.
// Превышение отвечает 429 с кодом rate_limited и заголовком Retry-After.
func RateLimitByPathMiddleware(
	limits []PathRateLimit,
	defaultRate int,
	defaultWindow time.Duration,
	logger *slog.Logger,
	clock clockwork.Clock,
) (func(http.Handler) http.Handler, *Limiters) {
	set := &Limiters{byPath: make(map[string]*RateLimiter, len(limits))}
	windows := make(map[string]time.Duration, len(limits))
	for _, limit := range limits {
		set.byPath[limit.Path] = NewRateLimiter(limit.Rate, limit.Window, logger, clock)
		windows[limit.Path] = limit.Window
	}
	if defaultRate > 0 {
		set.fallback = NewRateLimiter(defaultRate, defaultWindow, logger, clock)
	}

	mw := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			limiter, exists := set.byPath[r.URL.Path]
			window := windows[r.URL.Path]
			if !exists {
				limiter, window = set.fallback, defaultWindow
			}
			if limiter == nil {
				next.ServeHTTP(w, r)
				return
			}

			key := getClientIP(r)
			if !limiter.Allow(key) {
				logger.Warn("Rate limit exceeded",
					"ip", key,
					"method", r.Method,
					"path", r.URL.Path,
				)

				w.Header().Set("Retry-After", strconv.Itoa(int(window.Seconds())))
				handlers.WriteError(w, logger, http.StatusTooManyRequests, api.CodeRateLimited,
					"too many attempts, please try again later")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
	return mw, set
}

// getClientIP извлекает IP адрес клиента из запроса
// Проверяет заголовки X-Forwarded-For и X-Real-IP для прокси
func getClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		// Берем первый IP из списка (реальный клиент)
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}

	// порт у каждого соединения свой, лимит считаем по хосту
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
