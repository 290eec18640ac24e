// Package server собирает dev шлюз аутентификации: маршруты, middleware,
// метрики, начальных пользователей и очистку просроченных токенов.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/crypto/bcrypt"

	"github.com/iudanet/edusession/internal/models"
	"github.com/iudanet/edusession/internal/server/handlers"
	"github.com/iudanet/edusession/internal/server/middleware"
	"github.com/iudanet/edusession/internal/server/storage"
	"github.com/iudanet/edusession/pkg/api"
)

// PathMetrics эндпоинт prometheus
const PathMetrics = "/metrics"

// Store хранилище, которое нужно шлюзу
type Store interface {
	storage.UserStorage
	storage.TokenStorage
	handlers.Pinger
}

// Config параметры шлюза
type Config struct {
	JWT         handlers.JWTConfig
	Version     string
	LoginRate   int           // попыток входа с одного IP за LoginWindow; 0 отключает лимит
	LoginWindow time.Duration // окно лимита
	Rotate      bool          // ротация refresh token при обновлении
}

// Server HTTP обработчик шлюза
type Server struct {
	handler  http.Handler
	limiters *middleware.Limiters
	logger   *slog.Logger
	store    Store
	clock    clockwork.Clock
	registry *prometheus.Registry
}

// Option настраивает Server
type Option func(*Server)

// WithClock подменяет часы (выдача токенов, rate limit)
func WithClock(clock clockwork.Clock) Option {
	return func(s *Server) {
		s.clock = clock
	}
}

// WithRegistry регистрирует метрики в reg и отдает их на /metrics
func WithRegistry(reg *prometheus.Registry) Option {
	return func(s *Server) {
		s.registry = reg
	}
}

// New создает шлюз
func New(logger *slog.Logger, store Store, cfg Config, opts ...Option) *Server {
	s := &Server{
		logger: logger,
		store:  store,
		clock:  clockwork.NewRealClock(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.registry == nil {
		s.registry = prometheus.NewRegistry()
	}

	authHandler := handlers.NewAuthHandler(logger, store, store, cfg.JWT,
		handlers.WithClock(s.clock),
		handlers.WithRotation(cfg.Rotate),
	)
	healthHandler := handlers.NewHealthHandler(logger, store, cfg.Version)
	requireAuth := middleware.AuthMiddleware(logger, cfg.JWT, s.clock)

	mux := http.NewServeMux()
	mux.HandleFunc("POST "+api.PathLogin, authHandler.Login)
	mux.HandleFunc("POST "+api.PathRefresh, authHandler.Refresh)
	mux.HandleFunc("POST "+api.PathLogout, authHandler.Logout)
	mux.Handle("POST "+api.PathLogoutAll, requireAuth(http.HandlerFunc(authHandler.LogoutAll)))
	mux.Handle("GET "+api.PathMe, requireAuth(http.HandlerFunc(authHandler.Me)))
	mux.HandleFunc("GET "+api.PathHealth, healthHandler.Health)
	mux.Handle("GET "+PathMetrics, promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))

	var limits []middleware.PathRateLimit
	if cfg.LoginRate > 0 {
		limits = append(limits, middleware.PathRateLimit{Path: api.PathLogin, Rate: cfg.LoginRate, Window: cfg.LoginWindow})
	}
	rateLimit, limiters := middleware.RateLimitByPathMiddleware(limits, 0, 0, logger, s.clock)
	s.limiters = limiters

	metrics := middleware.NewHTTPMetrics(s.registry)

	var h http.Handler = mux
	h = rateLimit(h)
	h = metrics.Middleware(h)
	h = middleware.LoggingWithSkip(logger, []string{api.PathHealth, PathMetrics})(h)
	h = middleware.RecoveryMiddleware(logger)(h)
	s.handler = h

	return s
}

// ServeHTTP реализует http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// Close останавливает фоновые горутины rate limiter-ов
func (s *Server) Close() {
	s.limiters.Stop()
}

// RunJanitor периодически удаляет просроченные refresh токены, пока ctx не отменен
func (s *Server) RunJanitor(ctx context.Context, interval time.Duration) {
	ticker := s.clock.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			n, err := s.store.DeleteExpiredTokens(ctx, s.clock.Now())
			if err != nil {
				s.logger.ErrorContext(ctx, "failed to delete expired tokens", slog.Any("error", err))
				continue
			}
			if n > 0 {
				s.logger.InfoContext(ctx, "expired tokens deleted", slog.Int("count", n))
			}
		}
	}
}

// SeedUser учетная запись для начального заполнения
type SeedUser struct {
	Email    string
	Password string
	Role     string
	FullName string
	Inactive bool
}

// ParseSeedUser разбирает "email:password[:role[:full name]]"
func ParseSeedUser(s string) (SeedUser, error) {
	parts := strings.SplitN(s, ":", 4)
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return SeedUser{}, fmt.Errorf("seed user %q: expected email:password[:role[:full name]]", s)
	}
	u := SeedUser{Email: parts[0], Password: parts[1], Role: "student"}
	if len(parts) > 2 && parts[2] != "" {
		u.Role = parts[2]
	}
	if len(parts) > 3 {
		u.FullName = parts[3]
	}
	return u, nil
}

// Seed создает учетные записи; уже существующие email пропускаются
func Seed(ctx context.Context, users storage.UserStorage, cost int, now time.Time, seeds ...SeedUser) error {
	for _, seed := range seeds {
		hash, err := bcrypt.GenerateFromPassword([]byte(seed.Password), cost)
		if err != nil {
			return fmt.Errorf("failed to hash password for %s: %w", seed.Email, err)
		}

		err = users.CreateUser(ctx, &models.User{
			ID:           uuid.NewString(),
			Email:        seed.Email,
			PasswordHash: string(hash),
			Role:         seed.Role,
			FullName:     seed.FullName,
			Active:       !seed.Inactive,
			CreatedAt:    now,
		})
		if err != nil && !errors.Is(err, storage.ErrUserAlreadyExists) {
			return fmt.Errorf("failed to seed %s: %w", seed.Email, err)
		}
	}
	return nil
}
