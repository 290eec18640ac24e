// Package session собирает ядро сессии: хранилище токенов, планировщик
// обновления, синхронизацию между контекстами и шлюз аутентификации.
//
// Manager единственный, кто пишет токены в хранилище. Остальной код только
// читает их через GetAccessToken и GetValidAccessToken.
package session

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/iudanet/edusession/internal/client/refresh"
	"github.com/iudanet/edusession/internal/models"
	"github.com/iudanet/edusession/pkg/api"
)

// DefaultRevokeTimeout ограничивает отзыв refresh token при выходе
const DefaultRevokeTimeout = 5 * time.Second

var (
	// ErrUnauthenticated сессии нет или сервер окончательно отверг refresh token
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrTokenUnavailable обновить токен временно не удалось, а старый уже истек
	ErrTokenUnavailable = errors.New("access token unavailable")
	// ErrClosed менеджер закрыт
	ErrClosed = errors.New("session manager closed")
)

//go:generate moq -out gateway_mock.go . Gateway

// Gateway удаленный шлюз аутентификации
type Gateway interface {
	Login(ctx context.Context, req api.LoginRequest) (*api.LoginResponse, error)
	Refresh(ctx context.Context, refreshToken string) (*api.RefreshResponse, error)
	Logout(ctx context.Context, refreshToken string) error
}

// Session снимок состояния сессии
type Session struct {
	User            *models.UserProfile
	Tokens          *models.TokenPair
	RefreshInFlight bool
}

// Authenticated true, если есть и профиль, и пара токенов
func (s Session) Authenticated() bool {
	return !s.User.IsZero() && s.Tokens.Complete()
}

// Option настраивает Manager
type Option func(*Manager)

func WithClock(c clockwork.Clock) Option {
	return func(m *Manager) { m.clock = c }
}

func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithRefreshConfig задает параметры планировщика обновления
func WithRefreshConfig(cfg refresh.Config) Option {
	return func(m *Manager) { m.refreshCfg = cfg }
}

// WithMetrics включает метрики планировщика
func WithMetrics(metrics *refresh.Metrics) Option {
	return func(m *Manager) { m.metrics = metrics }
}

// WithContextID задает идентификатор контекста для синхронизации.
// Для sqlite хранилища он должен совпадать с sqlite.WithOrigin.
func WithContextID(id string) Option {
	return func(m *Manager) { m.contextID = id }
}

// WithRevokeTimeout ограничивает время отзыва при выходе
func WithRevokeTimeout(d time.Duration) Option {
	return func(m *Manager) { m.revokeTimeout = d }
}

func profileFromPayload(u api.UserPayload) models.UserProfile {
	return models.UserProfile{
		ID:         u.ID,
		Email:      u.Email,
		Role:       u.Role,
		FullName:   u.FullName,
		Attributes: u.Attributes,
	}
}

func clonePair(p *models.TokenPair) *models.TokenPair {
	if p == nil {
		return nil
	}
	c := *p
	return &c
}

func cloneProfile(p *models.UserProfile) *models.UserProfile {
	if p == nil {
		return nil
	}
	c := models.UserProfile{}.Merge(*p)
	return &c
}

func samePair(a, b *models.TokenPair) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
