package session

import (
	"context"
	"errors"
	"log/slog"

	"github.com/iudanet/edusession/internal/client/api"
	"github.com/iudanet/edusession/internal/client/auth"
	"github.com/iudanet/edusession/internal/client/tabsync"
	"github.com/iudanet/edusession/internal/client/token"
	"github.com/iudanet/edusession/internal/models"
)

// exchanger реализует refresh.Source поверх менеджера
type exchanger struct {
	m *Manager
}

func (x exchanger) AccessToken() string {
	return x.m.accessToken()
}

// staleSessionError окончательный отказ для сессии поколения gen
type staleSessionError struct {
	err error
	gen uint64
}

func (e *staleSessionError) Error() string { return e.err.Error() }
func (e *staleSessionError) Unwrap() error { return e.err }

// Exchange обменивает refresh token и сохраняет новую пару.
// Если пока шел запрос сессия сменилась, результат отбрасывается.
func (x exchanger) Exchange(ctx context.Context) (string, error) {
	m := x.m

	m.mu.Lock()
	gen := m.gen
	pair := clonePair(m.pair)
	m.mu.Unlock()

	if pair == nil {
		return "", &staleSessionError{gen: gen, err: &auth.TerminalAuthError{Reason: "no session", Err: ErrUnauthenticated}}
	}

	resp, callErr := m.gateway.Refresh(ctx, pair.RefreshToken)

	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	if tok, changed := m.sessionChanged(gen); changed {
		if tok == "" {
			return "", &staleSessionError{gen: gen, err: &auth.TerminalAuthError{Reason: "session ended during refresh", Err: ErrUnauthenticated}}
		}
		return tok, nil
	}

	if callErr != nil {
		err := api.ClassifyRefreshFailure(callErr)
		if !auth.IsTerminal(err) {
			return "", err
		}
		if tok, ok := m.adoptRotatedLocked(ctx, pair.RefreshToken); ok {
			return tok, nil
		}
		return "", &staleSessionError{gen: gen, err: err}
	}

	next := models.TokenPair{AccessToken: resp.Access, RefreshToken: resp.Refresh}
	if next.RefreshToken == "" {
		next.RefreshToken = pair.RefreshToken
	}

	if err := m.store.Save(ctx, next); err != nil {
		var verr *auth.ValidationError
		if errors.As(err, &verr) {
			return "", &auth.TransientAuthError{Err: err}
		}
		// сервер уже мог ротировать refresh token: новая пара нужна хотя бы в памяти
		m.logger.ErrorContext(ctx, "failed to persist refreshed tokens", slog.Any("error", err))
	}

	m.mu.Lock()
	m.pair = &next
	m.mu.Unlock()

	m.changed(ctx, tabsync.KindRefresh)
	return next.AccessToken, nil
}

// sessionChanged сообщает, сменилась ли сессия после поколения gen,
// и возвращает access token текущей сессии
func (m *Manager) sessionChanged(gen uint64) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.gen == gen {
		return "", false
	}
	if m.pair == nil {
		return "", true
	}
	return m.pair.AccessToken, true
}

// adoptRotatedLocked проверяет, не обновил ли пару другой контекст: тогда наш
// refresh token уже отозван ротацией, а в хранилище лежит рабочая пара.
func (m *Manager) adoptRotatedLocked(ctx context.Context, used string) (string, bool) {
	stored, err := m.store.Load(ctx)
	if err != nil || stored == nil || stored.RefreshToken == used {
		return "", false
	}
	if token.IsExpired(stored.AccessToken, m.clock.Now()) {
		return "", false
	}

	m.mu.Lock()
	m.pair = stored
	m.mu.Unlock()

	m.logger.InfoContext(ctx, "adopted tokens rotated by another context")
	m.publishLocal(ctx, tabsync.KindRefresh)
	return stored.AccessToken, true
}

// terminated вызывается планировщиком после окончательного отказа сервера
func (m *Manager) terminated(err error) {
	var stale *staleSessionError
	if !errors.As(err, &stale) {
		return
	}

	ctx := context.Background()

	m.writeMu.Lock()
	m.mu.Lock()
	current := m.gen == stale.gen && m.pair != nil
	hasSession := m.pair != nil
	m.mu.Unlock()

	switch {
	case current:
		m.dropLocked(ctx)
	case hasSession:
		// отказ относился к прошлой сессии, новая уже активна
		m.sched.Stop()
		m.sched.Start()
	default:
		m.sched.Stop()
	}
	m.writeMu.Unlock()

	if current {
		m.logger.Warn("session terminated by server", slog.Any("error", err))
		m.changed(ctx, tabsync.KindLogout)
	}
}

// reload перечитывает хранилище после изменения в другом контексте
func (m *Manager) reload(ctx context.Context, ev tabsync.Event) {
	m.writeMu.Lock()

	pair, err := m.store.Load(ctx)
	if err != nil {
		m.writeMu.Unlock()
		return
	}
	profile, err := m.store.LoadProfile(ctx)
	if err != nil {
		m.writeMu.Unlock()
		return
	}
	if pair == nil || profile == nil {
		pair, profile = nil, nil
	}

	m.mu.Lock()
	changed := !samePair(m.pair, pair)
	m.pair, m.profile = pair, profile
	if changed {
		m.gen++
	}
	m.mu.Unlock()

	switch {
	case pair == nil:
		m.sched.Stop()
	case changed:
		m.sched.Stop()
		m.sched.Start()
	}
	m.writeMu.Unlock()

	m.logger.DebugContext(ctx, "session reloaded",
		slog.String("kind", string(ev.Kind)),
		slog.String("source", ev.Source),
		slog.Bool("authenticated", pair != nil))
	m.publishLocal(ctx, ev.Kind)
}
