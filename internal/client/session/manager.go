package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/iudanet/edusession/internal/client/api"
	"github.com/iudanet/edusession/internal/client/auth"
	"github.com/iudanet/edusession/internal/client/refresh"
	"github.com/iudanet/edusession/internal/client/tabsync"
	"github.com/iudanet/edusession/internal/client/token"
	"github.com/iudanet/edusession/internal/models"
	"github.com/iudanet/edusession/internal/validation"
	apidto "github.com/iudanet/edusession/pkg/api"
)

// Deps обязательные зависимости менеджера
type Deps struct {
	Gateway Gateway
	Store   *auth.Store
	// Transport доставляет изменения другим контекстам; nil - контекст один
	Transport tabsync.Transport
}

// Manager управляет сессией одного контекста.
//
// mu защищает состояние в памяти и никогда не держится во время I/O.
// writeMu упорядочивает все записи в хранилище и переходы планировщика;
// держащий его никогда не ждет завершения обновления.
type Manager struct {
	gateway Gateway
	store   *auth.Store
	sched   *refresh.Scheduler
	syncer  *tabsync.Syncer
	local   *tabsync.Hub // локальные подписчики
	clock   clockwork.Clock
	logger  *slog.Logger
	metrics *refresh.Metrics

	subs    map[int]io.Closer
	pair    *models.TokenPair
	profile *models.UserProfile

	contextID     string
	refreshCfg    refresh.Config
	revokeTimeout time.Duration
	gen           uint64 // меняется при смене сессии, отбрасывает устаревшие обновления
	nextSub       int

	mu      sync.Mutex
	writeMu sync.Mutex

	initMu      sync.Mutex
	initialized bool
	closed      bool
}

// New creates a session manager. Call Initialize to restore the persisted session.
func New(deps Deps, opts ...Option) (*Manager, error) {
	if deps.Gateway == nil {
		return nil, errors.New("session: gateway is required")
	}
	if deps.Store == nil {
		return nil, errors.New("session: token store is required")
	}

	m := &Manager{
		gateway:       deps.Gateway,
		store:         deps.Store,
		local:         tabsync.NewHub(),
		clock:         clockwork.NewRealClock(),
		logger:        slog.Default(),
		subs:          make(map[int]io.Closer),
		refreshCfg:    refresh.DefaultConfig(),
		revokeTimeout: DefaultRevokeTimeout,
	}
	for _, opt := range opts {
		opt(m)
	}

	m.sched = refresh.New(exchanger{m: m},
		refresh.WithConfig(m.refreshCfg),
		refresh.WithClock(m.clock),
		refresh.WithLogger(m.logger.With("component", "refresh")),
		refresh.WithMetrics(m.metrics),
		refresh.OnTerminated(m.terminated),
	)
	m.syncer = tabsync.NewSyncer(deps.Transport, tabsync.ReloaderFunc(m.reload),
		tabsync.WithID(m.contextID),
		tabsync.WithClock(m.clock),
		tabsync.WithLogger(m.logger.With("component", "tabsync")),
	)
	m.contextID = m.syncer.ID()

	return m, nil
}

// ContextID идентификатор контекста в событиях синхронизации
func (m *Manager) ContextID() string {
	return m.contextID
}

// Initialize восстанавливает сохраненную сессию, обновляет истекший токен,
// взводит планировщик и подписывается на изменения других контекстов.
// Повторные вызовы ничего не делают.
func (m *Manager) Initialize(ctx context.Context) error {
	m.initMu.Lock()
	defer m.initMu.Unlock()

	if m.closed {
		return ErrClosed
	}
	if m.initialized {
		return nil
	}

	// Подписка раньше чтения: запись другого контекста между ними не теряется
	if err := m.syncer.Start(ctx); err != nil {
		m.logger.WarnContext(ctx, "cross-context sync unavailable", slog.Any("error", err))
	}

	m.writeMu.Lock()
	pair, err := m.store.Load(ctx)
	if err != nil {
		m.writeMu.Unlock()
		return fmt.Errorf("failed to load session: %w", err)
	}
	profile, err := m.store.LoadProfile(ctx)
	if err != nil {
		m.writeMu.Unlock()
		return fmt.Errorf("failed to load profile: %w", err)
	}

	// Половина сессии не дает аутентификации: убираем остаток
	if (pair == nil) != (profile == nil) {
		m.logger.WarnContext(ctx, "discarding incomplete session",
			slog.Bool("has_tokens", pair != nil), slog.Bool("has_profile", profile != nil))
		m.store.Clear(ctx)
		pair, profile = nil, nil
	}

	m.mu.Lock()
	m.pair, m.profile = pair, profile
	m.gen++
	m.mu.Unlock()
	m.writeMu.Unlock()

	if pair != nil && token.IsExpired(pair.AccessToken, m.clock.Now()) {
		if _, err := m.sched.EnsureFresh(ctx); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			// временная ошибка: сессия остается, Start взведет повтор
			m.logger.WarnContext(ctx, "initial refresh failed", slog.Any("error", err))
		}
	}

	m.writeMu.Lock()
	m.mu.Lock()
	hasSession := m.pair != nil
	m.mu.Unlock()
	if hasSession {
		m.sched.Start()
	}
	m.writeMu.Unlock()

	m.initialized = true
	m.publishLocal(ctx, tabsync.KindChanged)
	return nil
}

// Login выполняет вход. При ошибке возвращает *auth.LoginError и не трогает
// сохраненное состояние, если сервер вход не подтвердил.
func (m *Manager) Login(ctx context.Context, email, password string) (*Session, error) {
	if err := validateCredentials(email, password); err != nil {
		return nil, err
	}

	resp, err := m.gateway.Login(ctx, apidto.LoginRequest{Email: email, Password: password})
	if err != nil {
		return nil, api.ClassifyLoginFailure(err)
	}

	pair := models.TokenPair{AccessToken: resp.Tokens.Access, RefreshToken: resp.Tokens.Refresh}
	profile := profileFromPayload(resp.User)

	m.writeMu.Lock()
	if err := m.store.Save(ctx, pair); err != nil {
		m.writeMu.Unlock()
		var verr *auth.ValidationError
		if errors.As(err, &verr) {
			return nil, &auth.LoginError{Kind: auth.LoginTransport, Message: "server returned an unusable token", Err: err}
		}
		return nil, &auth.LoginError{Kind: auth.LoginTransport, Message: "failed to persist session", Err: err}
	}
	if err := m.store.SaveProfile(ctx, profile); err != nil {
		// пара уже перезаписана, без профиля она бесполезна
		m.dropLocked(context.WithoutCancel(ctx))
		m.writeMu.Unlock()
		m.changed(ctx, tabsync.KindLogout)
		return nil, &auth.LoginError{Kind: auth.LoginTransport, Message: "failed to persist profile", Err: err}
	}

	m.mu.Lock()
	m.pair, m.profile = &pair, &profile
	m.gen++
	m.mu.Unlock()

	m.sched.Stop()
	m.sched.Start()
	m.writeMu.Unlock()

	m.logger.InfoContext(ctx, "logged in", slog.String("user_id", profile.ID), slog.String("role", profile.Role))
	m.changed(ctx, tabsync.KindLogin)

	s := m.Session()
	return &s, nil
}

func validateCredentials(email, password string) error {
	if err := validation.ValidateEmail(email); err != nil {
		return &auth.LoginError{Kind: auth.LoginInvalidInput, Message: err.Error(), Err: &auth.ValidationError{Field: "email", Reason: err.Error()}}
	}
	if err := validation.ValidatePassword(password); err != nil {
		return &auth.LoginError{Kind: auth.LoginInvalidInput, Message: err.Error(), Err: &auth.ValidationError{Field: "password", Reason: err.Error()}}
	}
	return nil
}

// Logout завершает сессию локально и пытается отозвать refresh token на сервере.
// Ошибка отзыва только логируется: локальный выход происходит всегда.
// Таймеры обновления останавливаются; подписка на другие контексты живет до Close,
// чтобы вход в другом контексте был виден и здесь.
func (m *Manager) Logout(ctx context.Context) {
	m.writeMu.Lock()
	m.mu.Lock()
	pair := m.pair
	m.mu.Unlock()
	m.dropLocked(context.WithoutCancel(ctx))
	m.writeMu.Unlock()

	if pair != nil {
		rctx, cancel := context.WithTimeout(ctx, m.revokeTimeout)
		if err := m.gateway.Logout(rctx, pair.RefreshToken); err != nil {
			m.logger.WarnContext(ctx, "failed to revoke refresh token", slog.Any("error", err))
		}
		cancel()
	}

	m.logger.InfoContext(ctx, "logged out")
	m.changed(ctx, tabsync.KindLogout)
}

// dropLocked останавливает планировщик и очищает память и хранилище.
// Вызывается под writeMu.
func (m *Manager) dropLocked(ctx context.Context) {
	m.sched.Stop()

	m.mu.Lock()
	m.pair, m.profile = nil, nil
	m.gen++
	m.mu.Unlock()

	m.store.Clear(ctx)
}

// IsAuthenticated true, если в памяти есть профиль и структурно корректная пара.
// Срок действия не проверяется.
func (m *Manager) IsAuthenticated() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.profile.IsZero() || !m.pair.Complete() {
		return false
	}
	return token.ValidateStructure(m.pair.AccessToken) == nil
}

// GetAccessToken возвращает текущий access token, только если он не истек.
// Не блокируется и ничего не меняет.
func (m *Manager) GetAccessToken() (string, bool) {
	tok := m.accessToken()
	if tok == "" || token.IsExpired(tok, m.clock.Now()) {
		return "", false
	}
	return tok, true
}

// GetValidAccessToken возвращает токен, который не истекает в пределах горизонта,
// при необходимости обновляя его или дожидаясь уже идущего обновления.
func (m *Manager) GetValidAccessToken(ctx context.Context) (string, error) {
	tok := m.accessToken()
	if tok == "" {
		return "", ErrUnauthenticated
	}
	if !token.NeedsRefresh(tok, m.clock.Now(), m.refreshCfg.ExpiryHorizon) {
		return tok, nil
	}

	fresh, err := m.sched.EnsureFresh(ctx)
	switch {
	case err == nil:
		return fresh, nil
	case ctx.Err() != nil:
		return "", ctx.Err()
	case errors.Is(err, refresh.ErrNoSession), auth.IsTerminal(err):
		return "", fmt.Errorf("%w: %w", ErrUnauthenticated, err)
	}

	// Сервер временно недоступен: еще не истекший токен лучше, чем никакого
	if last, ok := m.GetAccessToken(); ok {
		m.logger.DebugContext(ctx, "refresh failed, serving last known token", slog.Any("error", err))
		return last, nil
	}
	return "", fmt.Errorf("%w: %w", ErrTokenUnavailable, err)
}

// UpdateUserProfile сливает непустые поля partial с текущим профилем.
// Токены не меняются. Менять ID нельзя.
func (m *Manager) UpdateUserProfile(ctx context.Context, partial models.UserProfile) (models.UserProfile, error) {
	m.writeMu.Lock()

	m.mu.Lock()
	cur := cloneProfile(m.profile)
	m.mu.Unlock()

	if cur == nil {
		m.writeMu.Unlock()
		return models.UserProfile{}, ErrUnauthenticated
	}
	if partial.ID != "" && partial.ID != cur.ID {
		m.writeMu.Unlock()
		return models.UserProfile{}, &auth.ValidationError{Field: "id", Reason: "cannot change user id"}
	}

	merged := cur.Merge(partial)
	if err := m.store.SaveProfile(ctx, merged); err != nil {
		m.writeMu.Unlock()
		return models.UserProfile{}, err
	}

	m.mu.Lock()
	m.profile = cloneProfile(&merged)
	m.mu.Unlock()
	m.writeMu.Unlock()

	m.changed(ctx, tabsync.KindProfile)
	return merged, nil
}

// Session возвращает снимок текущего состояния
func (m *Manager) Session() Session {
	inFlight := m.sched.State() == refresh.StateRefreshing

	m.mu.Lock()
	defer m.mu.Unlock()
	return Session{
		User:            cloneProfile(m.profile),
		Tokens:          clonePair(m.pair),
		RefreshInFlight: inFlight,
	}
}

// Subscribe вызывает fn после каждого изменения сессии, в том числе
// сделанного другим контекстом. fn получает состояние на момент доставки.
// Вызовы асинхронные, в порядке изменений. Возвращает функцию отписки.
func (m *Manager) Subscribe(fn func(Session)) (unsubscribe func()) {
	closer, _ := m.local.Subscribe(context.Background(), func(tabsync.Event) {
		fn(m.Session())
	})

	m.mu.Lock()
	id := m.nextSub
	m.nextSub++
	m.subs[id] = closer
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		delete(m.subs, id)
		m.mu.Unlock()
		_ = closer.Close()
	}
}

// OnVisibilityChange сообщает о смене видимости: при возврате на экран
// срок действия токена проверяется сразу.
func (m *Manager) OnVisibilityChange(visible bool) {
	if visible {
		m.sched.CheckNow()
	}
}

// OnFocus сообщает о возврате фокуса
func (m *Manager) OnFocus() {
	m.sched.CheckNow()
}

// Close останавливает таймеры и подписки. Хранилище не очищается.
func (m *Manager) Close() error {
	m.initMu.Lock()
	m.closed = true
	m.initMu.Unlock()

	m.writeMu.Lock()
	m.sched.Stop()
	m.writeMu.Unlock()

	m.mu.Lock()
	subs := m.subs
	m.subs = make(map[int]io.Closer)
	m.mu.Unlock()
	for _, c := range subs {
		_ = c.Close()
	}

	return m.syncer.Close()
}

func (m *Manager) accessToken() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pair == nil {
		return ""
	}
	return m.pair.AccessToken
}

// changed сообщает локальным подписчикам и другим контекстам
func (m *Manager) changed(ctx context.Context, kind tabsync.Kind) {
	ctx = context.WithoutCancel(ctx)
	m.publishLocal(ctx, kind)
	m.syncer.Broadcast(ctx, kind)
}

func (m *Manager) publishLocal(ctx context.Context, kind tabsync.Kind) {
	ev := tabsync.Event{Kind: kind, Source: m.contextID, At: m.clock.Now()}
	_ = m.local.Publish(context.WithoutCancel(ctx), ev)
}
