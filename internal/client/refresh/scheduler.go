package refresh

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sethvargo/go-retry"
	"golang.org/x/sync/singleflight"

	"github.com/iudanet/edusession/internal/client/auth"
	"github.com/iudanet/edusession/internal/client/token"
)

// flightKey единственный ключ singleflight: обновление всегда одно на планировщик
const flightKey = "refresh"

var (
	// ErrNoSession нечего обновлять
	ErrNoSession = errors.New("no session to refresh")
	// ErrTerminated сессия завершена окончательным отказом сервера
	ErrTerminated = errors.New("session terminated")

	errRetryPending = errors.New("refresh retry already scheduled")
)

// State состояние планировщика
type State int

const (
	StateIdle State = iota
	StateRefreshing
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRefreshing:
		return "refreshing"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// Source то, что планировщик обновляет
type Source interface {
	// AccessToken текущий access token, "" если сессии нет
	AccessToken() string
	// Exchange обменивает refresh token и сохраняет новую пару.
	// Ошибки должны быть классифицированы как auth.TerminalAuthError или auth.TransientAuthError.
	Exchange(ctx context.Context) (string, error)
}

// Scheduler планирует обновление access token.
//
// Обновление запускается таймером за buffer до истечения, по CheckNow и по
// запросу вызывающего. Одновременные запросы объединяются в один обмен.
type Scheduler struct {
	src          Source
	clock        clockwork.Clock
	logger       *slog.Logger
	metrics      *Metrics
	onTerminated func(error)
	group        singleflight.Group
	cfg          Config

	mu       sync.Mutex
	timer    clockwork.Timer
	backoff  retry.Backoff
	stop     chan struct{}
	loopDone chan struct{}
	timerGen uint64
	state    State
	armed    bool
	retrying bool
	running  bool
}

// Option настраивает Scheduler
type Option func(*Scheduler)

// WithConfig задает параметры планирования
func WithConfig(cfg Config) Option {
	return func(s *Scheduler) { s.cfg = cfg }
}

// WithClock подменяет часы
func WithClock(c clockwork.Clock) Option {
	return func(s *Scheduler) { s.clock = c }
}

// WithLogger задает логгер
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) { s.logger = l }
}

// WithMetrics включает метрики
func WithMetrics(m *Metrics) Option {
	return func(s *Scheduler) { s.metrics = m }
}

// OnTerminated вызывается один раз при окончательном отказе
func OnTerminated(fn func(error)) Option {
	return func(s *Scheduler) { s.onTerminated = fn }
}

// New creates a new scheduler. Call Start to arm timers.
func New(src Source, opts ...Option) *Scheduler {
	s := &Scheduler{
		src:    src,
		cfg:    DefaultConfig(),
		clock:  clockwork.NewRealClock(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.backoff = s.newBackoff()
	return s
}

// Start запускает проверку живости и ставит таймер по текущему токену.
// Повторный вызов без Stop ничего не делает.
func (s *Scheduler) Start() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	if s.state == StateTerminated {
		s.state = StateIdle
	}
	s.stop = make(chan struct{})
	s.loopDone = make(chan struct{})
	stop, done := s.stop, s.loopDone

	// Обновление до Start уже не удалось: продолжаем с backoff, а не сразу
	if s.retrying {
		delay, exhausted := s.backoff.Next()
		if exhausted {
			delay = s.cfg.CheckInterval
		}
		s.armLocked(delay)
		s.mu.Unlock()
		go s.liveness(stop, done)
		return
	}
	s.mu.Unlock()

	go s.liveness(stop, done)
	s.Reschedule()
}

// Stop останавливает таймеры и проверку живости. Идущий обмен не прерывается,
// но его результат уже не взводит таймер.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.retrying = false
	s.backoff = s.newBackoff()
	s.stopTimerLocked()
	close(s.stop)
	done := s.loopDone
	s.mu.Unlock()

	<-done
}

// State возвращает текущее состояние
func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Retrying true, если взведен повтор после временной ошибки
func (s *Scheduler) Retrying() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.retrying
}

// Reschedule пересчитывает таймер по текущему токену.
// Вызывается после входа и после того, как токен обновил другой контекст.
func (s *Scheduler) Reschedule() {
	tok := s.src.AccessToken()

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running || s.state != StateIdle {
		return
	}
	if tok == "" {
		s.stopTimerLocked()
		return
	}
	s.retrying = false
	s.backoff = s.newBackoff()
	s.armFromTokenLocked(tok)
}

// CheckNow немедленно проверяет срок действия токена.
// Если токен истек или скоро истечет, обновление запускается в фоне.
func (s *Scheduler) CheckNow() {
	tok := s.src.AccessToken()
	if tok == "" {
		return
	}

	s.mu.Lock()
	if !s.running || s.state == StateTerminated {
		s.mu.Unlock()
		return
	}
	if token.NeedsRefresh(tok, s.clock.Now(), s.cfg.ExpiryHorizon) {
		s.mu.Unlock()
		go func() {
			_, _ = s.EnsureFresh(context.Background())
		}()
		return
	}
	if s.state == StateIdle && !s.retrying {
		s.armFromTokenLocked(tok)
	}
	s.mu.Unlock()
}

// Refresh принудительно обновляет токен или присоединяется к идущему обновлению.
// Отмена ctx прекращает только ожидание этого вызова.
func (s *Scheduler) Refresh(ctx context.Context) (string, error) {
	return s.refresh(ctx, trigger{force: true})
}

// EnsureFresh возвращает текущий токен, если он не истекает в пределах горизонта,
// иначе обновляет его (или ждет уже идущее обновление).
func (s *Scheduler) EnsureFresh(ctx context.Context) (string, error) {
	return s.refresh(ctx, trigger{})
}

// trigger описывает, кто запросил обновление
type trigger struct {
	gen   uint64 // поколение таймера, если fromTimer
	force bool   // обменивать, даже если токен еще свежий
	timer bool
}

func (s *Scheduler) refresh(ctx context.Context, t trigger) (string, error) {
	s.mu.Lock()
	terminated := s.state == StateTerminated
	s.mu.Unlock()
	if terminated {
		return "", terminatedErr()
	}

	ch := s.group.DoChan(flightKey, func() (any, error) {
		return s.flight(t)
	})

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		tok, _ := res.Val.(string)
		return tok, res.Err
	}
}

// flight выполняется не более чем в одной горутине одновременно
func (s *Scheduler) flight(t trigger) (string, error) {
	cur := s.src.AccessToken()
	if cur == "" {
		return "", ErrNoSession
	}

	// Пока ждали, токен мог обновить предыдущий обмен
	if !t.force && !token.NeedsRefresh(cur, s.clock.Now(), s.cfg.ExpiryHorizon) {
		s.metrics.observe(resultSkipped)
		return cur, nil
	}

	s.mu.Lock()
	if s.state == StateTerminated {
		s.mu.Unlock()
		return "", terminatedErr()
	}
	// Таймер успели перевзвести или остановить, пока этот вызов ждал очереди:
	// тогда обмен нужен, только если токен действительно истекает
	if stale := t.timer && (t.gen != s.timerGen || !s.running); stale {
		if !token.NeedsRefresh(cur, s.clock.Now(), s.cfg.ExpiryHorizon) {
			s.mu.Unlock()
			s.metrics.observe(resultSkipped)
			return cur, nil
		}
		if s.retrying {
			s.mu.Unlock()
			return "", &auth.TransientAuthError{Err: errRetryPending}
		}
	}
	s.state = StateRefreshing
	s.stopTimerLocked()
	s.mu.Unlock()

	s.metrics.setInFlight(true)
	defer s.metrics.setInFlight(false)

	// Обмен не зависит от контекста вызывающего: его результат нужен всем
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.RefreshTimeout)
	tok, err := s.src.Exchange(ctx)
	cancel()

	switch {
	case err == nil:
		s.succeeded(tok)
		return tok, nil
	case auth.IsTerminal(err):
		s.terminated(err)
		return "", err
	default:
		if !auth.IsTransient(err) {
			err = &auth.TransientAuthError{Err: err}
		}
		s.failed(err)
		return "", err
	}
}

func (s *Scheduler) succeeded(tok string) {
	s.mu.Lock()
	s.state = StateIdle
	s.retrying = false
	s.backoff = s.newBackoff()
	if s.running {
		s.armAfterRefreshLocked(tok)
	}
	s.mu.Unlock()

	s.metrics.observe(resultSuccess)
	s.logger.Debug("access token refreshed")
}

func (s *Scheduler) terminated(err error) {
	s.mu.Lock()
	s.state = StateTerminated
	s.retrying = false
	s.stopTimerLocked()
	hook := s.onTerminated
	s.mu.Unlock()

	s.metrics.observe(resultTerminal)
	s.logger.Warn("refresh rejected, session terminated", slog.Any("error", err))

	if hook != nil {
		hook(err)
	}
}

func (s *Scheduler) failed(err error) {
	s.mu.Lock()
	s.state = StateIdle
	s.retrying = true
	if !s.running {
		// повтор взведет Start
		s.mu.Unlock()
		s.metrics.observe(resultTransient)
		s.logger.Warn("refresh failed", slog.Any("error", err))
		return
	}
	delay, exhausted := s.backoff.Next()
	if exhausted {
		delay = s.cfg.CheckInterval
	}
	s.armLocked(delay)
	s.mu.Unlock()

	s.metrics.observe(resultTransient)
	s.metrics.retry()
	s.logger.Warn("refresh failed, retry scheduled",
		slog.Any("error", err),
		slog.Duration("retry_in", delay),
		slog.Bool("backoff_exhausted", exhausted))
}

func (s *Scheduler) liveness(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := s.clock.NewTicker(s.cfg.CheckInterval)
	defer ticker.Stop()

	last := s.clock.Now()
	for {
		select {
		case <-stop:
			return
		case <-ticker.Chan():
			now := s.clock.Now()
			gap := now.Sub(last)
			last = now

			// Процесс спал: таймеры могли сработать поздно или не сработать
			if gap > 2*s.cfg.CheckInterval {
				s.logger.Info("clock jump detected, checking token", slog.Duration("gap", gap))
				s.CheckNow()
				continue
			}
			s.ensureArmed()
		}
	}
}

// ensureArmed взводит таймер, если он потерян
func (s *Scheduler) ensureArmed() {
	tok := s.src.AccessToken()
	if tok == "" {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running || s.state != StateIdle || s.armed {
		return
	}
	s.logger.Debug("refresh timer lost, re-arming")
	s.armFromTokenLocked(tok)
}

func (s *Scheduler) armFromTokenLocked(tok string) {
	var delay time.Duration
	if claims, err := token.Decode(tok); err == nil {
		delay = NextRefreshDelay(claims, s.clock.Now(), s.cfg)
	}
	s.armLocked(delay)
}

// armAfterRefreshLocked не дает уйти в цикл обменов, если только что
// выданный токен по нашим часам уже в окне обновления (расхождение часов,
// короткий TTL сервера): следующий обмен не раньше Floor.
func (s *Scheduler) armAfterRefreshLocked(tok string) {
	var delay time.Duration
	if claims, err := token.Decode(tok); err == nil {
		delay = NextRefreshDelay(claims, s.clock.Now(), s.cfg)
	}
	if delay < s.cfg.Floor {
		s.logger.Warn("refreshed token is already due, delaying next refresh",
			slog.Duration("computed", delay),
			slog.Duration("delay", s.cfg.Floor))
		delay = s.cfg.Floor
	}
	if delay <= 0 {
		delay = s.cfg.RetryBase
	}
	s.armLocked(delay)
}

func (s *Scheduler) armLocked(delay time.Duration) {
	s.stopTimerLocked()
	s.armed = true
	gen := s.timerGen

	if delay <= 0 {
		go s.fire(gen)
		return
	}
	s.timer = s.clock.AfterFunc(delay, func() { s.fire(gen) })
}

func (s *Scheduler) stopTimerLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.armed = false
	s.timerGen++
}

func (s *Scheduler) fire(gen uint64) {
	s.mu.Lock()
	stale := !s.running || gen != s.timerGen
	s.mu.Unlock()
	if stale {
		return
	}

	tok, err := s.refresh(context.Background(), trigger{force: true, timer: true, gen: gen})
	if err != nil {
		return
	}

	// Присоединились к обновлению, которое не сделало обмена: таймер никто не перевзвел
	s.mu.Lock()
	if s.running && s.state == StateIdle && gen == s.timerGen {
		s.armAfterRefreshLocked(tok)
	}
	s.mu.Unlock()
}

func (s *Scheduler) newBackoff() retry.Backoff {
	b := retry.NewExponential(s.cfg.RetryBase)
	b = retry.WithCappedDuration(s.cfg.RetryMax, b)
	return retry.WithMaxRetries(s.cfg.RetryAttempts, b)
}

func terminatedErr() error {
	return &auth.TerminalAuthError{Reason: "session terminated", Err: ErrTerminated}
}
