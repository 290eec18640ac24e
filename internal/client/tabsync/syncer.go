package tabsync

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

// Reloader перечитывает общее состояние после чужого изменения
type Reloader interface {
	Reload(ctx context.Context, ev Event)
}

// ReloaderFunc адаптер функции к Reloader
type ReloaderFunc func(ctx context.Context, ev Event)

func (f ReloaderFunc) Reload(ctx context.Context, ev Event) { f(ctx, ev) }

// Syncer связывает один контекст с транспортом: рассылает его изменения и
// перечитывает состояние, когда изменение сделал кто-то другой.
type Syncer struct {
	transport Transport
	reloader  Reloader
	clock     clockwork.Clock
	logger    *slog.Logger
	sub       io.Closer
	cancel    context.CancelFunc
	id        string
	mu        sync.Mutex
}

// SyncerOption опция Syncer
type SyncerOption func(*Syncer)

// WithID задает идентификатор контекста (по умолчанию случайный UUID)
func WithID(id string) SyncerOption {
	return func(s *Syncer) {
		if id != "" {
			s.id = id
		}
	}
}

func WithClock(c clockwork.Clock) SyncerOption {
	return func(s *Syncer) { s.clock = c }
}

func WithLogger(l *slog.Logger) SyncerOption {
	return func(s *Syncer) { s.logger = l }
}

// NewSyncer creates a syncer; nil transport делает его no-op
func NewSyncer(t Transport, r Reloader, opts ...SyncerOption) *Syncer {
	s := &Syncer{
		transport: t,
		reloader:  r,
		id:        uuid.NewString(),
		clock:     clockwork.NewRealClock(),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ID идентификатор контекста, попадает в Event.Source
func (s *Syncer) ID() string {
	return s.id
}

// Start подписывается на транспорт. Повторный вызов ничего не делает.
func (s *Syncer) Start(ctx context.Context) error {
	if s.transport == nil {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sub != nil {
		return nil
	}

	subCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	sub, err := s.transport.Subscribe(subCtx, func(ev Event) {
		s.handle(subCtx, ev)
	})
	if err != nil {
		cancel()
		return err
	}

	s.sub = sub
	s.cancel = cancel
	return nil
}

func (s *Syncer) handle(ctx context.Context, ev Event) {
	// свои события уже применены локально
	if ev.Source == s.id {
		return
	}
	if ctx.Err() != nil {
		return
	}

	s.logger.Debug("auth state changed elsewhere", "kind", ev.Kind, "source", ev.Source)
	if s.reloader != nil {
		s.reloader.Reload(ctx, ev)
	}
}

// Broadcast сообщает остальным контекстам об изменении. Ошибка транспорта
// только логируется: состояние уже сохранено в общем хранилище.
func (s *Syncer) Broadcast(ctx context.Context, kind Kind) {
	if s.transport == nil {
		return
	}

	ev := Event{Kind: kind, Source: s.id, At: s.clock.Now()}
	if err := s.transport.Publish(ctx, ev); err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Warn("failed to broadcast auth event", "kind", kind, "error", err)
	}
}

// Close отписывается от транспорта
func (s *Syncer) Close() error {
	s.mu.Lock()
	sub, cancel := s.sub, s.cancel
	s.sub, s.cancel = nil, nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if sub != nil {
		return sub.Close()
	}
	return nil
}
