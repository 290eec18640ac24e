package tabsync

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/iudanet/edusession/internal/client/storage"
)

// DefaultPollInterval период опроса ревизии хранилища
const DefaultPollInterval = 500 * time.Millisecond

// StorageFeed превращает storage.Watcher в Transport.
// Publish ничего не делает: сигналом служит сама запись в хранилище.
type StorageFeed struct {
	watcher  storage.Watcher
	clock    clockwork.Clock
	interval time.Duration
}

// NewStorageFeed creates a feed polling w every interval
func NewStorageFeed(w storage.Watcher, interval time.Duration) *StorageFeed {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &StorageFeed{watcher: w, interval: interval, clock: clockwork.NewRealClock()}
}

func (f *StorageFeed) Publish(context.Context, Event) error {
	return nil
}

// Subscribe фиксирует текущую ревизию до возврата: запись, сделанная после
// Subscribe, будет доставлена, даже если опрос еще не начался.
func (f *StorageFeed) Subscribe(ctx context.Context, fn func(Event)) (io.Closer, error) {
	base, err := f.watcher.Revision(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read storage revision: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	go func() {
		defer close(done)
		_ = f.watcher.Watch(ctx, base.Revision, f.interval, func(c storage.Change) {
			fn(Event{Kind: KindChanged, Source: c.Origin, At: f.clock.Now()})
		})
	}()

	return closerFunc(func() error {
		cancel()
		<-done
		return nil
	}), nil
}
