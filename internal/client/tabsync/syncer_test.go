package tabsync_test

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iudanet/edusession/internal/client/storage"
	"github.com/iudanet/edusession/internal/client/storage/sqlite"
	"github.com/iudanet/edusession/internal/client/tabsync"
)

type reloads struct {
	events []tabsync.Event
	mu     sync.Mutex
}

func (r *reloads) Reload(_ context.Context, ev tabsync.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *reloads) snapshot() []tabsync.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]tabsync.Event(nil), r.events...)
}

func TestSyncer_IgnoresOwnEvents(t *testing.T) {
	ctx := context.Background()
	hub := tabsync.NewHub()
	clock := clockwork.NewFakeClockAt(time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC))

	var r1, r2 reloads
	tab1 := tabsync.NewSyncer(hub, &r1, tabsync.WithID("tab-1"), tabsync.WithClock(clock))
	tab2 := tabsync.NewSyncer(hub, &r2, tabsync.WithID("tab-2"), tabsync.WithClock(clock))
	require.NoError(t, tab1.Start(ctx))
	require.NoError(t, tab2.Start(ctx))
	defer tab1.Close()
	defer tab2.Close()

	tab1.Broadcast(ctx, tabsync.KindRefresh)

	require.Eventually(t, func() bool { return len(r2.snapshot()) == 1 }, time.Second, 5*time.Millisecond)
	got := r2.snapshot()[0]
	assert.Equal(t, tabsync.KindRefresh, got.Kind)
	assert.Equal(t, "tab-1", got.Source)
	assert.Equal(t, clock.Now(), got.At)

	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, r1.snapshot())
}

func TestSyncer_StartTwice(t *testing.T) {
	ctx := context.Background()
	hub := tabsync.NewHub()

	var r reloads
	s := tabsync.NewSyncer(hub, &r)
	require.NoError(t, s.Start(ctx))
	require.NoError(t, s.Start(ctx))
	defer s.Close()

	other := tabsync.NewSyncer(hub, nil)
	other.Broadcast(ctx, tabsync.KindLogin)

	require.Eventually(t, func() bool { return len(r.snapshot()) >= 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	// одна подписка, одна перезагрузка
	assert.Len(t, r.snapshot(), 1)
}

func TestSyncer_NilTransport(t *testing.T) {
	s := tabsync.NewSyncer(nil, nil)
	require.NoError(t, s.Start(context.Background()))
	s.Broadcast(context.Background(), tabsync.KindLogout)
	assert.NoError(t, s.Close())
	assert.NotEmpty(t, s.ID())
}

func TestSyncer_AfterClose(t *testing.T) {
	ctx := context.Background()
	hub := tabsync.NewHub()

	var r reloads
	s := tabsync.NewSyncer(hub, &r, tabsync.WithID("tab-2"))
	require.NoError(t, s.Start(ctx))
	require.NoError(t, s.Close())

	tabsync.NewSyncer(hub, nil, tabsync.WithID("tab-1")).Broadcast(ctx, tabsync.KindLogout)
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, r.snapshot())
}

func TestStorageFeed(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "auth.db")

	writer, err := sqlite.New(ctx, path, sqlite.WithOrigin("tab-1"))
	require.NoError(t, err)
	defer writer.Close()
	reader, err := sqlite.New(ctx, path, sqlite.WithOrigin("tab-2"))
	require.NoError(t, err)
	defer reader.Close()

	var r reloads
	s := tabsync.NewSyncer(tabsync.NewStorageFeed(reader, 10*time.Millisecond), &r, tabsync.WithID("tab-2"))
	require.NoError(t, s.Start(ctx))
	defer s.Close()

	// Publish у feed пустой, сигнал дает сама запись
	require.NoError(t, writer.SaveRecord(ctx, &storage.Record{
		SavedAt:      time.Now(),
		AccessToken:  "a",
		RefreshToken: "r",
		IntegrityTag: "t",
	}))

	require.Eventually(t, func() bool { return len(r.snapshot()) >= 1 }, 2*time.Second, 10*time.Millisecond)
	got := r.snapshot()[0]
	assert.Equal(t, tabsync.KindChanged, got.Kind)
	assert.Equal(t, "tab-1", got.Source)
}

// Запись сразу после Start доставляется, сколько бы раз ни повторялся запуск
func TestStorageFeed_WriteRightAfterStart(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "auth.db")

	writer, err := sqlite.New(ctx, path, sqlite.WithOrigin("tab-1"))
	require.NoError(t, err)
	defer writer.Close()
	reader, err := sqlite.New(ctx, path, sqlite.WithOrigin("tab-2"))
	require.NoError(t, err)
	defer reader.Close()

	for i := range 10 {
		var r reloads
		s := tabsync.NewSyncer(tabsync.NewStorageFeed(reader, 5*time.Millisecond), &r, tabsync.WithID("tab-2"))
		require.NoError(t, s.Start(ctx))

		require.NoError(t, writer.SaveRecord(ctx, &storage.Record{AccessToken: "a", RefreshToken: "r"}))

		require.Eventually(t, func() bool { return len(r.snapshot()) >= 1 }, 2*time.Second, 5*time.Millisecond, "iteration %d", i)
		require.NoError(t, s.Close())
	}
}

func TestStorageFeed_SubscribeFailsOnClosedStorage(t *testing.T) {
	ctx := context.Background()
	reader, err := sqlite.New(ctx, filepath.Join(t.TempDir(), "auth.db"))
	require.NoError(t, err)
	require.NoError(t, reader.Close())

	_, err = tabsync.NewStorageFeed(reader, time.Millisecond).Subscribe(ctx, func(tabsync.Event) {})
	assert.Error(t, err)
}
