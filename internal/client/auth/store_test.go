package auth

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iudanet/edusession/internal/client/storage"
	"github.com/iudanet/edusession/internal/client/storage/memory"
	"github.com/iudanet/edusession/internal/client/token/tokentest"
	"github.com/iudanet/edusession/internal/crypto"
	"github.com/iudanet/edusession/internal/models"
)

var testNow = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestStore(t *testing.T, opts ...StoreOption) (*Store, *memory.Storage, *clockwork.FakeClock) {
	t.Helper()
	mem := memory.New()
	clock := clockwork.NewFakeClockAt(testNow)
	opts = append([]StoreOption{WithClock(clock), WithLogger(discardLogger())}, opts...)
	return NewStore(mem, opts...), mem, clock
}

func testPair(t *testing.T) models.TokenPair {
	return models.TokenPair{
		AccessToken:  tokentest.IssueTTL(t, testNow, time.Hour),
		RefreshToken: "opaque-refresh-token",
	}
}

func TestStore_SaveLoadRoundTrip(t *testing.T) {
	ctx := context.Background()
	store, _, _ := newTestStore(t)

	got, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Nil(t, got, "пустое хранилище")

	pair := testPair(t)
	require.NoError(t, store.Save(ctx, pair))

	got, err = store.Load(ctx)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, pair, *got)
}

func TestStore_SaveValidation(t *testing.T) {
	ctx := context.Background()
	valid := testPair(t)

	tests := []struct {
		name  string
		field string
		pair  models.TokenPair
	}{
		{name: "empty access", pair: models.TokenPair{RefreshToken: "r"}, field: "access token"},
		{name: "empty refresh", pair: models.TokenPair{AccessToken: valid.AccessToken}, field: "refresh token"},
		{name: "malformed access", pair: models.TokenPair{AccessToken: "not.a-token", RefreshToken: "r"}, field: "access token"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var changes []ChangeKind
			store, mem, _ := newTestStore(t, WithChangeHook(func(_ context.Context, k ChangeKind) {
				changes = append(changes, k)
			}))

			err := store.Save(ctx, tt.pair)
			var vErr *ValidationError
			require.ErrorAs(t, err, &vErr)
			assert.Equal(t, tt.field, vErr.Field)

			// Ничего не записано
			_, err = mem.GetRecord(ctx)
			assert.ErrorIs(t, err, storage.ErrAuthNotFound)
			assert.Empty(t, changes)
		})
	}
}

func TestStore_IntegrityViolationSelfHeals(t *testing.T) {
	ctx := context.Background()

	tamper := map[string]func(r *storage.Record){
		"tag":           func(r *storage.Record) { r.IntegrityTag = "deadbeef" },
		"empty tag":     func(r *storage.Record) { r.IntegrityTag = "" },
		"refresh bytes": func(r *storage.Record) { r.RefreshToken += "x" },
		"access bytes":  func(r *storage.Record) { r.AccessToken = tokentest.IssueTTL(t, testNow, 2*time.Hour) },
		"saved at":      func(r *storage.Record) { r.SavedAt = r.SavedAt.Add(time.Second) },
	}

	for name, mutate := range tamper {
		t.Run(name, func(t *testing.T) {
			store, mem, _ := newTestStore(t)
			require.NoError(t, store.Save(ctx, testPair(t)))
			require.NoError(t, mem.SaveProfile(ctx, &models.UserProfile{ID: "1"}))

			rec, err := mem.GetRecord(ctx)
			require.NoError(t, err)
			mutate(rec)
			require.NoError(t, mem.SaveRecord(ctx, rec))

			got, err := store.Load(ctx)
			require.NoError(t, err)
			assert.Nil(t, got)

			// Запись и профиль удалены
			_, err = mem.GetRecord(ctx)
			assert.ErrorIs(t, err, storage.ErrAuthNotFound)
			_, err = mem.GetProfile(ctx)
			assert.ErrorIs(t, err, storage.ErrProfileNotFound)

			got, err = store.Load(ctx)
			require.NoError(t, err)
			assert.Nil(t, got)
		})
	}
}

func TestStore_MalformedAccessWithValidTag(t *testing.T) {
	ctx := context.Background()
	store, mem, _ := newTestStore(t)

	pair := models.TokenPair{AccessToken: "garbage", RefreshToken: "r"}
	rec := &storage.Record{
		SavedAt:      testNow,
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		IntegrityTag: crypto.IntegrityTag(nil, tagParts(pair, testNow)...),
	}
	require.NoError(t, mem.SaveRecord(ctx, rec))

	got, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Nil(t, got)

	_, err = mem.GetRecord(ctx)
	assert.ErrorIs(t, err, storage.ErrAuthNotFound)
}

func TestStore_Retention(t *testing.T) {
	ctx := context.Background()
	store, mem, clock := newTestStore(t)
	require.NoError(t, store.Save(ctx, testPair(t)))

	// Ровно на границе запись еще принимается
	clock.Advance(DefaultRetention)
	got, err := store.Load(ctx)
	require.NoError(t, err)
	assert.NotNil(t, got)

	clock.Advance(time.Second)
	got, err = store.Load(ctx)
	require.NoError(t, err)
	assert.Nil(t, got)

	_, err = mem.GetRecord(ctx)
	assert.ErrorIs(t, err, storage.ErrAuthNotFound)
}

func TestStore_RetentionDisabled(t *testing.T) {
	ctx := context.Background()
	store, _, clock := newTestStore(t, WithRetention(0))
	require.NoError(t, store.Save(ctx, testPair(t)))

	clock.Advance(30 * 24 * time.Hour)
	got, err := store.Load(ctx)
	require.NoError(t, err)
	assert.NotNil(t, got)
}

func TestStore_Encryption(t *testing.T) {
	ctx := context.Background()
	store, mem, clock := newTestStore(t, WithPassphrase("device-secret"))

	pair := testPair(t)
	require.NoError(t, store.Save(ctx, pair))

	rec, err := mem.GetRecord(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, rec.KeySalt)
	assert.NotEqual(t, pair.AccessToken, rec.AccessToken)
	assert.NotEqual(t, pair.RefreshToken, rec.RefreshToken)

	got, err := store.Load(ctx)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, pair, *got)

	t.Run("another instance with the same passphrase", func(t *testing.T) {
		other := NewStore(mem, WithClock(clock), WithLogger(discardLogger()), WithPassphrase("device-secret"))
		got, err := other.Load(ctx)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, pair, *got)
	})

	t.Run("wrong passphrase discards", func(t *testing.T) {
		require.NoError(t, store.Save(ctx, pair))
		wrong := NewStore(mem, WithClock(clock), WithLogger(discardLogger()), WithPassphrase("other"))
		got, err := wrong.Load(ctx)
		require.NoError(t, err)
		assert.Nil(t, got)
		_, err = mem.GetRecord(ctx)
		assert.ErrorIs(t, err, storage.ErrAuthNotFound)
	})

	t.Run("missing passphrase discards", func(t *testing.T) {
		require.NoError(t, store.Save(ctx, pair))
		plain := NewStore(mem, WithClock(clock), WithLogger(discardLogger()))
		got, err := plain.Load(ctx)
		require.NoError(t, err)
		assert.Nil(t, got)
	})
}

func TestStore_ChangeHook(t *testing.T) {
	ctx := context.Background()
	var changes []ChangeKind
	store, _, _ := newTestStore(t, WithChangeHook(func(_ context.Context, k ChangeKind) {
		changes = append(changes, k)
	}))

	require.NoError(t, store.Save(ctx, testPair(t)))
	require.NoError(t, store.SaveProfile(ctx, models.UserProfile{ID: "1"}))
	store.Clear(ctx)

	assert.Equal(t, []ChangeKind{ChangeSaved, ChangeProfile, ChangeCleared}, changes)
	assert.Equal(t, "saved", ChangeSaved.String())
}

func TestStore_Profile(t *testing.T) {
	ctx := context.Background()
	store, _, _ := newTestStore(t)

	got, err := store.LoadProfile(ctx)
	require.NoError(t, err)
	assert.Nil(t, got)

	profile := models.UserProfile{ID: "1", Email: "s@example.com", Role: "student"}
	require.NoError(t, store.SaveProfile(ctx, profile))

	got, err = store.LoadProfile(ctx)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, profile, *got)

	store.Clear(ctx)
	got, err = store.LoadProfile(ctx)
	require.NoError(t, err)
	assert.Nil(t, got)
}

// failingStorage возвращает ошибки чтения и записи
type failingStorage struct {
	*memory.Storage
	getErr   error
	clearErr error
	cleared  int
}

func (f *failingStorage) GetRecord(ctx context.Context) (*storage.Record, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	return f.Storage.GetRecord(ctx)
}

func (f *failingStorage) Clear(ctx context.Context) error {
	f.cleared++
	if f.clearErr != nil {
		return f.clearErr
	}
	return f.Storage.Clear(ctx)
}

func TestStore_UnreadableRecord(t *testing.T) {
	ctx := context.Background()
	fs := &failingStorage{Storage: memory.New(), getErr: errors.New("failed to unmarshal auth data")}
	store := NewStore(fs, WithLogger(discardLogger()))

	got, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.Equal(t, 1, fs.cleared)
}

func TestStore_LoadCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	fs := &failingStorage{Storage: memory.New(), getErr: context.Canceled}
	store := NewStore(fs, WithLogger(discardLogger()))

	_, err := store.Load(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, fs.cleared, "отмена не должна стирать сессию")
}

func TestStore_ClearNeverFails(t *testing.T) {
	ctx := context.Background()
	fs := &failingStorage{Storage: memory.New(), clearErr: errors.New("disk full")}

	var changes []ChangeKind
	store := NewStore(fs, WithLogger(discardLogger()), WithChangeHook(func(_ context.Context, k ChangeKind) {
		changes = append(changes, k)
	}))

	assert.NotPanics(t, func() { store.Clear(ctx) })
	assert.Equal(t, []ChangeKind{ChangeCleared}, changes)
}
