package boltdb

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.etcd.io/bbolt"

	"github.com/iudanet/edusession/internal/client/storage"
	"github.com/iudanet/edusession/internal/models"
)

// создаём тестовое BoltDB хранилище
func createTestAuthStorage(t *testing.T) *Storage {
	t.Helper()

	store, err := New(context.Background(), filepath.Join(t.TempDir(), "auth_test.db"))
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, store.Close())
	})
	return store
}

func TestStorage_SaveGetDeleteRecord(t *testing.T) {
	ctx := context.Background()
	store := createTestAuthStorage(t)

	rec := &storage.Record{
		SavedAt:      time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC),
		AccessToken:  "access-token",
		RefreshToken: "refresh-token",
		IntegrityTag: "tag",
	}

	// До сохранения записи нет
	_, err := store.GetRecord(ctx)
	assert.ErrorIs(t, err, storage.ErrAuthNotFound)

	require.NoError(t, store.SaveRecord(ctx, rec))

	got, err := store.GetRecord(ctx)
	require.NoError(t, err)
	assert.Equal(t, rec.AccessToken, got.AccessToken)
	assert.Equal(t, rec.RefreshToken, got.RefreshToken)
	assert.Equal(t, rec.IntegrityTag, got.IntegrityTag)
	assert.True(t, rec.SavedAt.Equal(got.SavedAt))

	// Перезапись заменяет запись целиком
	rec2 := &storage.Record{AccessToken: "a2", RefreshToken: "r2", KeySalt: "salt"}
	require.NoError(t, store.SaveRecord(ctx, rec2))
	got, err = store.GetRecord(ctx)
	require.NoError(t, err)
	assert.Equal(t, "a2", got.AccessToken)
	assert.Equal(t, "salt", got.KeySalt)
	assert.Empty(t, got.IntegrityTag)

	require.NoError(t, store.DeleteRecord(ctx))
	_, err = store.GetRecord(ctx)
	assert.ErrorIs(t, err, storage.ErrAuthNotFound)

	// Удаление отсутствующей записи не ошибка
	assert.NoError(t, store.DeleteRecord(ctx))
}

func TestStorage_Profile(t *testing.T) {
	ctx := context.Background()
	store := createTestAuthStorage(t)

	_, err := store.GetProfile(ctx)
	assert.ErrorIs(t, err, storage.ErrProfileNotFound)

	profile := &models.UserProfile{
		ID:         "42",
		Email:      "student@example.com",
		Role:       "student",
		Attributes: map[string]string{"grade": "7"},
	}
	require.NoError(t, store.SaveProfile(ctx, profile))

	got, err := store.GetProfile(ctx)
	require.NoError(t, err)
	assert.Equal(t, profile, got)
}

func TestStorage_Clear(t *testing.T) {
	ctx := context.Background()
	store := createTestAuthStorage(t)

	require.NoError(t, store.SaveRecord(ctx, &storage.Record{AccessToken: "a", RefreshToken: "r"}))
	require.NoError(t, store.SaveProfile(ctx, &models.UserProfile{ID: "1"}))

	require.NoError(t, store.Clear(ctx))

	_, err := store.GetRecord(ctx)
	assert.ErrorIs(t, err, storage.ErrAuthNotFound)
	_, err = store.GetProfile(ctx)
	assert.ErrorIs(t, err, storage.ErrProfileNotFound)

	// Clear на пустом хранилище
	assert.NoError(t, store.Clear(ctx))
}

func TestStorage_Persistence(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "persist.db")

	store, err := New(ctx, dbPath)
	require.NoError(t, err)
	require.NoError(t, store.SaveRecord(ctx, &storage.Record{AccessToken: "a", RefreshToken: "r"}))
	require.NoError(t, store.Close())

	// Запись переживает перезапуск
	reopened, err := New(ctx, dbPath)
	require.NoError(t, err)
	defer reopened.Close()

	got, err := reopened.GetRecord(ctx)
	require.NoError(t, err)
	assert.Equal(t, "a", got.AccessToken)
}

func TestStorage_BucketMissing(t *testing.T) {
	ctx := context.Background()
	store := createTestAuthStorage(t)

	// Удаляем bucket auth напрямую
	err := store.db.Update(func(tx *bbolt.Tx) error {
		return tx.DeleteBucket(bucketAuth)
	})
	require.NoError(t, err)

	_, err = store.GetRecord(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "auth bucket not found")

	err = store.SaveRecord(ctx, &storage.Record{AccessToken: "a"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "auth bucket not found")

	err = store.Clear(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "auth bucket not found")
}

func TestStorage_CorruptedRecord(t *testing.T) {
	ctx := context.Background()
	store := createTestAuthStorage(t)

	err := store.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketAuth).Put(currentKey, []byte("{not json"))
	})
	require.NoError(t, err)

	_, err = store.GetRecord(ctx)
	require.Error(t, err)
	assert.NotErrorIs(t, err, storage.ErrAuthNotFound)
	assert.Contains(t, err.Error(), "failed to unmarshal")
}
