package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iudanet/edusession/internal/client/storage"
	"github.com/iudanet/edusession/internal/models"
)

func TestStorage_Record(t *testing.T) {
	ctx := context.Background()
	s := New()

	_, err := s.GetRecord(ctx)
	assert.ErrorIs(t, err, storage.ErrAuthNotFound)

	rec := &storage.Record{AccessToken: "a", RefreshToken: "r"}
	require.NoError(t, s.SaveRecord(ctx, rec))

	// Хранилище держит копию
	rec.AccessToken = "mutated"
	got, err := s.GetRecord(ctx)
	require.NoError(t, err)
	assert.Equal(t, "a", got.AccessToken)

	got.RefreshToken = "mutated"
	again, err := s.GetRecord(ctx)
	require.NoError(t, err)
	assert.Equal(t, "r", again.RefreshToken)

	require.NoError(t, s.DeleteRecord(ctx))
	_, err = s.GetRecord(ctx)
	assert.ErrorIs(t, err, storage.ErrAuthNotFound)
}

func TestStorage_ProfileCopies(t *testing.T) {
	ctx := context.Background()
	s := New()

	profile := &models.UserProfile{ID: "1", Attributes: map[string]string{"k": "v"}}
	require.NoError(t, s.SaveProfile(ctx, profile))
	profile.Attributes["k"] = "changed"

	got, err := s.GetProfile(ctx)
	require.NoError(t, err)
	assert.Equal(t, "v", got.Attributes["k"])

	require.NoError(t, s.Clear(ctx))
	_, err = s.GetProfile(ctx)
	assert.ErrorIs(t, err, storage.ErrProfileNotFound)
}
