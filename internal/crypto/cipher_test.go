package crypto

import (
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSealOpen(t *testing.T) {
	// Генерируем валидный ключ (32 bytes)
	validKey := make([]byte, KeySize)
	_, _ = rand.Read(validKey)

	tests := []struct {
		name      string
		errMsg    string
		plaintext string
		key       []byte
		wantErr   bool
	}{
		{
			name:      "jwt access token",
			plaintext: "eyJhbGciOiJIUzI1NiJ9.eyJleHAiOjE3MDAwMDAwMDB9.c2ln",
			key:       validKey,
		},
		{
			name:      "empty plaintext",
			plaintext: "",
			key:       validKey,
			wantErr:   true,
			errMsg:    "plaintext cannot be empty",
		},
		{
			name:      "invalid key length",
			plaintext: "token",
			key:       make([]byte, 16), // неправильная длина
			wantErr:   true,
			errMsg:    "encryption key must be 32 bytes",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sealed, err := Seal(tt.plaintext, tt.key, "access")
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errMsg)
				return
			}
			require.NoError(t, err)
			assert.NotEqual(t, tt.plaintext, sealed)

			opened, err := Open(sealed, tt.key, "access")
			require.NoError(t, err)
			assert.Equal(t, tt.plaintext, opened)
		})
	}
}

func TestSeal_RandomNonce(t *testing.T) {
	key := make([]byte, KeySize)

	a, err := Seal("same", key, "")
	require.NoError(t, err)
	b, err := Seal("same", key, "")
	require.NoError(t, err)

	// Разные nonce - разные шифротексты
	assert.NotEqual(t, a, b)
}

func TestOpen_Failures(t *testing.T) {
	key := make([]byte, KeySize)
	otherKey := make([]byte, KeySize)
	otherKey[0] = 1

	sealed, err := Seal("refresh-token", key, "refresh")
	require.NoError(t, err)

	t.Run("wrong key", func(t *testing.T) {
		_, err := Open(sealed, otherKey, "refresh")
		assert.ErrorIs(t, err, ErrOpenFailed)
	})

	t.Run("wrong aad", func(t *testing.T) {
		_, err := Open(sealed, key, "access")
		assert.ErrorIs(t, err, ErrOpenFailed)
	})

	t.Run("not base64", func(t *testing.T) {
		_, err := Open("%%%", key, "refresh")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to decode base64")
	})

	t.Run("too short", func(t *testing.T) {
		_, err := Open("AAAA", key, "refresh")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "too short")
	})
}
