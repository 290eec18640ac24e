package crypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateSalt(t *testing.T) {
	salt1, err := GenerateSalt()
	require.NoError(t, err)
	assert.Len(t, salt1, SaltSize)

	salt2, err := GenerateSalt()
	require.NoError(t, err)
	assert.NotEqual(t, salt1, salt2, "соли должны различаться")
}

func TestDeriveStoreKey(t *testing.T) {
	salt := make([]byte, SaltSize)
	for i := range salt {
		salt[i] = byte(i) // заполняем тестовыми данными
	}

	tests := []struct {
		name       string
		passphrase string
		errMsg     string
		salt       []byte
		wantErr    bool
	}{
		{name: "successful derivation", passphrase: "device-secret", salt: salt},
		{name: "empty passphrase", passphrase: "", salt: salt, wantErr: true, errMsg: "passphrase cannot be empty"},
		{name: "invalid salt length", passphrase: "device-secret", salt: make([]byte, 8), wantErr: true, errMsg: "salt must be"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key, err := DeriveStoreKey(tt.passphrase, tt.salt)
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errMsg)
				assert.Nil(t, key)
				return
			}
			require.NoError(t, err)
			assert.Len(t, key, KeySize)
		})
	}
}

func TestDeriveStoreKey_Determinism(t *testing.T) {
	salt := make([]byte, SaltSize)

	k1, err := DeriveStoreKey("secret", salt)
	require.NoError(t, err)
	k2, err := DeriveStoreKey("secret", salt)
	require.NoError(t, err)
	assert.Equal(t, k1, k2)

	otherSalt := make([]byte, SaltSize)
	otherSalt[0] = 1
	k3, err := DeriveStoreKey("secret", otherSalt)
	require.NoError(t, err)
	assert.NotEqual(t, k1, k3, "разные соли должны давать разные ключи")

	k4, err := DeriveStoreKey("other", salt)
	require.NoError(t, err)
	assert.NotEqual(t, k1, k4, "разные фразы должны давать разные ключи")
}
