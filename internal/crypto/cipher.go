package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
)

const (
	// NonceSize - размер nonce для AES-GCM (12 bytes стандартный размер)
	NonceSize = 12
	// KeySize - размер ключа AES-256
	KeySize = 32
)

// ErrOpenFailed означает, что данные повреждены или зашифрованы другим ключом
var ErrOpenFailed = errors.New("failed to open sealed data")

func newGCM(key []byte) (cipher.AEAD, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("encryption key must be %d bytes, got %d", KeySize, len(key))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	aesGCM, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return aesGCM, nil
}

// Seal шифрует строку AES-256-GCM и возвращает base64(nonce + ciphertext + tag).
// aad привязывает шифротекст к контексту (например, к имени поля),
// чтобы access и refresh токены нельзя было поменять местами.
func Seal(plaintext string, key []byte, aad string) (string, error) {
	if plaintext == "" {
		return "", fmt.Errorf("plaintext cannot be empty")
	}

	aesGCM, err := newGCM(key)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	// Формат: nonce + ciphertext + auth_tag
	sealed := aesGCM.Seal(nonce, nonce, []byte(plaintext), []byte(aad))

	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Open расшифровывает результат Seal с тем же ключом и aad
func Open(sealed string, key []byte, aad string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(sealed)
	if err != nil {
		return "", fmt.Errorf("failed to decode base64: %w", err)
	}
	if len(raw) < NonceSize {
		return "", fmt.Errorf("sealed data too short")
	}

	aesGCM, err := newGCM(key)
	if err != nil {
		return "", err
	}

	plaintext, err := aesGCM.Open(nil, raw[:NonceSize], raw[NonceSize:], []byte(aad))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrOpenFailed, err)
	}

	return string(plaintext), nil
}
