package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"hash"
)

// IntegrityTag вычисляет контрольную сумму содержимого записи с токенами.
// Каждая часть предваряется длиной, чтобы ("ab","c") и ("a","bc") давали разные теги.
// Если key не пустой, используется HMAC-SHA256, иначе обычный SHA256.
func IntegrityTag(key []byte, parts ...string) string {
	var h hash.Hash
	if len(key) > 0 {
		h = hmac.New(sha256.New, key)
	} else {
		h = sha256.New()
	}

	var lenBuf [8]byte
	for _, p := range parts {
		binary.BigEndian.PutUint64(lenBuf[:], uint64(len(p)))
		h.Write(lenBuf[:])
		h.Write([]byte(p))
	}

	return hex.EncodeToString(h.Sum(nil))
}

// VerifyIntegrityTag пересчитывает тег и сравнивает его за постоянное время
func VerifyIntegrityTag(key []byte, tag string, parts ...string) bool {
	if tag == "" {
		return false
	}
	expected := IntegrityTag(key, parts...)
	return hmac.Equal([]byte(expected), []byte(tag))
}
