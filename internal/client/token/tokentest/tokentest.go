// Package tokentest выпускает JWT для тестов клиентских пакетов.
package tokentest

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

var signingKey = []byte("tokentest-signing-key")

// Issue выпускает HS256 токен с iat/exp
func Issue(t testing.TB, issuedAt, expiresAt time.Time) string {
	t.Helper()

	claims := jwt.RegisteredClaims{
		ID:        uuid.NewString(), // два токена с одинаковыми iat/exp все равно различаются
		Subject:   "user-1",
		IssuedAt:  jwt.NewNumericDate(issuedAt),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(signingKey)
	require.NoError(t, err)
	return tok
}

// IssueTTL выпускает токен, выданный в now и живущий ttl
func IssueTTL(t testing.TB, now time.Time, ttl time.Duration) string {
	t.Helper()
	return Issue(t, now, now.Add(ttl))
}

// IssueWithoutIAT выпускает токен только с exp
func IssueWithoutIAT(t testing.TB, expiresAt time.Time) string {
	t.Helper()

	claims := jwt.RegisteredClaims{ID: uuid.NewString(), ExpiresAt: jwt.NewNumericDate(expiresAt)}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(signingKey)
	require.NoError(t, err)
	return tok
}
