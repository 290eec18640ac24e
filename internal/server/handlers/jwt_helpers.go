package handlers

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/iudanet/edusession/internal/models"
)

// DefaultIssuer значение iss в выпущенных access токенах
const DefaultIssuer = "edusession-authstub"

// CustomClaims представляет JWT claims access токена
type CustomClaims struct {
	Email string `json:"email"`
	Role  string `json:"role"`
	jwt.RegisteredClaims
}

// JWTConfig содержит конфигурацию для JWT
type JWTConfig struct {
	Issuer          string
	Secret          []byte
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
}

func (cfg JWTConfig) issuer() string {
	if cfg.Issuer == "" {
		return DefaultIssuer
	}
	return cfg.Issuer
}

// GenerateAccessToken создает новый JWT access token для пользователя.
// jti уникален, поэтому два токена, выпущенные в одну секунду, различаются.
func GenerateAccessToken(cfg JWTConfig, user *models.User, now time.Time) (string, error) {
	claims := CustomClaims{
		Email: user.Email,
		Role:  user.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			ID:        uuid.NewString(),
			ExpiresAt: jwt.NewNumericDate(now.Add(cfg.AccessTokenTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    cfg.issuer(),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(cfg.Secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}

	return tokenString, nil
}

// ValidateAccessToken проверяет подпись, issuer и сроки access token на момент now
func ValidateAccessToken(cfg JWTConfig, tokenString string, now time.Time) (*CustomClaims, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(cfg.issuer()),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(func() time.Time { return now }),
	)

	claims := &CustomClaims{}
	if _, err := parser.ParseWithClaims(tokenString, claims, func(*jwt.Token) (any, error) {
		return cfg.Secret, nil
	}); err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("token has no subject")
	}
	return claims, nil
}

// GenerateRefreshToken выдает непрозрачный refresh token и момент его истечения
func GenerateRefreshToken(cfg JWTConfig, now time.Time) (string, time.Time, error) {
	var raw [32]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return "", time.Time{}, fmt.Errorf("failed to generate random token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(raw[:]), now.Add(cfg.RefreshTokenTTL), nil
}
