// Package refresh решает, когда обновлять access token, и гарантирует,
// что в каждый момент идет не больше одного обновления.
package refresh

import (
	"time"

	"github.com/iudanet/edusession/internal/client/token"
)

// Config параметры планирования и повторов
type Config struct {
	RefreshTimeout time.Duration // предел одного обмена refresh токена
	RetryBase      time.Duration // первая задержка повтора
	RetryMax       time.Duration // максимальная задержка повтора
	MinBuffer      time.Duration
	MaxBuffer      time.Duration
	Floor          time.Duration // минимальная задержка таймера
	CheckInterval  time.Duration // период проверки живости
	ExpiryHorizon  time.Duration
	BufferRatio    float64 // доля срока жизни, за которую начинается обновление
	RetryAttempts  uint64
}

// DefaultConfig возвращает параметры по умолчанию
func DefaultConfig() Config {
	return Config{
		RefreshTimeout: 15 * time.Second,
		RetryBase:      time.Second,
		RetryMax:       5 * time.Second,
		RetryAttempts:  3,
		BufferRatio:    0.2,
		MinBuffer:      15 * time.Minute,
		MaxBuffer:      20 * time.Minute,
		Floor:          time.Minute,
		CheckInterval:  60 * time.Second,
		ExpiryHorizon:  token.DefaultExpiryHorizon,
	}
}

// NextRefreshDelay возвращает задержку до следующего обновления.
// 0 означает "обновлять сейчас".
//
// buffer = clamp(BufferRatio * lifetime, MinBuffer, MaxBuffer), но не больше
// половины lifetime: только что выданный короткий токен не обновляется сразу.
// Если iat отсутствует, lifetime считается равным оставшемуся времени.
func NextRefreshDelay(claims token.Claims, now time.Time, cfg Config) time.Duration {
	remaining := claims.ExpiresAt.Sub(now)
	if remaining <= 0 {
		return 0
	}

	lifetime := claims.Lifetime()
	if lifetime <= 0 {
		lifetime = remaining
	}

	buffer := time.Duration(float64(lifetime) * cfg.BufferRatio)
	buffer = max(buffer, cfg.MinBuffer)
	buffer = min(buffer, cfg.MaxBuffer, lifetime/2)

	delay := remaining - buffer
	if delay <= 0 {
		return 0
	}

	delay = max(delay, cfg.Floor)
	return min(delay, remaining)
}
