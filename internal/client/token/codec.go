// Package token декодирует bearer токены на клиенте.
//
// Подпись не проверяется: клиент не является границей доверия, ему нужны
// только структура токена и claims iat/exp для планирования обновления.
// Любая ошибка декодирования трактуется как "токен уже истек".
package token

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultExpiryHorizon - за сколько до истечения токен считается "скоро истекающим"
const DefaultExpiryHorizon = 10 * time.Minute

// Kind вид ошибки декодирования
type Kind int

const (
	// KindMalformedStructure - неверное число сегментов или нечитаемый заголовок
	KindMalformedStructure Kind = iota + 1
	// KindMalformedPayload - payload не декодируется или в нем нет корректного exp
	KindMalformedPayload
)

func (k Kind) String() string {
	switch k {
	case KindMalformedStructure:
		return "malformed structure"
	case KindMalformedPayload:
		return "malformed payload"
	default:
		return "unknown"
	}
}

// Сентинелы для errors.Is
var (
	ErrMalformedStructure = &DecodeError{Kind: KindMalformedStructure}
	ErrMalformedPayload   = &DecodeError{Kind: KindMalformedPayload}
)

// DecodeError ошибка декодирования токена
type DecodeError struct {
	Err  error
	Kind Kind
}

func (e *DecodeError) Error() string {
	if e.Err == nil {
		return "token: " + e.Kind.String()
	}
	return fmt.Sprintf("token: %s: %v", e.Kind, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// Is сравнивает ошибки по виду, чтобы errors.Is(err, ErrMalformedPayload) работал
func (e *DecodeError) Is(target error) bool {
	var t *DecodeError
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

// Claims - то, что клиент знает о токене
type Claims struct {
	IssuedAt  time.Time // нулевое значение, если iat отсутствует
	ExpiresAt time.Time
	Subject   string
}

// Lifetime полный срок жизни токена; 0, если iat неизвестен
func (c Claims) Lifetime() time.Duration {
	if c.IssuedAt.IsZero() {
		return 0
	}
	return c.ExpiresAt.Sub(c.IssuedAt)
}

var parser = jwt.NewParser()

// Decode разбирает токен и возвращает claims
func Decode(tok string) (Claims, error) {
	// 1. Структура: header.payload.signature
	parts := strings.Split(tok, ".")
	if len(parts) != 3 {
		return Claims{}, &DecodeError{Kind: KindMalformedStructure, Err: fmt.Errorf("expected 3 segments, got %d", len(parts))}
	}
	if parts[0] == "" || parts[1] == "" {
		return Claims{}, &DecodeError{Kind: KindMalformedStructure, Err: errors.New("empty segment")}
	}

	// 2. Заголовок не разбираем: alg и typ клиенту не нужны, подпись не проверяется.
	// Payload: base64url JSON с registered claims
	payload, err := parser.DecodeSegment(parts[1])
	if err != nil {
		return Claims{}, &DecodeError{Kind: KindMalformedPayload, Err: fmt.Errorf("payload: %w", err)}
	}
	var registered jwt.RegisteredClaims
	if err := json.Unmarshal(payload, &registered); err != nil {
		return Claims{}, &DecodeError{Kind: KindMalformedPayload, Err: fmt.Errorf("payload: %w", err)}
	}

	if registered.ExpiresAt == nil {
		return Claims{}, &DecodeError{Kind: KindMalformedPayload, Err: errors.New("missing exp claim")}
	}

	claims := Claims{
		ExpiresAt: registered.ExpiresAt.Time.UTC(),
		Subject:   registered.Subject,
	}
	if registered.IssuedAt != nil {
		claims.IssuedAt = registered.IssuedAt.Time.UTC()
		if !claims.ExpiresAt.After(claims.IssuedAt) {
			return Claims{}, &DecodeError{Kind: KindMalformedPayload, Err: errors.New("exp must be after iat")}
		}
	}

	return claims, nil
}

// DecodeExpiry возвращает момент истечения токена
func DecodeExpiry(tok string) (time.Time, error) {
	claims, err := Decode(tok)
	if err != nil {
		return time.Time{}, err
	}
	return claims.ExpiresAt, nil
}

// ValidateStructure проверяет, что токен можно декодировать
func ValidateStructure(tok string) error {
	_, err := Decode(tok)
	return err
}

// IsExpired true, если токен не декодируется или now >= exp
func IsExpired(tok string, now time.Time) bool {
	exp, err := DecodeExpiry(tok)
	if err != nil {
		return true
	}
	return !now.Before(exp)
}

// IsExpiringSoon true, если токен еще действителен, но истечет раньше чем через horizon
func IsExpiringSoon(tok string, now time.Time, horizon time.Duration) bool {
	exp, err := DecodeExpiry(tok)
	if err != nil {
		return false
	}
	if !now.Before(exp) {
		return false
	}
	return exp.Sub(now) < horizon
}

// NeedsRefresh true, если токен истек или скоро истечет
func NeedsRefresh(tok string, now time.Time, horizon time.Duration) bool {
	return IsExpired(tok, now) || IsExpiringSoon(tok, now, horizon)
}
