package validation

import (
	"fmt"
	"regexp"
	"strings"
)

// EmailPattern упрощенная проверка email: local@domain.tld без пробелов
var EmailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

const (
	// MaxEmailLen максимальная длина email (RFC 5321)
	MaxEmailLen = 254
	// MaxPasswordLen защищает шлюз от мегабайтных паролей
	MaxPasswordLen = 256
)

// ValidateEmail проверяет email перед отправкой на сервер
func ValidateEmail(email string) error {
	if strings.TrimSpace(email) == "" {
		return fmt.Errorf("email cannot be empty")
	}

	if len(email) > MaxEmailLen {
		return fmt.Errorf("email must not exceed %d characters", MaxEmailLen)
	}

	if !EmailPattern.MatchString(email) {
		return fmt.Errorf("email must look like name@domain.tld")
	}

	return nil
}

// ValidatePassword проверяет только наличие пароля.
// Требования к сложности проверяет сервер при регистрации, а не клиент при входе.
func ValidatePassword(password string) error {
	if password == "" {
		return fmt.Errorf("password cannot be empty")
	}

	if len(password) > MaxPasswordLen {
		return fmt.Errorf("password must not exceed %d characters", MaxPasswordLen)
	}

	return nil
}
