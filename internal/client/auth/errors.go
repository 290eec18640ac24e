package auth

import (
	"errors"
	"fmt"
)

// ValidationError пара токенов отклонена до сохранения
type ValidationError struct {
	Err    error
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid %s: %s: %v", e.Field, e.Reason, e.Err)
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// TransientAuthError временная ошибка обновления (сеть, таймаут, 5xx).
// Сессия сохраняется, обновление повторяется с backoff.
type TransientAuthError struct {
	Err error
}

func (e *TransientAuthError) Error() string {
	return fmt.Sprintf("transient auth failure: %v", e.Err)
}

func (e *TransientAuthError) Unwrap() error { return e.Err }

// TerminalAuthError сервер отверг refresh токен. Сессия уничтожается, повторов нет.
type TerminalAuthError struct {
	Err    error
	Reason string
}

func (e *TerminalAuthError) Error() string {
	if e.Err == nil {
		return "terminal auth failure: " + e.Reason
	}
	return fmt.Sprintf("terminal auth failure: %s: %v", e.Reason, e.Err)
}

func (e *TerminalAuthError) Unwrap() error { return e.Err }

// IsTerminal true, если в цепочке есть TerminalAuthError
func IsTerminal(err error) bool {
	var t *TerminalAuthError
	return errors.As(err, &t)
}

// IsTransient true, если в цепочке есть TransientAuthError
func IsTransient(err error) bool {
	var t *TransientAuthError
	return errors.As(err, &t)
}

// LoginKind классификация ошибки входа для пользователя
type LoginKind int

const (
	LoginInvalidCredentials LoginKind = iota + 1
	LoginAccountInactive
	LoginRateLimited
	LoginInvalidInput
	LoginTransport
)

func (k LoginKind) String() string {
	switch k {
	case LoginInvalidCredentials:
		return "invalid credentials"
	case LoginAccountInactive:
		return "account inactive"
	case LoginRateLimited:
		return "rate limited"
	case LoginInvalidInput:
		return "invalid input"
	case LoginTransport:
		return "transport failure"
	default:
		return "unknown"
	}
}

// Сентинелы для errors.Is
var (
	ErrInvalidCredentials = &LoginError{Kind: LoginInvalidCredentials}
	ErrAccountInactive    = &LoginError{Kind: LoginAccountInactive}
	ErrRateLimited        = &LoginError{Kind: LoginRateLimited}
	ErrInvalidInput       = &LoginError{Kind: LoginInvalidInput}
	ErrTransport          = &LoginError{Kind: LoginTransport}
)

// LoginError ошибка входа. Message - текст от сервера или валидатора, если есть.
type LoginError struct {
	Err     error
	Message string
	Kind    LoginKind
}

func (e *LoginError) Error() string {
	msg := "login failed: " + e.Kind.String()
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *LoginError) Unwrap() error { return e.Err }

// Is сравнивает по виду ошибки
func (e *LoginError) Is(target error) bool {
	var t *LoginError
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}
