package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/iudanet/edusession/internal/client/auth"
	"github.com/iudanet/edusession/pkg/api"
)

// Маркеры в теле ответа, по которым отказ в обновлении считается окончательным
var terminalMarkers = []string{"expired", "invalid", "token_not_valid", "blacklisted"}

// ClassifyRefreshFailure делит ошибки обновления на окончательные и временные.
// Окончательная - только явный отказ сервера (400/401/403 с маркером в code,
// detail или message). Все остальное, включая 401 без маркера, временное.
func ClassifyRefreshFailure(err error) error {
	if err == nil {
		return nil
	}
	if auth.IsTerminal(err) || auth.IsTransient(err) {
		return err
	}

	var statusErr *StatusError
	if !errors.As(err, &statusErr) {
		return &auth.TransientAuthError{Err: err}
	}

	switch statusErr.StatusCode {
	case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden:
		if reason, ok := terminalReason(statusErr.Body); ok {
			return &auth.TerminalAuthError{Reason: reason, Err: err}
		}
	}
	return &auth.TransientAuthError{Err: err}
}

func terminalReason(body api.ErrorResponse) (string, bool) {
	for _, field := range []string{body.Code, body.Detail, body.Message, body.Error} {
		lower := strings.ToLower(field)
		for _, marker := range terminalMarkers {
			if strings.Contains(lower, marker) {
				return field, true
			}
		}
	}
	return "", false
}

// ClassifyLoginFailure переводит ошибку шлюза в ошибку входа для пользователя
func ClassifyLoginFailure(err error) *auth.LoginError {
	if err == nil {
		return nil
	}

	var loginErr *auth.LoginError
	if errors.As(err, &loginErr) {
		return loginErr
	}

	var statusErr *StatusError
	if !errors.As(err, &statusErr) {
		return &auth.LoginError{Kind: auth.LoginTransport, Err: err}
	}

	body := statusErr.Body
	msg := firstNonEmpty(body.Message, body.Detail, body.Error)
	var kind auth.LoginKind

	switch {
	case statusErr.StatusCode == http.StatusTooManyRequests || body.Code == api.CodeRateLimited:
		kind = auth.LoginRateLimited
	case body.Code == api.CodeAccountInactive || body.Code == api.CodeAccountLocked || mentionsInactive(msg):
		kind = auth.LoginAccountInactive
	case body.Code == api.CodeValidation:
		kind = auth.LoginInvalidInput
	case statusErr.StatusCode >= http.StatusInternalServerError:
		kind = auth.LoginTransport
	case statusErr.StatusCode == http.StatusBadRequest, statusErr.StatusCode == http.StatusUnauthorized,
		statusErr.StatusCode == http.StatusForbidden:
		kind = auth.LoginInvalidCredentials
	default:
		kind = auth.LoginTransport
	}

	return &auth.LoginError{Kind: kind, Message: msg, Err: err}
}

func mentionsInactive(msg string) bool {
	lower := strings.ToLower(msg)
	return strings.Contains(lower, "inactive") || strings.Contains(lower, "disabled") || strings.Contains(lower, "locked")
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
