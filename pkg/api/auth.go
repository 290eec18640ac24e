package api

// LoginRequest представляет запрос на аутентификацию (POST /auth/login)
type LoginRequest struct {
	Email    string `json:"email"`    // email пользователя
	Password string `json:"password"` // пароль в открытом виде (только поверх TLS)
}

// TokensPayload пара токенов в ответе на логин
type TokensPayload struct {
	Access  string `json:"access"`  // JWT access token
	Refresh string `json:"refresh"` // refresh token
}

// UserPayload профиль пользователя в ответе на логин
type UserPayload struct {
	Attributes map[string]string `json:"attributes,omitempty"`
	ID         string            `json:"id"`
	Email      string            `json:"email"`
	Role       string            `json:"role"`
	FullName   string            `json:"full_name,omitempty"`
}

// LoginResponse представляет успешный ответ на логин
type LoginResponse struct {
	User   UserPayload   `json:"user"`
	Tokens TokensPayload `json:"tokens"`
}

// RefreshRequest представляет запрос на обновление токена (POST /auth/token/refresh)
type RefreshRequest struct {
	Refresh string `json:"refresh"`
}

// RefreshResponse ответ на обновление; Refresh пустой, если сервер не ротирует refresh token
type RefreshResponse struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh,omitempty"`
}

// LogoutRequest представляет запрос на отзыв refresh token (POST /auth/logout)
type LogoutRequest struct {
	Refresh string `json:"refresh"`
}

// ErrorResponse представляет ответ с ошибкой.
// Code и Detail используются для классификации ошибок обновления токена.
type ErrorResponse struct {
	Error   string `json:"error,omitempty"`   // краткое описание ошибки
	Code    string `json:"code,omitempty"`    // машиночитаемый код (token_not_valid, invalid_credentials, ...)
	Detail  string `json:"detail,omitempty"`  // подробности от сервера
	Message string `json:"message,omitempty"` // дополнительное сообщение
}

// Коды ошибок, которые возвращает шлюз аутентификации
const (
	CodeInvalidCredentials = "invalid_credentials"
	CodeAccountInactive    = "account_inactive"
	CodeAccountLocked      = "account_locked"
	CodeRateLimited        = "rate_limited"
	CodeValidation         = "validation_error"
	CodeTokenNotValid      = "token_not_valid"
	CodeTokenBlacklisted   = "token_blacklisted"
	CodeTokenExpired       = "token_expired"
)

// Пути эндпоинтов шлюза относительно базового URL
const (
	PathLogin   = "/auth/login"
	PathRefresh = "/auth/token/refresh"
	PathLogout  = "/auth/logout"

	// PathLogoutAll отзывает все refresh токены пользователя (требует bearer)
	PathLogoutAll = "/auth/logout/all"

	// PathMe возвращает профиль владельца access токена (требует bearer)
	PathMe = "/auth/me"

	// PathHealth проверка живости шлюза
	PathHealth = "/health"
)

// LogoutAllResponse ответ на отзыв всех сессий
type LogoutAllResponse struct {
	Revoked int `json:"revoked"`
}
