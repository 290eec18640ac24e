package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/jonboulle/clockwork"
	"golang.org/x/crypto/bcrypt"

	"github.com/iudanet/edusession/internal/models"
	"github.com/iudanet/edusession/internal/server/storage"
	"github.com/iudanet/edusession/internal/validation"
	"github.com/iudanet/edusession/pkg/api"
)

type contextKey string

// UserIDKey ключ для хранения user_id в контексте
const UserIDKey contextKey = "user_id"

// UserIDFromContext возвращает user_id, положенный AuthMiddleware
func UserIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(UserIDKey).(string)
	return id, ok && id != ""
}

// Тексты detail, которые клиент использует для классификации отказа
const (
	detailTokenInvalid     = "Token is invalid or expired"
	detailTokenBlacklisted = "Token is blacklisted"
	detailTokenExpired     = "Token is expired"
	detailUserInactive     = "User is inactive"
)

// AuthHandler обрабатывает запросы аутентификации
type AuthHandler struct {
	logger       *slog.Logger
	userStorage  storage.UserStorage
	tokenStorage storage.TokenStorage
	clock        clockwork.Clock
	jwtConfig    JWTConfig
	rotate       bool
}

// Option настраивает AuthHandler
type Option func(*AuthHandler)

// WithClock подменяет часы (для тестов)
func WithClock(clock clockwork.Clock) Option {
	return func(h *AuthHandler) {
		h.clock = clock
	}
}

// WithRotation включает или выключает ротацию refresh token при обновлении.
// Без ротации ответ на refresh не содержит нового refresh token.
func WithRotation(rotate bool) Option {
	return func(h *AuthHandler) {
		h.rotate = rotate
	}
}

// NewAuthHandler создает новый AuthHandler
func NewAuthHandler(
	logger *slog.Logger,
	userStorage storage.UserStorage,
	tokenStorage storage.TokenStorage,
	jwtConfig JWTConfig,
	opts ...Option,
) *AuthHandler {
	h := &AuthHandler{
		logger:       logger,
		userStorage:  userStorage,
		tokenStorage: tokenStorage,
		jwtConfig:    jwtConfig,
		clock:        clockwork.NewRealClock(),
		rotate:       true,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Login обрабатывает POST /auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req api.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.WarnContext(ctx, "failed to decode login request", slog.Any("error", err))
		h.sendError(w, http.StatusBadRequest, api.CodeValidation, "invalid request body")
		return
	}

	if err := validation.ValidateEmail(req.Email); err != nil {
		h.sendError(w, http.StatusBadRequest, api.CodeValidation, err.Error())
		return
	}
	if err := validation.ValidatePassword(req.Password); err != nil {
		h.sendError(w, http.StatusBadRequest, api.CodeValidation, err.Error())
		return
	}

	user, err := h.userStorage.GetUserByEmail(ctx, req.Email)
	if err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			h.logger.WarnContext(ctx, "login for unknown email")
			h.sendError(w, http.StatusUnauthorized, api.CodeInvalidCredentials, "invalid email or password")
			return
		}
		h.logger.ErrorContext(ctx, "failed to get user", slog.Any("error", err))
		h.sendError(w, http.StatusInternalServerError, "", "internal server error")
		return
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		h.logger.WarnContext(ctx, "invalid password", slog.String("user_id", user.ID))
		h.sendError(w, http.StatusUnauthorized, api.CodeInvalidCredentials, "invalid email or password")
		return
	}

	if !user.Active {
		h.sendError(w, http.StatusForbidden, api.CodeAccountInactive, "account is inactive")
		return
	}

	now := h.clock.Now()
	tokens, ok := h.issue(ctx, w, user)
	if !ok {
		return
	}

	if err := h.userStorage.UpdateLastLogin(ctx, user.ID, now); err != nil {
		// не критично, вход уже состоялся
		h.logger.WarnContext(ctx, "failed to update last login", slog.Any("error", err))
	}

	h.logger.InfoContext(ctx, "user logged in", slog.String("user_id", user.ID))

	h.sendJSON(w, api.LoginResponse{
		User:   userPayload(user),
		Tokens: tokens,
	}, http.StatusOK)
}

// issue выпускает access и refresh токены и сохраняет refresh
func (h *AuthHandler) issue(ctx context.Context, w http.ResponseWriter, user *models.User) (api.TokensPayload, bool) {
	now := h.clock.Now()

	access, err := GenerateAccessToken(h.jwtConfig, user, now)
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to generate access token", slog.Any("error", err))
		h.sendError(w, http.StatusInternalServerError, "", "internal server error")
		return api.TokensPayload{}, false
	}

	refresh, expiresAt, err := GenerateRefreshToken(h.jwtConfig, now)
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to generate refresh token", slog.Any("error", err))
		h.sendError(w, http.StatusInternalServerError, "", "internal server error")
		return api.TokensPayload{}, false
	}

	if err := h.tokenStorage.SaveRefreshToken(ctx, &models.RefreshToken{
		Token:     refresh,
		UserID:    user.ID,
		ExpiresAt: expiresAt,
		CreatedAt: now,
	}); err != nil {
		h.logger.ErrorContext(ctx, "failed to save refresh token", slog.Any("error", err))
		h.sendError(w, http.StatusInternalServerError, "", "internal server error")
		return api.TokensPayload{}, false
	}

	return api.TokensPayload{Access: access, Refresh: refresh}, true
}

// Refresh обрабатывает POST /auth/token/refresh.
// При ротации старый refresh token отзывается до выпуска нового, поэтому из
// двух одновременных запросов с одним токеном успешен только один.
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req api.RefreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.Refresh) == "" {
		h.sendError(w, http.StatusBadRequest, api.CodeTokenNotValid, detailTokenInvalid)
		return
	}

	stored, err := h.tokenStorage.GetRefreshToken(ctx, req.Refresh)
	if err != nil {
		if errors.Is(err, storage.ErrTokenNotFound) {
			h.sendError(w, http.StatusUnauthorized, api.CodeTokenNotValid, detailTokenInvalid)
			return
		}
		h.logger.ErrorContext(ctx, "failed to get refresh token", slog.Any("error", err))
		h.sendError(w, http.StatusInternalServerError, "", "internal server error")
		return
	}

	now := h.clock.Now()
	switch {
	case stored.Revoked():
		h.logger.WarnContext(ctx, "revoked refresh token presented", slog.String("user_id", stored.UserID))
		h.sendError(w, http.StatusUnauthorized, api.CodeTokenBlacklisted, detailTokenBlacklisted)
		return
	case stored.Expired(now):
		h.sendError(w, http.StatusUnauthorized, api.CodeTokenExpired, detailTokenExpired)
		return
	}

	user, err := h.userStorage.GetUserByID(ctx, stored.UserID)
	if err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			h.sendError(w, http.StatusUnauthorized, api.CodeTokenNotValid, detailTokenInvalid)
			return
		}
		h.logger.ErrorContext(ctx, "failed to get user", slog.Any("error", err))
		h.sendError(w, http.StatusInternalServerError, "", "internal server error")
		return
	}
	if !user.Active {
		h.sendError(w, http.StatusUnauthorized, api.CodeTokenNotValid, detailUserInactive)
		return
	}

	if !h.rotate {
		access, err := GenerateAccessToken(h.jwtConfig, user, now)
		if err != nil {
			h.logger.ErrorContext(ctx, "failed to generate access token", slog.Any("error", err))
			h.sendError(w, http.StatusInternalServerError, "", "internal server error")
			return
		}
		h.sendJSON(w, api.RefreshResponse{Access: access}, http.StatusOK)
		return
	}

	if err := h.tokenStorage.RevokeRefreshToken(ctx, req.Refresh, now); err != nil {
		if errors.Is(err, storage.ErrTokenNotFound) {
			// проиграли гонку параллельному обновлению
			h.sendError(w, http.StatusUnauthorized, api.CodeTokenBlacklisted, detailTokenBlacklisted)
			return
		}
		h.logger.ErrorContext(ctx, "failed to revoke refresh token", slog.Any("error", err))
		h.sendError(w, http.StatusInternalServerError, "", "internal server error")
		return
	}

	tokens, ok := h.issue(ctx, w, user)
	if !ok {
		return
	}

	h.logger.InfoContext(ctx, "tokens refreshed", slog.String("user_id", user.ID))

	h.sendJSON(w, api.RefreshResponse{Access: tokens.Access, Refresh: tokens.Refresh}, http.StatusOK)
}

// Logout обрабатывает POST /auth/logout.
// Отзывает только предъявленный refresh token; неизвестный токен не ошибка.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req api.LogoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.Refresh) == "" {
		h.sendError(w, http.StatusBadRequest, api.CodeValidation, "refresh token is required")
		return
	}

	err := h.tokenStorage.RevokeRefreshToken(ctx, req.Refresh, h.clock.Now())
	switch {
	case err == nil:
		h.logger.InfoContext(ctx, "refresh token revoked")
	case errors.Is(err, storage.ErrTokenNotFound):
		h.logger.DebugContext(ctx, "logout with unknown or revoked token")
	default:
		h.logger.ErrorContext(ctx, "failed to revoke refresh token", slog.Any("error", err))
		h.sendError(w, http.StatusInternalServerError, "", "internal server error")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// LogoutAll обрабатывает POST /auth/logout/all (за AuthMiddleware).
// Отзывает refresh токены пользователя на всех устройствах.
func (h *AuthHandler) LogoutAll(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID, ok := UserIDFromContext(ctx)
	if !ok {
		h.sendError(w, http.StatusUnauthorized, api.CodeTokenNotValid, detailTokenInvalid)
		return
	}

	n, err := h.tokenStorage.RevokeUserTokens(ctx, userID, h.clock.Now())
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to revoke user tokens", slog.Any("error", err))
		h.sendError(w, http.StatusInternalServerError, "", "internal server error")
		return
	}

	h.logger.InfoContext(ctx, "all sessions revoked",
		slog.String("user_id", userID),
		slog.Int("tokens_revoked", n))

	h.sendJSON(w, api.LogoutAllResponse{Revoked: n}, http.StatusOK)
}

// Me обрабатывает GET /auth/me (за AuthMiddleware)
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID, ok := UserIDFromContext(ctx)
	if !ok {
		h.sendError(w, http.StatusUnauthorized, api.CodeTokenNotValid, detailTokenInvalid)
		return
	}

	user, err := h.userStorage.GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			h.sendError(w, http.StatusUnauthorized, api.CodeTokenNotValid, detailTokenInvalid)
			return
		}
		h.logger.ErrorContext(ctx, "failed to get user", slog.Any("error", err))
		h.sendError(w, http.StatusInternalServerError, "", "internal server error")
		return
	}

	h.sendJSON(w, userPayload(user), http.StatusOK)
}

func userPayload(user *models.User) api.UserPayload {
	p := user.Profile()
	return api.UserPayload{
		ID:         p.ID,
		Email:      p.Email,
		Role:       p.Role,
		FullName:   p.FullName,
		Attributes: p.Attributes,
	}
}

// sendJSON отправляет JSON ответ
func (h *AuthHandler) sendJSON(w http.ResponseWriter, data any, statusCode int) {
	WriteJSON(w, h.logger, data, statusCode)
}

// sendError отправляет JSON ответ с ошибкой
func (h *AuthHandler) sendError(w http.ResponseWriter, statusCode int, code, detail string) {
	WriteError(w, h.logger, statusCode, code, detail)
}

// WriteJSON отправляет JSON ответ; общий для handlers и middleware
func WriteJSON(w http.ResponseWriter, logger *slog.Logger, data any, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Error("failed to encode JSON response", slog.Any("error", err))
	}
}

// WriteError отправляет api.ErrorResponse
func WriteError(w http.ResponseWriter, logger *slog.Logger, statusCode int, code, detail string) {
	WriteJSON(w, logger, api.ErrorResponse{
		Error:  http.StatusText(statusCode),
		Code:   code,
		Detail: detail,
	}, statusCode)
}
