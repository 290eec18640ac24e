package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/jonboulle/clockwork"

	"github.com/iudanet/edusession/internal/server/handlers"
	"github.com/iudanet/edusession/pkg/api"
)

// AuthMiddleware создает middleware для проверки bearer access токена
func AuthMiddleware(logger *slog.Logger, jwtConfig handlers.JWTConfig, clock clockwork.Clock) func(http.Handler) http.Handler {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				logger.Warn("Missing Authorization header")
				unauthorized(w, logger, "Authorization header is required")
				return
			}

			// Ожидаем формат: "Bearer <token>"
			scheme, tokenString, ok := strings.Cut(authHeader, " ")
			if !ok || !strings.EqualFold(scheme, "Bearer") || tokenString == "" {
				logger.Warn("Invalid Authorization header format")
				unauthorized(w, logger, "invalid Authorization header format")
				return
			}

			claims, err := handlers.ValidateAccessToken(jwtConfig, tokenString, clock.Now())
			if err != nil {
				logger.Warn("Invalid access token", "error", err)
				unauthorized(w, logger, "Token is invalid or expired")
				return
			}

			ctx := context.WithValue(r.Context(), handlers.UserIDKey, claims.Subject)

			logger.Debug("User authenticated", "user_id", claims.Subject, "role", claims.Role)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func unauthorized(w http.ResponseWriter, logger *slog.Logger, detail string) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="edusession"`)
	handlers.WriteError(w, logger, http.StatusUnauthorized, api.CodeTokenNotValid, detail)
}
