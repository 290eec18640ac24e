package middleware

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"

	"github.com/iudanet/edusession/internal/server/handlers"
)

// RecoveryMiddleware перехватывает panic, логирует стек и отвечает 500 в формате
// api.ErrorResponse. Если ответ уже начат, тело не дописывается.
// http.ErrAbortHandler пробрасывается дальше: им net/http обрывает соединение.
func RecoveryMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			wrapped := wrap(w)

			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if err, ok := rec.(error); ok && errors.Is(err, http.ErrAbortHandler) {
					panic(rec)
				}

				logger.LogAttrs(r.Context(), slog.LevelError, "Panic recovered",
					slog.String("panic", fmt.Sprint(rec)),
					slog.String("request_id", wrapped.Header().Get(HeaderRequestID)),
					slog.String("method", r.Method),
					slog.String("path", r.URL.Path),
					slog.String("stack", string(debug.Stack())),
				)

				if wrapped.wroteHeader {
					return
				}
				// детали паники клиенту не отдаем
				handlers.WriteError(wrapped, logger, http.StatusInternalServerError, "", "internal server error")
			}()

			next.ServeHTTP(wrapped, r)
		})
	}
}
