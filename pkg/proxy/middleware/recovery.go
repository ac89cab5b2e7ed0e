package middleware

import (
	"log/slog"
	"net/http"
	"runtime/debug"

	"mercator-hq/hermes/pkg/proxy"
)

// RecoveryMiddleware recovers from panics in HTTP handlers and answers
// with a 500 envelope. The panic and stack trace are logged; internal
// details never reach the client.
func RecoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				slog.ErrorContext(r.Context(), "panic in handler",
					"error", err,
					"request_id", GetRequestID(r.Context()),
					"method", r.Method,
					"path", r.URL.Path,
					"stack", string(debug.Stack()),
				)

				proxy.WriteError(w, &proxy.RouterError{
					Status:  http.StatusInternalServerError,
					Kind:    proxy.KindInternal,
					Message: "an internal error occurred",
				})
			}
		}()

		next.ServeHTTP(w, r)
	})
}
