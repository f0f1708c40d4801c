package middleware

import (
	"log/slog"
	"net/http"
	"runtime/debug"

	"github.com/anupkhanal/ocrhub/internal/api/response"
)

// Recovery converts a handler panic into a 500 response. The stack goes to
// the log only; the client sees the generic error envelope.
func Recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				slog.Error("panic recovered",
					"error", rec,
					"method", r.Method,
					"path", r.URL.Path,
					"remote_addr", r.RemoteAddr,
					"stack", string(debug.Stack()),
				)
				response.Error(w, http.StatusInternalServerError,
					"INTERNAL_ERROR", "An unexpected error occurred", nil)
			}
		}()
		next.ServeHTTP(w, r)
	})
}
