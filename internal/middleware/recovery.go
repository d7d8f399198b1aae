package middleware

import (
	"log/slog"
	"net/http"
	"runtime/debug"

	"github.com/qstarmachine/billing/internal/domain"
	"github.com/qstarmachine/billing/internal/handler"
)

// Recovery catches panics and returns a 500 error instead of crashing the server.
func Recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				slog.Error("panic serving request",
					"method", r.Method, "path", r.URL.Path, "panic", rec, "stack", string(debug.Stack()))
				handler.Error(w, domain.ErrInternal("internal server error", nil))
			}
		}()
		next.ServeHTTP(w, r)
	})
}
