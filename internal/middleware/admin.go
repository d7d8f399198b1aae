package middleware

import (
	"net/http"

	"github.com/qstarmachine/billing/internal/contextkeys"
	"github.com/qstarmachine/billing/internal/domain"
	"github.com/qstarmachine/billing/internal/handler"
)

// AdminOnly rejects callers without the admin role. It must run after Auth.
func AdminOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if contextkeys.RoleFrom(r.Context()) != domain.RoleAdmin {
			handler.Error(w, domain.ErrForbidden("forbidden: admin access required"))
			return
		}
		next.ServeHTTP(w, r)
	})
}
