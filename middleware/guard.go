package middleware

import (
	"net/http"

	goSession "github.com/MrEthical07/goSession"
	"github.com/MrEthical07/goSession/session"
)

// SessionSource is satisfied by *goSession.Manager.
type SessionSource interface {
	CurrentSession() *session.Session
}

// Guard rejects requests while no session is held and attaches the current
// session to the request context otherwise.
func Guard(src SessionSource) func(http.Handler) http.Handler {
	return RequireRole(src, "")
}

// RequireRole is [Guard] with an additional role check. An empty role
// accepts any signed-in identity.
func RequireRole(src SessionSource, role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if src == nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			s := src.CurrentSession()
			if s == nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			if role != "" && s.Identity.Role != role {
				http.Error(w, "forbidden", http.StatusForbidden)
				return
			}

			ctx := goSession.WithSession(r.Context(), s)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
