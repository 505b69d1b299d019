package middleware

import (
	"context"
	"net/http"

	"github.com/MrEthical07/farmauth"
)

// SessionReader returns the active session. *farmauth.Engine implements it.
type SessionReader interface {
	Session(ctx context.Context) (farmauth.Session, bool)
}

type sessionContextKey struct{}

// SessionFromContext returns the session stored by [RequireSession].
func SessionFromContext(ctx context.Context) (farmauth.Session, bool) {
	s, ok := ctx.Value(sessionContextKey{}).(farmauth.Session)
	return s, ok
}

// RequireSession answers 401 when no session is active and otherwise passes
// the session to the handler through the request context.
func RequireSession(sessions SessionReader) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if sessions == nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			s, ok := sessions.Session(r.Context())
			if !ok {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), sessionContextKey{}, s)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
