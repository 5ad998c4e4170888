package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
)

// CookieName is the cookie that carries the session token for browsers.
const CookieName = "token"

type contextKey string

const sessionKey contextKey = "session"

// Authenticator turns a raw token into a session. It must reject expired,
// tampered and revoked tokens.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*Session, error)
}

// RequireAuth rejects requests without a valid session with a 401 JSON body.
// The token is read from the token cookie, falling back to an
// "Authorization: Bearer" header for API clients.
func RequireAuth(authn Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, err := TokenFromRequest(r)
			if err != nil {
				unauthorized(w)
				return
			}

			session, err := authn.Authenticate(r.Context(), token)
			if err != nil {
				unauthorized(w)
				return
			}

			ctx := context.WithValue(r.Context(), sessionKey, session)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	w.Write([]byte(`{"error":"unauthorized","message":"valid authentication required"}`))
}

var errNoToken = errors.New("auth: no token in request")

// TokenFromRequest returns the session token carried by r.
func TokenFromRequest(r *http.Request) (string, error) {
	if c, err := r.Cookie(CookieName); err == nil && c.Value != "" {
		return c.Value, nil
	}
	if h := r.Header.Get("Authorization"); h != "" {
		if token, ok := strings.CutPrefix(h, "Bearer "); ok && token != "" {
			return strings.TrimSpace(token), nil
		}
	}
	return "", errNoToken
}

// SessionFromContext returns the session stored by RequireAuth.
func SessionFromContext(ctx context.Context) (*Session, bool) {
	s, ok := ctx.Value(sessionKey).(*Session)
	return s, ok && s != nil
}

// UserIDFromContext returns the authenticated user's ID, if any.
func UserIDFromContext(ctx context.Context) (string, bool) {
	s, ok := SessionFromContext(ctx)
	if !ok || s.UserID == "" {
		return "", false
	}
	return s.UserID, true
}

// WithSession stores s in ctx. Handlers use it in tests to skip token parsing.
func WithSession(ctx context.Context, s *Session) context.Context {
	return context.WithValue(ctx, sessionKey, s)
}
