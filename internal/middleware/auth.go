package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/Strob0t/AutoAgent/internal/domain/user"
)

type authUserCtxKey struct{}

// TokenValidator verifies access tokens; *service.AuthService satisfies it.
type TokenValidator interface {
	ValidateAccessToken(token string) (*user.TokenClaims, error)
}

// publicPaths are exempt from authentication.
var publicPaths = map[string]bool{
	"/health":        true,
	"/auth/register": true,
	"/auth/login":    true,
}

// wsPath accepts the token as a query parameter because browsers cannot set
// headers on WebSocket upgrades.
const wsPath = "/ws"

// Auth returns middleware that requires a valid bearer token on every
// non-public path and stores the caller's identity in the request context.
func Auth(tokens TokenValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if publicPaths[r.URL.Path] || r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}

			token, ok := bearerToken(r)
			if !ok {
				unauthorized(w, "Authorization required")
				return
			}

			claims, err := tokens.ValidateAccessToken(token)
			if err != nil {
				unauthorized(w, "Invalid or expired token")
				return
			}

			ctx := context.WithValue(r.Context(), authUserCtxKey{}, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	if r.URL.Path == wsPath {
		if t := r.URL.Query().Get("token"); t != "" {
			return t, true
		}
	}
	header := r.Header.Get("Authorization")
	token, found := strings.CutPrefix(header, "Bearer ")
	if !found || token == "" {
		return "", false
	}
	return token, true
}

func unauthorized(w http.ResponseWriter, msg string) {
	writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", msg)
}

// UserFromContext returns the authenticated caller, or nil.
func UserFromContext(ctx context.Context) *user.TokenClaims {
	c, _ := ctx.Value(authUserCtxKey{}).(*user.TokenClaims)
	return c
}

// UserID returns the authenticated caller's ID, or "".
func UserID(ctx context.Context) string {
	if c := UserFromContext(ctx); c != nil {
		return c.UserID
	}
	return ""
}

// WithUser returns ctx carrying claims as the authenticated caller.
func WithUser(ctx context.Context, claims *user.TokenClaims) context.Context {
	return context.WithValue(ctx, authUserCtxKey{}, claims)
}
