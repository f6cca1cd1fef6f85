package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/rbaliyan/dmbox/auth"
)

// TokenVerifier validates bearer tokens. *auth.Tokens implements it.
type TokenVerifier interface {
	Verify(token string) (*auth.Claims, error)
}

type claimsKey struct{}

// Authenticate requires a valid bearer token and stores its claims in the
// request context. Any failure is a 401 with the uniform message.
func Authenticate(v TokenVerifier) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r)
			if !ok {
				WriteError(w, http.StatusUnauthorized, CodeUnauthorized, "invalid credentials")
				return
			}
			claims, err := v.Verify(token)
			if err != nil {
				WriteError(w, http.StatusUnauthorized, CodeUnauthorized, "invalid credentials")
				return
			}
			annotateUser(r.Context(), claims.UserID())
			next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	scheme, token, found := strings.Cut(h, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// WithClaims returns ctx carrying claims.
func WithClaims(ctx context.Context, claims *auth.Claims) context.Context {
	return context.WithValue(ctx, claimsKey{}, claims)
}

// ClaimsFromContext returns the authenticated claims, if any.
func ClaimsFromContext(ctx context.Context) (*auth.Claims, bool) {
	c, ok := ctx.Value(claimsKey{}).(*auth.Claims)
	return c, ok && c != nil
}

// UserIDFromContext returns the authenticated user ID, if any.
func UserIDFromContext(ctx context.Context) (string, bool) {
	c, ok := ClaimsFromContext(ctx)
	if !ok {
		return "", false
	}
	return c.UserID(), true
}
