package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/sakif/user-manager/internal/apperror"
)

// contextKey is an unexported type used for context keys in this package,
// so no other package can read or shadow the claims value.
type contextKey string

const claimsKey contextKey = "claims"

// ErrorWriter writes an error response. The handler package supplies one so
// middleware failures share the JSON error body of every other endpoint.
type ErrorWriter func(w http.ResponseWriter, err error)

// RequireAuth is a middleware that enforces a Bearer token on protected
// routes.
//
// It reads "Authorization: Bearer <token>", verifies the token and stores
// the claims in the request context. A missing header or empty token fails
// with Unauthenticated (401). A present token that fails verification fails
// with Forbidden (403).
func RequireAuth(tokens *TokenService, fail ErrorWriter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := bearerToken(r)
			if raw == "" {
				fail(w, apperror.Unauthenticated("Access token required"))
				return
			}

			claims, err := tokens.Verify(raw)
			if err != nil {
				fail(w, apperror.Forbidden("Invalid or expired token"))
				return
			}

			next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
		})
	}
}

// WithClaims returns a copy of ctx carrying the given claims.
func WithClaims(ctx context.Context, c *Claims) context.Context {
	return context.WithValue(ctx, claimsKey, c)
}

// ClaimsFromContext returns the verified claims stored by RequireAuth.
// It returns (nil, false) on an unauthenticated request.
func ClaimsFromContext(ctx context.Context) (*Claims, bool) {
	c, ok := ctx.Value(claimsKey).(*Claims)
	return c, ok && c != nil
}

// bearerToken extracts the token from the Authorization header. The scheme
// is matched case-insensitively; anything that is not a Bearer credential
// counts as no token.
func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
