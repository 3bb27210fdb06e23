package middleware

import (
	"context"
	"net/http"
	"strings"
)

// DefaultPrincipalHeader is set by the authenticating gateway in front of the server.
const DefaultPrincipalHeader = "X-Authenticated-User"

type principalContextKey string

const PrincipalContextKey principalContextKey = "principal_id"

// WithPrincipal returns a copy of ctx carrying the authenticated principal id.
func WithPrincipal(ctx context.Context, principalID string) context.Context {
	return context.WithValue(ctx, PrincipalContextKey, principalID)
}

// PrincipalFromContext returns the authenticated principal id, or "" for anonymous callers.
func PrincipalFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if principalID, ok := ctx.Value(PrincipalContextKey).(string); ok {
		return principalID
	}
	return ""
}

// PrincipalHeader copies the principal id from a trusted header into the request context.
// An existing principal in the context is left alone.
func PrincipalHeader(header string) func(http.Handler) http.Handler {
	if strings.TrimSpace(header) == "" {
		header = DefaultPrincipalHeader
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if PrincipalFromContext(r.Context()) != "" {
				next.ServeHTTP(w, r)
				return
			}
			principalID := strings.TrimSpace(r.Header.Get(header))
			if principalID == "" {
				next.ServeHTTP(w, r)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), principalID)))
		})
	}
}
