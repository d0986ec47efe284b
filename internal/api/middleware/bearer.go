// Package middleware implements the HTTP middleware for the propgate
// gateway: request logging, tracing, and bearer-token extraction.
package middleware

import (
	"context"
	"net/http"
	"strings"
)

type contextKey string

// bearerKey is the context key for the extracted usage token.
const bearerKey contextKey = "bearer_token"

// BearerExtractor pulls the usage token out of the request and stores
// it in the context. Handlers decide whether a token is required; the
// middleware only normalizes where it comes from:
//   - Authorization: Bearer <token>
//   - token query parameter (EventSource cannot set headers)
func BearerExtractor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tok := ""
		if auth := r.Header.Get("Authorization"); len(auth) > 7 && strings.EqualFold(auth[:7], "bearer ") {
			tok = strings.TrimSpace(auth[7:])
		}
		if tok == "" {
			tok = r.URL.Query().Get("token")
		}

		ctx := context.WithValue(r.Context(), bearerKey, tok)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetBearer retrieves the usage token from the request context;
// empty when the request carried none.
func GetBearer(ctx context.Context) string {
	if v, ok := ctx.Value(bearerKey).(string); ok {
		return v
	}
	return ""
}
