// Package middleware provides HTTP middleware for authenticating
// operator requests against the control surface.
package middleware

import (
	"context"
	"net/http"
	"strings"
)

// ContextKey is a typed key for context values to avoid collisions.
type ContextKey string

// operatorKey is the context key for the authenticated operator name.
const operatorKey ContextKey = "operator"

// TokenValidator validates a bearer token and names its operator.
// This allows the middleware to work with any token service
// implementation.
type TokenValidator interface {
	ValidateToken(tokenString string) (OperatorGetter, error)
}

// OperatorGetter extracts the operator name from token claims.
type OperatorGetter interface {
	GetOperator() string
}

// Auth creates middleware that validates bearer tokens and adds the
// operator name to the request context.
func Auth(validator TokenValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			// Case-insensitive "Bearer" prefix.
			parts := strings.Fields(authHeader)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			claims, err := validator.ValidateToken(strings.TrimSpace(parts[1]))
			if err != nil {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), operatorKey, claims.GetOperator())
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// OperatorFromContext returns the authenticated operator name, if any.
func OperatorFromContext(ctx context.Context) (string, bool) {
	op, ok := ctx.Value(operatorKey).(string)
	return op, ok
}
