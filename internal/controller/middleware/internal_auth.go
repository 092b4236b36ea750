// Package middleware holds the controller's HTTP middleware.
package middleware

import (
	"net/http"
	"strings"

	"shipsanity/internal/auth"
)

// RequireInternalAuth ensures the request carries the shared internal secret.
// An unset secret disables every protected route.
func RequireInternalAuth(systemSecret string) func(http.Handler) http.Handler {
	matcher := auth.NewMatcher(systemSecret)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if systemSecret == "" {
				http.Error(w, "Internal secret not configured", http.StatusServiceUnavailable)
				return
			}

			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				http.Error(w, "Missing authorization header", http.StatusUnauthorized)
				return
			}

			parts := strings.Split(authHeader, " ")
			if len(parts) != 2 || parts[0] != "Bearer" {
				http.Error(w, "Invalid authorization header", http.StatusUnauthorized)
				return
			}

			if !matcher.Match(parts[1]) {
				http.Error(w, "Invalid authorization token", http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
