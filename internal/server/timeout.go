package server

import (
	"context"
	"net/http"
	"time"
)

// DefaultRequestTimeout bounds the non-streaming routes.
const DefaultRequestTimeout = 30 * time.Second

// TimeoutMiddleware cancels the request context after timeout.
// Handlers observe it through the outbound calls they make with that context.
func TimeoutMiddleware(timeout time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), timeout)
			defer cancel()
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
