package middleware

import (
	"context"
	"net/http"
	"time"

	"eventwish-sync/pkg/api"
)

// Timeout bounds each request with a deadline. Handlers observe it
// through the request context; if they overrun, the client gets a 503
// as long as no response bytes were written yet.
func Timeout(timeout time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), timeout)
			defer cancel()

			done := make(chan struct{})
			go func() {
				defer close(done)
				next.ServeHTTP(w, r.WithContext(ctx))
			}()

			select {
			case <-done:
			case <-ctx.Done():
				if w.Header().Get("Content-Type") == "" {
					api.Error(w, http.StatusServiceUnavailable, "request timed out")
				}
			}
		})
	}
}
