package health

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/dmitrymomot/sessionkit/core/logger"
)

// Readiness verifies that every dependency is functioning.
// Returns "READY" if all checks pass, 503 Service Unavailable if any fails.
//
// Example:
//
//	mux.Handle("GET /health/ready", health.Readiness(
//		log,
//		repo.Healthcheck,
//		bridge.Healthcheck,
//		sweeper.Healthcheck,
//	))
func Readiness(log *slog.Logger, checks ...func(context.Context) error) http.HandlerFunc {
	if log == nil {
		log = logger.Nop()
	}
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		for _, check := range checks {
			if err := check(ctx); err != nil {
				log.ErrorContext(ctx, "readiness check failed", logger.Error(err))
				http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
				return
			}
		}

		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("READY"))
	}
}
