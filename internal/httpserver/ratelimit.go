package httpserver

import (
	"log/slog"
	"net/http"

	"github.com/sandboxplatform/sandboxd/internal/apperr"
	"github.com/sandboxplatform/sandboxd/internal/auth"
	"github.com/sandboxplatform/sandboxd/internal/telemetry"
)

// RateLimitMiddleware enforces rl against every request on the chain, keyed
// by the authenticated caller's user ID. Intended for mounting after
// auth.RequireAuth, so FromContext is always populated. name identifies this
// limiter in the rejection metric (distinct from rl's own Redis key prefix).
func RateLimitMiddleware(rl *auth.RateLimiter, name string, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := auth.FromContext(r.Context())
			if id == nil {
				next.ServeHTTP(w, r)
				return
			}

			key := id.UserID.String()
			result, err := rl.Check(r.Context(), key)
			if err != nil {
				logger.Error("rate limit check", "limiter", name, "error", err)
				next.ServeHTTP(w, r)
				return
			}
			if !result.Allowed {
				telemetry.RateLimitRejectionsTotal.WithLabelValues(name).Inc()
				RespondError(w, apperr.KindRateLimit, "rate limit exceeded", map[string]any{"retryAt": result.RetryAt})
				return
			}
			if err := rl.Record(r.Context(), key); err != nil {
				logger.Error("rate limit record", "limiter", name, "error", err)
			}

			next.ServeHTTP(w, r)
		})
	}
}
