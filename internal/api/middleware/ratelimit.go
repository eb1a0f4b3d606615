package middleware

import (
	"net/http"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/SpeedyCraftah/go-chat-app/internal/metrics"
	"github.com/SpeedyCraftah/go-chat-app/internal/store"
)

// Per-minute request budgets. Message sends are costlier than reads.
const (
	defaultLimitPerMinute = 240
	sendLimitPerMinute    = 60
)

// RateLimiter enforces fixed-window per-caller request limits backed
// by Redis. Callers are keyed by session token when present, falling
// back to remote address for unauthenticated routes.
type RateLimiter struct {
	redis  *store.RedisStore
	logger zerolog.Logger
}

// NewRateLimiter creates a rate limiter over the given Redis store.
func NewRateLimiter(redis *store.RedisStore, logger zerolog.Logger) *RateLimiter {
	return &RateLimiter{redis: redis, logger: logger}
}

// Middleware applies the rate limit. Limiter errors fail open: an
// unavailable Redis must not take the API down with it.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		caller := r.Header.Get("X-Session")
		if caller == "" {
			caller = r.RemoteAddr
		}

		limit := defaultLimitPerMinute
		if r.Method == http.MethodPost && normalizePath(r.URL.Path) == "/api/dms/:id/messages" {
			limit = sendLimitPerMinute
		}

		count, err := rl.redis.IncrRateLimit(r.Context(), caller)
		if err != nil {
			rl.logger.Warn().Err(err).Msg("rate limit check failed, allowing request")
			next.ServeHTTP(w, r)
			return
		}

		if count > int64(limit) {
			metrics.RateLimitHits.WithLabelValues(normalizePath(r.URL.Path)).Inc()
			w.Header().Set("Retry-After", "60")
			jsonError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}

		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limit))
		w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(max64(int64(limit)-count, 0), 10))

		next.ServeHTTP(w, r)
	})
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
