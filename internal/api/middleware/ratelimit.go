package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/anupkhanal/ocrhub/internal/api/response"
	"github.com/anupkhanal/ocrhub/internal/ratelimit"
)

// RateLimit throttles submissions per client identity using the distributed
// fixed-window limiter. Read-only polling routes are mounted outside this
// middleware, so a client can always check on jobs it already submitted.
type RateLimit struct {
	limiter *ratelimit.Limiter
}

// NewRateLimit creates the RateLimit middleware.
func NewRateLimit(l *ratelimit.Limiter) *RateLimit {
	return &RateLimit{limiter: l}
}

// Limit admits or rejects the request. Backend failures fail open: losing
// rate limiting is preferable to refusing all traffic.
func (rl *RateLimit) Limit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		decision, err := rl.limiter.Check(r.Context(), ClientIdentity(r))
		if err != nil {
			next.ServeHTTP(w, r)
			return
		}

		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(decision.Limit))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))

		if !decision.Allowed {
			retryAfter := int(decision.RetryAfter / time.Second)
			if retryAfter < 1 {
				retryAfter = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
			response.Error(w, http.StatusTooManyRequests,
				"RATE_LIMIT_EXCEEDED", "Too many requests",
				map[string]any{"retry_after": retryAfter})
			return
		}

		next.ServeHTTP(w, r)
	})
}
