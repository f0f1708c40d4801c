// Package ratelimit implements distributed fixed-window rate limiting over
// the shared Redis backend. Fixed windows trade the burst-at-boundary edge
// case for O(1) state per client and no background cleanup: stale windows
// expire on their own.
package ratelimit

import (
	"context"
	"time"

	"github.com/anupkhanal/ocrhub/internal/cache"
)

// Decision is the outcome of a rate-limit check.
type Decision struct {
	Allowed    bool
	Remaining  int
	Limit      int
	RetryAfter time.Duration
}

// Limiter counts requests per identity in discrete, non-overlapping windows.
// The counter key embeds the window ID, so a fresh window starts implicitly
// at the first request after roll-over.
type Limiter struct {
	cache  cache.Cache
	limit  int
	window time.Duration
	now    func() time.Time
}

// New creates a Limiter allowing limit requests per window.
func New(c cache.Cache, limit int, window time.Duration) *Limiter {
	return &Limiter{cache: c, limit: limit, window: window, now: time.Now}
}

// Check records one request for identity and reports whether it is admitted.
// The increment and the read of the post-increment count happen in a single
// backend round trip, so concurrent requests cannot both sneak under the
// limit. On backend errors callers are expected to fail open.
func (l *Limiter) Check(ctx context.Context, identity string) (Decision, error) {
	now := l.now()
	// Nanosecond arithmetic keeps sub-second windows well-defined; validate()
	// guarantees the window is positive.
	windowID := now.UnixNano() / int64(l.window)

	key := cache.RateWindowKey(identity, windowID)
	count, err := l.cache.IncrWindow(ctx, key, l.window)
	if err != nil {
		return Decision{}, err
	}

	nextWindow := time.Unix(0, (windowID+1)*int64(l.window))
	remaining := l.limit - int(count)
	if remaining < 0 {
		remaining = 0
	}

	return Decision{
		Allowed:    count <= int64(l.limit),
		Remaining:  remaining,
		Limit:      l.limit,
		RetryAfter: nextWindow.Sub(now),
	}, nil
}
