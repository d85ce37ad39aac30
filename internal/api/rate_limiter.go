package api

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter keeps one token bucket per caller. Each caller may spend
// limit requests per period; tokens refill continuously.
type RateLimiter struct {
	callers map[string]*caller
	mu      sync.Mutex
	rate    rate.Limit
	burst   int
	now     func() time.Time
}

type caller struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter creates a limiter allowing limit requests per period
func NewRateLimiter(limit int, period time.Duration) *RateLimiter {
	return &RateLimiter{
		callers: make(map[string]*caller),
		rate:    rate.Every(period / time.Duration(limit)),
		burst:   limit,
		now:     time.Now,
	}
}

// Allow spends one token of key's bucket and reports whether one was left
func (rl *RateLimiter) Allow(key string) bool {
	now := rl.now()
	return rl.limiter(key, now).AllowN(now, 1)
}

// Remaining returns the whole tokens left for key
func (rl *RateLimiter) Remaining(key string) int {
	now := rl.now()
	return int(rl.limiter(key, now).TokensAt(now))
}

// limiter returns key's limiter, creating a full one for new callers
func (rl *RateLimiter) limiter(key string, now time.Time) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	c, exists := rl.callers[key]
	if !exists {
		c = &caller{limiter: rate.NewLimiter(rl.rate, rl.burst)}
		rl.callers[key] = c
	}
	c.lastSeen = now
	return c.limiter
}

// cleanup drops callers not seen for longer than maxIdle
func (rl *RateLimiter) cleanup(maxIdle time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := rl.now().Add(-maxIdle)
	for key, c := range rl.callers {
		if c.lastSeen.Before(cutoff) {
			delete(rl.callers, key)
		}
	}
}

// RunCleanup drops idle callers every interval until ctx is done
func (rl *RateLimiter) RunCleanup(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rl.cleanup(interval)
		}
	}
}
