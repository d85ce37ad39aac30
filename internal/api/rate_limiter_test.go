package api

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sugreev38/v0-hospital-emr-software/pkg/types"
)

func TestRateLimiter_AllowAndRefill(t *testing.T) {
	now := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	rl := NewRateLimiter(2, time.Minute)
	rl.now = func() time.Time { return now }

	assert.True(t, rl.Allow("user_1"))
	assert.True(t, rl.Allow("user_1"))
	assert.False(t, rl.Allow("user_1"))
	assert.True(t, rl.Allow("user_2"), "buckets are per caller")

	now = now.Add(30 * time.Second)
	assert.True(t, rl.Allow("user_1"))
	assert.False(t, rl.Allow("user_1"))

	now = now.Add(time.Hour)
	assert.Equal(t, 2, rl.Remaining("user_1"), "refill is capped at the limit")
	assert.True(t, rl.Allow("user_1"))
	assert.Equal(t, 1, rl.Remaining("user_1"))
}

func TestRateLimiter_CleanupDropsIdleBuckets(t *testing.T) {
	now := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	rl := NewRateLimiter(5, time.Minute)
	rl.now = func() time.Time { return now }

	rl.Allow("user_1")
	now = now.Add(2 * time.Hour)
	rl.Allow("user_2")

	rl.cleanup(time.Hour)

	rl.mu.Lock()
	defer rl.mu.Unlock()
	assert.NotContains(t, rl.callers, "user_1")
	assert.Contains(t, rl.callers, "user_2")
}

func TestRateLimiter_RunCleanupStopsWithContext(t *testing.T) {
	rl := NewRateLimiter(1, time.Minute)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		rl.RunCleanup(ctx, time.Millisecond)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("RunCleanup did not return after cancel")
	}
}

func TestRateLimitMiddleware(t *testing.T) {
	f := newFixture(t, true, func(d *Deps) {
		d.Limiter = NewRateLimiter(1, time.Hour)
	})
	token := f.token(t, doctorUser)

	w := f.do(t, http.MethodGet, "/api/v1/patients", token, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = f.do(t, http.MethodGet, "/api/v1/patients", token, nil)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, types.ErrCodeRateLimited, decode[types.MedrexError](t, w).Code)

	w = f.do(t, http.MethodGet, "/api/v1/patients", f.token(t, nurseUser), nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = f.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}
