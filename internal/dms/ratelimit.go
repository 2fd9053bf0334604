package dms

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// RateLimiter throttles outbound sends with a token bucket. Tokens are
// reserved up front, so concurrent senders queue in arrival order instead
// of racing for each refill. A nil *RateLimiter never blocks.
type RateLimiter struct {
	mu       sync.Mutex
	tokens   float64 // may go negative while senders wait
	burst    float64
	perSec   float64
	lastFill time.Time
	now      func() time.Time
}

// NewRateLimiter returns nil, meaning unlimited, when perMinute <= 0.
func NewRateLimiter(burst int, perMinute float64) *RateLimiter {
	if perMinute <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = 1
	}
	return &RateLimiter{
		tokens:   float64(burst),
		burst:    float64(burst),
		perSec:   perMinute / 60.0,
		lastFill: time.Now(),
		now:      time.Now,
	}
}

// Wait blocks until the caller's reserved send slot comes up and reports
// how long it waited. When the slot lies beyond ctx's deadline it fails
// at once and the reservation is returned.
func (rl *RateLimiter) Wait(ctx context.Context) (time.Duration, error) {
	if rl == nil {
		return 0, nil
	}
	delay := rl.reserve()
	if delay <= 0 {
		return 0, nil
	}
	if deadline, ok := ctx.Deadline(); ok && rl.now().Add(delay).After(deadline) {
		rl.release()
		return 0, fmt.Errorf("next send slot in %v: %w", delay.Round(time.Millisecond), context.DeadlineExceeded)
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		rl.release()
		return 0, ctx.Err()
	case <-timer.C:
		return delay, nil
	}
}

// reserve takes one token, on credit if needed, and returns the wait until
// that token is covered by the refill.
func (rl *RateLimiter) reserve() time.Duration {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	rl.tokens = min(rl.burst, rl.tokens+now.Sub(rl.lastFill).Seconds()*rl.perSec)
	rl.lastFill = now
	rl.tokens--
	if rl.tokens >= 0 {
		return 0
	}
	return time.Duration(-rl.tokens / rl.perSec * float64(time.Second))
}

func (rl *RateLimiter) release() {
	rl.mu.Lock()
	rl.tokens = min(rl.burst, rl.tokens+1)
	rl.mu.Unlock()
}
