package agent

import (
	"context"
	"sync"
	"time"
)

// RateLimiter is a token bucket for throttling model calls. A nil
// *RateLimiter never waits.
type RateLimiter struct {
	mu       sync.Mutex
	tokens   float64
	max      float64
	rate     float64 // tokens per second
	lastTime time.Time
	now      func() time.Time
}

// NewRateLimiter returns nil when ratePerMinute is not positive, which
// disables throttling.
func NewRateLimiter(maxBurst int, ratePerMinute float64) *RateLimiter {
	if ratePerMinute <= 0 {
		return nil
	}
	if maxBurst <= 0 {
		maxBurst = 1
	}
	return &RateLimiter{
		tokens:   float64(maxBurst),
		max:      float64(maxBurst),
		rate:     ratePerMinute / 60.0,
		lastTime: time.Now(),
		now:      time.Now,
	}
}

// reserve takes a token if one is available, otherwise it reports how long
// until the next one.
func (rl *RateLimiter) reserve() time.Duration {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	now := rl.now()
	rl.tokens += now.Sub(rl.lastTime).Seconds() * rl.rate
	if rl.tokens > rl.max {
		rl.tokens = rl.max
	}
	rl.lastTime = now

	if rl.tokens >= 1.0 {
		rl.tokens -= 1.0
		return 0
	}
	return time.Duration((1.0 - rl.tokens) / rl.rate * float64(time.Second))
}

// Wait blocks until a token is available or ctx is done.
func (rl *RateLimiter) Wait(ctx context.Context) error {
	if rl == nil {
		return nil
	}
	for {
		wait := rl.reserve()
		if wait == 0 {
			return nil
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
