package agent

import (
	"context"
	"testing"
	"time"
)

func TestRateLimiter_ImmediateBurst(t *testing.T) {
	rl := NewRateLimiter(5, 60.0)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		if err := rl.Wait(ctx); err != nil {
			t.Fatalf("burst token %d failed: %v", i, err)
		}
	}
}

func TestRateLimiter_ReserveAfterBurst(t *testing.T) {
	now := time.Unix(0, 0)
	rl := NewRateLimiter(1, 600.0) // 10 per second
	rl.now = func() time.Time { return now }
	rl.lastTime = now

	if wait := rl.reserve(); wait != 0 {
		t.Fatalf("first reserve should not wait, got %v", wait)
	}
	wait := rl.reserve()
	if wait < 90*time.Millisecond || wait > 110*time.Millisecond {
		t.Fatalf("expected ~100ms wait, got %v", wait)
	}

	now = now.Add(100 * time.Millisecond)
	if wait := rl.reserve(); wait != 0 {
		t.Fatalf("token should have refilled, got %v", wait)
	}
}

func TestRateLimiter_CancelledContext(t *testing.T) {
	rl := NewRateLimiter(1, 1.0)
	ctx, cancel := context.WithCancel(context.Background())
	if err := rl.Wait(ctx); err != nil {
		t.Fatal(err)
	}
	cancel()
	if err := rl.Wait(ctx); err == nil {
		t.Fatal("expected context cancelled error")
	}
}

func TestRateLimiter_DisabledIsNil(t *testing.T) {
	rl := NewRateLimiter(5, 0)
	if rl != nil {
		t.Fatal("zero rate should disable the limiter")
	}
	if err := rl.Wait(context.Background()); err != nil {
		t.Fatalf("nil limiter should never wait: %v", err)
	}
}
