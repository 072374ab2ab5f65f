package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestNewRateLimiter_Defaults(t *testing.T) {
	rl := NewRateLimiter(0, 0)
	if rl.rate != 10 || rl.burst != 10 {
		t.Errorf("rate/burst = %v/%v, want 10/10", rl.rate, rl.burst)
	}
	if rl.Tokens() < 9.99 {
		t.Errorf("bucket must start full, tokens = %v", rl.Tokens())
	}
}

func TestRateLimiter_AllowExhaustsBurst(t *testing.T) {
	rl := NewRateLimiter(1, 3)

	for i := 0; i < 3; i++ {
		if !rl.Allow() {
			t.Fatalf("Allow() #%d = false, want true", i+1)
		}
	}
	if rl.Allow() {
		t.Error("Allow() after burst must be false")
	}
}

func TestRateLimiter_WaitRefills(t *testing.T) {
	rl := NewRateLimiter(100, 1)
	if !rl.Allow() {
		t.Fatal("first token must be available")
	}

	start := time.Now()
	if err := rl.Wait(context.Background()); err != nil {
		t.Fatalf("Wait() error: %v", err)
	}
	if time.Since(start) > time.Second {
		t.Error("Wait() took too long for 100 req/sec")
	}
}

func TestRateLimiter_WaitCancelled(t *testing.T) {
	rl := NewRateLimiter(0.1, 1)
	rl.Allow()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if err := rl.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Wait() = %v, want DeadlineExceeded", err)
	}
}

func TestMultiLimiter(t *testing.T) {
	ml := NewMultiLimiter().Add(CategoryOrder, 1, 1)

	if err := ml.Wait(context.Background(), CategoryData); err != nil {
		t.Errorf("unlimited category must pass: %v", err)
	}
	if err := ml.Wait(context.Background(), CategoryOrder); err != nil {
		t.Errorf("first order token: %v", err)
	}
	if ml.Get(CategoryOrder).Allow() {
		t.Error("order bucket must be empty")
	}
	if ml.Get(CategoryData) != nil {
		t.Error("Get() for unknown category must be nil")
	}
}
