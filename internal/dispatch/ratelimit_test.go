package dispatch

import (
	"context"
	"testing"
	"time"
)

func TestRateLimiter_TryConsume(t *testing.T) {
	limiter := NewRateLimiter(3)

	for i := 0; i < 3; i++ {
		if !limiter.TryConsume() {
			t.Fatalf("token %d should be available", i+1)
		}
	}
	if limiter.TryConsume() {
		t.Error("bucket should be empty after three consumes")
	}
}

func TestRateLimiter_Status(t *testing.T) {
	limiter := NewRateLimiter(5)
	limiter.TryConsume()
	limiter.TryConsume()

	status := limiter.Status()
	if status.TokensLimit != 5 {
		t.Errorf("TokensLimit = %d, want 5", status.TokensLimit)
	}
	if status.TotalConsumed != 2 {
		t.Errorf("TotalConsumed = %d, want 2", status.TotalConsumed)
	}
	if status.TokensAvailable > 3 {
		t.Errorf("TokensAvailable = %d, want at most 3", status.TokensAvailable)
	}
}

func TestRateLimiter_WaitRespectsContext(t *testing.T) {
	limiter := NewRateLimiter(1)
	if !limiter.TryConsume() {
		t.Fatal("first token should be available")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	// With 1 dispatch per 60s the next token is a minute away; the context
	// must win.
	if err := limiter.Wait(ctx); err == nil {
		t.Error("Wait should fail when the context expires first")
	}
}

func TestRateLimiter_DefaultsOnZero(t *testing.T) {
	limiter := NewRateLimiter(0)
	if limiter.Status().TokensLimit != 5 {
		t.Errorf("TokensLimit = %d, want default 5", limiter.Status().TokensLimit)
	}
}
