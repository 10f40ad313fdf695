package dispatch

import (
	"context"
	"sync"
	"time"
)

// RateLimiter implements a token bucket limiting dispatches per rolling
// window, protecting external API quotas shared by all workers.
type RateLimiter struct {
	mu sync.Mutex

	dispatchesPerWindow int
	windowSeconds       float64

	tokens     float64
	lastUpdate time.Time

	totalConsumed int64
	totalWaited   time.Duration
}

// RateLimiterStatus reports current limiter state.
type RateLimiterStatus struct {
	TokensAvailable int           `json:"tokens_available"`
	TokensLimit     int           `json:"tokens_limit"`
	TotalConsumed   int64         `json:"total_consumed"`
	TotalWaited     time.Duration `json:"total_waited"`
}

// NewRateLimiter creates a limiter allowing dispatchesPerWindow dispatches
// per rolling 60-second window.
func NewRateLimiter(dispatchesPerWindow int) *RateLimiter {
	if dispatchesPerWindow <= 0 {
		dispatchesPerWindow = 5
	}
	return &RateLimiter{
		dispatchesPerWindow: dispatchesPerWindow,
		windowSeconds:       60.0,
		tokens:              float64(dispatchesPerWindow),
		lastUpdate:          time.Now(),
	}
}

// Wait blocks until a dispatch token is available or ctx is cancelled.
func (r *RateLimiter) Wait(ctx context.Context) error {
	for {
		if r.TryConsume() {
			return nil
		}

		r.mu.Lock()
		r.refill()
		tokensNeeded := 1.0 - r.tokens
		refillRate := float64(r.dispatchesPerWindow) / r.windowSeconds
		waitTime := time.Duration(tokensNeeded/refillRate*1000) * time.Millisecond
		r.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(waitTime):
			r.mu.Lock()
			r.totalWaited += waitTime
			r.mu.Unlock()
		}
	}
}

// TryConsume attempts to consume a token without blocking.
func (r *RateLimiter) TryConsume() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.refill()

	if r.tokens >= 1.0 {
		r.tokens--
		r.totalConsumed++
		return true
	}
	return false
}

// Status returns current limiter status.
func (r *RateLimiter) Status() RateLimiterStatus {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.refill()

	return RateLimiterStatus{
		TokensAvailable: int(r.tokens),
		TokensLimit:     r.dispatchesPerWindow,
		TotalConsumed:   r.totalConsumed,
		TotalWaited:     r.totalWaited,
	}
}

// refill adds tokens based on elapsed time. Caller must hold the lock.
func (r *RateLimiter) refill() {
	now := time.Now()
	elapsed := now.Sub(r.lastUpdate).Seconds()
	r.lastUpdate = now

	refillRate := float64(r.dispatchesPerWindow) / r.windowSeconds
	r.tokens += elapsed * refillRate
	if r.tokens > float64(r.dispatchesPerWindow) {
		r.tokens = float64(r.dispatchesPerWindow)
	}
}
