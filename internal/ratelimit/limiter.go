// Package ratelimit paces calls to rate-limited providers and retries transient failures.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// DefaultMinDelay is the default spacing between LLM calls.
const DefaultMinDelay = time.Second

// Limiter enforces a minimum delay between consecutive calls.
// The first call passes immediately; each later call waits until
// minDelay has elapsed since the previous one was admitted.
type Limiter struct {
	mu       sync.Mutex
	limiter  *rate.Limiter
	minDelay time.Duration
}

// NewLimiter creates a Limiter. A non-positive minDelay disables pacing.
func NewLimiter(minDelay time.Duration) *Limiter {
	l := &Limiter{minDelay: minDelay}
	if minDelay > 0 {
		l.limiter = rate.NewLimiter(rate.Every(minDelay), 1)
	}
	return l
}

// NewLimiterForRPM derives the delay from a requests-per-minute ceiling.
func NewLimiterForRPM(rpm int) (*Limiter, error) {
	if rpm <= 0 {
		return nil, fmt.Errorf("requests per minute must be positive, got %d", rpm)
	}
	return NewLimiter(time.Minute / time.Duration(rpm)), nil
}

// MinDelay returns the configured spacing.
func (l *Limiter) MinDelay() time.Duration {
	return l.minDelay
}

// Wait blocks until the next call may start or ctx is done.
func (l *Limiter) Wait(ctx context.Context) error {
	if l.limiter == nil {
		return ctx.Err()
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.limiter.Wait(ctx)
}
