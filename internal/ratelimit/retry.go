package ratelimit

import (
	"context"
	"log/slog"
	"time"
)

// Policy configures exponential backoff.
type Policy struct {
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries int
	// BaseBackoff is the wait before the first retry, doubled on each retry.
	BaseBackoff time.Duration
	// Retryable decides whether an error is worth another attempt.
	// Nil retries every error.
	Retryable func(error) bool
}

// DefaultPolicy retries 3 times with 1s, 2s, 4s waits.
func DefaultPolicy(retryable func(error) bool) Policy {
	return Policy{MaxRetries: 3, BaseBackoff: time.Second, Retryable: retryable}
}

// Backoff returns the wait before retry number attempt (0-based).
func (p Policy) Backoff(attempt int) time.Duration {
	return p.BaseBackoff * (1 << uint(attempt))
}

// Do calls fn until it succeeds, returns a non-retryable error, the retries are
// exhausted, or ctx is done. It returns the number of attempts made and the last error.
func (p Policy) Do(ctx context.Context, logger *slog.Logger, fn func(context.Context) error) (int, error) {
	var lastErr error
	attempts := 0
	for attempt := 0; attempt <= p.MaxRetries; attempt++ {
		attempts++
		err := fn(ctx)
		if err == nil {
			return attempts, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return attempts, lastErr
		}
		if p.Retryable != nil && !p.Retryable(err) {
			return attempts, lastErr
		}
		if attempt == p.MaxRetries {
			break
		}

		wait := p.Backoff(attempt)
		if logger != nil {
			logger.WarnContext(ctx, "retrying call",
				"attempt", attempt+1,
				"max_retries", p.MaxRetries,
				"backoff_ms", wait.Milliseconds(),
				"error", err)
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return attempts, lastErr
		case <-timer.C:
		}
	}
	return attempts, lastErr
}
