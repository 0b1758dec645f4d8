package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLimiter_SpacesSequentialCalls(t *testing.T) {
	const n = 4
	minDelay := 40 * time.Millisecond
	l := NewLimiter(minDelay)

	start := time.Now()
	for i := 0; i < n; i++ {
		require.NoError(t, l.Wait(context.Background()))
	}
	elapsed := time.Since(start)

	assert.GreaterOrEqual(t, elapsed, time.Duration(n-1)*minDelay-5*time.Millisecond)
}

func TestLimiter_FirstCallImmediate(t *testing.T) {
	l := NewLimiter(time.Hour)

	start := time.Now()
	require.NoError(t, l.Wait(context.Background()))
	assert.Less(t, time.Since(start), 100*time.Millisecond)
}

func TestLimiter_WaitHonorsContext(t *testing.T) {
	l := NewLimiter(time.Hour)
	require.NoError(t, l.Wait(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.Error(t, l.Wait(ctx))
}

func TestLimiter_Disabled(t *testing.T) {
	l := NewLimiter(0)
	for i := 0; i < 100; i++ {
		require.NoError(t, l.Wait(context.Background()))
	}
	assert.Equal(t, time.Duration(0), l.MinDelay())
}

func TestNewLimiterForRPM(t *testing.T) {
	l, err := NewLimiterForRPM(3)
	require.NoError(t, err)
	assert.Equal(t, 20*time.Second, l.MinDelay())

	_, err = NewLimiterForRPM(0)
	assert.Error(t, err)
}

func TestPolicy_Backoff(t *testing.T) {
	p := DefaultPolicy(nil)
	assert.Equal(t, time.Second, p.Backoff(0))
	assert.Equal(t, 2*time.Second, p.Backoff(1))
	assert.Equal(t, 4*time.Second, p.Backoff(2))
}

func TestPolicy_Do_SucceedsAfterRetries(t *testing.T) {
	p := Policy{MaxRetries: 3, BaseBackoff: time.Millisecond}
	calls := 0

	attempts, err := p.Do(context.Background(), nil, func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestPolicy_Do_ExhaustsRetries(t *testing.T) {
	p := Policy{MaxRetries: 3, BaseBackoff: time.Millisecond}
	sentinel := errors.New("still down")

	attempts, err := p.Do(context.Background(), nil, func(context.Context) error {
		return sentinel
	})

	assert.ErrorIs(t, err, sentinel)
	assert.Equal(t, 4, attempts)
}

func TestPolicy_Do_StopsOnNonRetryable(t *testing.T) {
	permanent := errors.New("bad request")
	p := Policy{
		MaxRetries:  3,
		BaseBackoff: time.Millisecond,
		Retryable:   func(err error) bool { return !errors.Is(err, permanent) },
	}

	attempts, err := p.Do(context.Background(), nil, func(context.Context) error {
		return permanent
	})

	assert.ErrorIs(t, err, permanent)
	assert.Equal(t, 1, attempts)
}

func TestPolicy_Do_StopsOnCancel(t *testing.T) {
	p := Policy{MaxRetries: 5, BaseBackoff: time.Hour}
	ctx, cancel := context.WithCancel(context.Background())

	attempts, err := p.Do(ctx, nil, func(context.Context) error {
		cancel()
		return errors.New("fail")
	})

	assert.Error(t, err)
	assert.Equal(t, 1, attempts)
}
