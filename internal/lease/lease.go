// Package lease provides a Redis-backed run lease so only one orchestrator
// processes postings at a time across processes.
package lease

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	// DefaultKey is the Redis key holding the lease token.
	DefaultKey = "stack-scout:run-lease"
	// DefaultTTL bounds how long a crashed holder blocks other runs.
	DefaultTTL = 15 * time.Minute
)

// ErrLeaseHeld is returned by Acquire when another holder owns the lease.
var ErrLeaseHeld = errors.New("run lease is held by another process")

// Only the holder's token may extend or delete the key.
var (
	releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

	renewScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)
)

// NewRedisClient parses redisURL and verifies connectivity.
func NewRedisClient(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("redis.ParseURL(%q): %w", redisURL, err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return client, nil
}

// Redis is a lease stored under a single key with SET NX PX. While held, a
// background goroutine extends the expiry every TTL/3.
type Redis struct {
	client redis.UniversalClient
	key    string
	ttl    time.Duration
	logger *slog.Logger
}

// NewRedis creates a Redis lease. Empty key and non-positive ttl use the defaults.
func NewRedis(client redis.UniversalClient, key string, ttl time.Duration, logger *slog.Logger) *Redis {
	if key == "" {
		key = DefaultKey
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Redis{client: client, key: key, ttl: ttl, logger: logger}
}

// Acquire takes the lease or returns ErrLeaseHeld. The returned release func
// stops renewal and deletes the key if this holder still owns it.
func (l *Redis) Acquire(ctx context.Context) (func(context.Context) error, error) {
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, l.key, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire run lease: %w", err)
	}
	if !ok {
		return nil, ErrLeaseHeld
	}
	l.logger.DebugContext(ctx, "run lease acquired", "key", l.key, "ttl", l.ttl)

	renewCtx, stop := context.WithCancel(context.WithoutCancel(ctx))
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		l.renew(renewCtx, token)
	}()

	var once sync.Once
	release := func(ctx context.Context) error {
		var err error
		once.Do(func() {
			stop()
			wg.Wait()
			if rerr := releaseScript.Run(ctx, l.client, []string{l.key}, token).Err(); rerr != nil {
				err = fmt.Errorf("failed to release run lease: %w", rerr)
				return
			}
			l.logger.DebugContext(ctx, "run lease released", "key", l.key)
		})
		return err
	}
	return release, nil
}

func (l *Redis) renew(ctx context.Context, token string) {
	ticker := time.NewTicker(l.ttl / 3)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := renewScript.Run(ctx, l.client, []string{l.key}, token, l.ttl.Milliseconds()).Int()
			switch {
			case err != nil && ctx.Err() == nil:
				l.logger.WarnContext(ctx, "failed to renew run lease", "key", l.key, "error", err)
			case err == nil && n == 0:
				l.logger.WarnContext(ctx, "run lease lost", "key", l.key)
				return
			}
		}
	}
}

// Noop is used when no Redis is configured; the in-process run lock still applies.
type Noop struct{}

// Acquire always succeeds.
func (Noop) Acquire(context.Context) (func(context.Context) error, error) {
	return func(context.Context) error { return nil }, nil
}
