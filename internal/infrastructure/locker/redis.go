package locker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/redis/go-redis/v9"
)

// RedisOptions configures lock behavior.
type RedisOptions struct {
	// Expiry is how long the lock is held before auto-expiring
	Expiry time.Duration
	// Tries is the number of acquisition attempts
	Tries int
	// RetryDelay is the delay between attempts
	RetryDelay time.Duration
	// Prefix is prepended to every key
	Prefix string
}

// DefaultRedisOptions returns defaults sized for a single ledger append.
func DefaultRedisOptions() RedisOptions {
	return RedisOptions{
		Expiry:     10 * time.Second,
		Tries:      32,
		RetryDelay: 100 * time.Millisecond,
		Prefix:     "reconcile:lock:",
	}
}

// RedisLocker serializes appends across processes with redsync.
type RedisLocker struct {
	redsync *redsync.Redsync
	opts    RedisOptions
	logger  *slog.Logger
}

// NewRedisLocker creates a locker over an existing go-redis client.
func NewRedisLocker(client redis.UniversalClient, opts RedisOptions, logger *slog.Logger) *RedisLocker {
	if logger == nil {
		logger = slog.Default()
	}
	defaults := DefaultRedisOptions()
	if opts.Expiry <= 0 {
		opts.Expiry = defaults.Expiry
	}
	if opts.Tries <= 0 {
		opts.Tries = defaults.Tries
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = defaults.RetryDelay
	}
	return &RedisLocker{
		redsync: redsync.New(goredis.NewPool(client)),
		opts:    opts,
		logger:  logger,
	}
}

// WithLock runs fn while holding the distributed lock for key.
func (l *RedisLocker) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	name := l.opts.Prefix + key
	mutex := l.redsync.NewMutex(
		name,
		redsync.WithExpiry(l.opts.Expiry),
		redsync.WithTries(l.opts.Tries),
		redsync.WithRetryDelay(l.opts.RetryDelay),
	)

	if err := mutex.LockContext(ctx); err != nil {
		return fmt.Errorf("failed to acquire lock %s: %w", name, err)
	}

	defer func() {
		// Release even when the caller's context is already done
		if ok, err := mutex.UnlockContext(context.WithoutCancel(ctx)); !ok || err != nil {
			l.logger.Error("failed to release lock", "key", name, "ok", ok, "error", err)
		}
	}()

	return fn(ctx)
}
