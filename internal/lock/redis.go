package lock

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/redis/go-redis/v9"
)

const (
	defaultKeyPrefix  = "lock:benefit:"
	defaultExpiry     = 10 * time.Second
	defaultRetryDelay = 50 * time.Millisecond
	defaultWait       = 2 * time.Second
	maxTries          = 1000
)

// RedisOptions tunes the distributed locker.
type RedisOptions struct {
	// Prefix is prepended to every key.
	Prefix string
	// Expiry bounds how long a lease survives a crashed holder.
	Expiry time.Duration
	// Wait is the total time spent retrying before ErrTimeout.
	Wait time.Duration
	// RetryDelay is the pause between attempts.
	RetryDelay time.Duration
}

func (o RedisOptions) withDefaults() RedisOptions {
	if o.Prefix == "" {
		o.Prefix = defaultKeyPrefix
	}
	if o.Expiry <= 0 {
		o.Expiry = defaultExpiry
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = defaultRetryDelay
	}
	if o.Wait <= 0 {
		o.Wait = defaultWait
	}
	return o
}

func (o RedisOptions) tries() int {
	n := int(o.Wait/o.RetryDelay) + 1
	if n > maxTries {
		return maxTries
	}
	return n
}

// RedisLocker is a Locker backed by the RedLock algorithm, so that several
// service instances sharing one database serialize on the same keys.
type RedisLocker struct {
	rs   *redsync.Redsync
	opts RedisOptions
}

// NewRedisLocker builds a distributed locker on top of an existing client.
func NewRedisLocker(client *redis.Client, opts RedisOptions) (*RedisLocker, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	pool := goredis.NewPool(client)
	return &RedisLocker{rs: redsync.New(pool), opts: opts.withDefaults()}, nil
}

// Acquire takes the lease on key, retrying until the configured wait elapses.
func (l *RedisLocker) Acquire(ctx context.Context, key string) (Unlock, error) {
	if key == "" {
		return nil, ErrEmptyKey
	}

	mutex := l.rs.NewMutex(
		l.opts.Prefix+key,
		redsync.WithExpiry(l.opts.Expiry),
		redsync.WithTries(l.opts.tries()),
		redsync.WithRetryDelay(l.opts.RetryDelay),
	)

	if err := mutex.LockContext(ctx); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if isContention(err) {
			return nil, ErrTimeout
		}
		return nil, fmt.Errorf("acquire %s: %w", key, err)
	}

	var (
		once   sync.Once
		result error
	)
	return func(ctx context.Context) error {
		once.Do(func() {
			ok, err := mutex.UnlockContext(ctx)
			switch {
			case err != nil && isContention(err):
				result = ErrNotHeld
			case err != nil:
				result = fmt.Errorf("release %s: %w", key, err)
			case !ok:
				result = ErrNotHeld
			}
		})
		return result
	}, nil
}

func isContention(err error) bool {
	if errors.Is(err, redsync.ErrFailed) || errors.Is(err, redsync.ErrLockAlreadyExpired) {
		return true
	}
	var taken *redsync.ErrTaken
	if errors.As(err, &taken) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "lock already taken") ||
		strings.Contains(msg, "failed to acquire lock") ||
		strings.Contains(msg, "already expired")
}
