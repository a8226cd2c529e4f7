package redis

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/openctemio/groups/pkg/logger"
)

// ErrLockTimeout is returned when a key stays held past the wait budget.
var ErrLockTimeout = errors.New("redis: lock wait timed out")

// releaseScript deletes the key only while it still holds our token, so an
// expired lock that another process re-acquired is left alone.
var releaseScript = redis.NewScript(`
	if redis.call('GET', KEYS[1]) == ARGV[1] then
		return redis.call('DEL', KEYS[1])
	end
	return 0
`)

// lockStore is the pair of atomic primitives the Locker needs.
type lockStore interface {
	acquire(ctx context.Context, key, token string, ttl time.Duration) (bool, error)
	release(ctx context.Context, key, token string) (bool, error)
}

type clientStore struct {
	client *redis.Client
}

func (s clientStore) acquire(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	return s.client.SetNX(ctx, key, token, ttl).Result()
}

func (s clientStore) release(ctx context.Context, key, token string) (bool, error) {
	n, err := releaseScript.Run(ctx, s.client, []string{key}, token).Int()
	return n == 1, err
}

// LockOptions tunes a Locker.
type LockOptions struct {
	// Prefix namespaces every key.
	Prefix string
	// TTL bounds how long a crashed holder keeps a key.
	TTL time.Duration
	// Wait bounds how long Lock polls a held key. Zero means until ctx ends.
	Wait time.Duration
	// RetryDelay is the first poll interval. It doubles up to MaxRetryDelay.
	RetryDelay    time.Duration
	MaxRetryDelay time.Duration
}

func (o LockOptions) withDefaults() LockOptions {
	if o.TTL <= 0 {
		o.TTL = 10 * time.Second
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = 5 * time.Millisecond
	}
	if o.MaxRetryDelay < o.RetryDelay {
		o.MaxRetryDelay = 200 * time.Millisecond
	}
	return o
}

// Locker is a keyed mutex shared by every process using the same Redis.
// Each acquisition stores a random token with SET NX PX and releases with a
// compare-and-delete script.
type Locker struct {
	store   lockStore
	opts    LockOptions
	logger  *logger.Logger
	metrics *Metrics
}

// NewLocker creates a Locker on client.
func NewLocker(client *Client, opts LockOptions) *Locker {
	return newLocker(clientStore{client: client.client}, opts, client.logger)
}

func newLocker(store lockStore, opts LockOptions, log *logger.Logger) *Locker {
	if log == nil {
		log = logger.NewNop()
	}
	return &Locker{
		store:   store,
		opts:    opts.withDefaults(),
		logger:  log.With("component", "redis_locker"),
		metrics: DefaultMetrics,
	}
}

// Lock blocks until key is acquired, ctx is done or the wait budget runs out.
// The returned func releases the key and is safe to call more than once.
func (l *Locker) Lock(ctx context.Context, key string) (func(), error) {
	if key == "" {
		return nil, errors.New("lock key is required")
	}

	fullKey := l.opts.Prefix + key
	token := uuid.NewString()

	if l.opts.Wait > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.opts.Wait)
		defer cancel()
	}

	start := time.Now()
	delay := l.opts.RetryDelay
	for attempt := 1; ; attempt++ {
		ok, err := l.store.acquire(ctx, fullKey, token, l.opts.TTL)
		if err != nil && ctx.Err() != nil {
			return nil, l.waitError(key, attempt, ctx.Err())
		}
		if err != nil {
			l.metrics.ObserveOperation("lock_acquire", time.Since(start), err)
			return nil, fmt.Errorf("redis lock %s: %w", key, err)
		}
		if ok {
			l.metrics.ObserveOperation("lock_acquire", time.Since(start), nil)
			l.metrics.RecordLockContention(attempt > 1)
			return l.unlocker(fullKey, token), nil
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, l.waitError(key, attempt, ctx.Err())
		case <-timer.C:
		}

		delay *= 2
		if delay > l.opts.MaxRetryDelay {
			delay = l.opts.MaxRetryDelay
		}
	}
}

func (l *Locker) waitError(key string, attempts int, ctxErr error) error {
	l.metrics.RecordLockTimeout()
	if errors.Is(ctxErr, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s after %d attempts", ErrLockTimeout, key, attempts)
	}
	return ctxErr
}

func (l *Locker) unlocker(key, token string) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			// The caller's context may already be cancelled; release on our own budget.
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()

			ok, err := l.store.release(ctx, key, token)
			switch {
			case err != nil:
				l.logger.Warn("failed to release lock, it will expire", "key", key, "ttl", l.opts.TTL, "error", err)
			case !ok:
				l.logger.Warn("lock expired before release", "key", key, "ttl", l.opts.TTL)
			}
		})
	}
}
