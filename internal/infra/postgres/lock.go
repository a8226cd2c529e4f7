package postgres

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/openctemio/groups/pkg/logger"
)

// ErrLockTimeout is returned when a key stays held past the wait budget.
var ErrLockTimeout = errors.New("postgres: advisory lock wait timed out")

const (
	tryAdvisoryLockQuery = `SELECT pg_try_advisory_lock(hashtextextended($1, 0))`
	advisoryUnlockQuery  = `SELECT pg_advisory_unlock(hashtextextended($1, 0))`
)

// AdvisoryLockOptions tunes an AdvisoryLocker.
type AdvisoryLockOptions struct {
	// Prefix namespaces every key.
	Prefix string
	// Wait bounds how long Lock polls a held key. Zero means until ctx ends.
	Wait time.Duration
	// RetryDelay is the first poll interval. It doubles up to MaxRetryDelay.
	RetryDelay    time.Duration
	MaxRetryDelay time.Duration
}

func (o AdvisoryLockOptions) withDefaults() AdvisoryLockOptions {
	if o.RetryDelay <= 0 {
		o.RetryDelay = 5 * time.Millisecond
	}
	if o.MaxRetryDelay < o.RetryDelay {
		o.MaxRetryDelay = 200 * time.Millisecond
	}
	return o
}

// AdvisoryLocker is a keyed mutex shared by every process using the same
// database. Each held key pins one pooled connection carrying a
// session-level advisory lock until the key is released.
type AdvisoryLocker struct {
	db     *DB
	opts   AdvisoryLockOptions
	logger *logger.Logger
}

// NewAdvisoryLocker creates an AdvisoryLocker on db.
func NewAdvisoryLocker(db *DB, opts AdvisoryLockOptions, log *logger.Logger) *AdvisoryLocker {
	if log == nil {
		log = logger.NewNop()
	}
	return &AdvisoryLocker{
		db:     db,
		opts:   opts.withDefaults(),
		logger: log.With("component", "advisory_locker"),
	}
}

// Lock blocks until key is acquired, ctx is done or the wait budget runs out.
// The returned func releases the key and is safe to call more than once.
func (l *AdvisoryLocker) Lock(ctx context.Context, key string) (func(), error) {
	if key == "" {
		return nil, errors.New("lock key is required")
	}
	fullKey := l.opts.Prefix + key

	if l.opts.Wait > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.opts.Wait)
		defer cancel()
	}

	conn, err := l.db.Conn(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, waitError(key, 0, ctx.Err())
		}
		return nil, fmt.Errorf("advisory lock %s: %w", key, err)
	}

	delay := l.opts.RetryDelay
	for attempt := 1; ; attempt++ {
		var ok bool
		if err := conn.QueryRowContext(ctx, tryAdvisoryLockQuery, fullKey).Scan(&ok); err != nil {
			// A cancelled statement may have taken the lock server side.
			discard(conn)
			if ctx.Err() != nil {
				return nil, waitError(key, attempt, ctx.Err())
			}
			return nil, fmt.Errorf("advisory lock %s: %w", key, err)
		}
		if ok {
			return l.unlocker(conn, fullKey), nil
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			_ = conn.Close()
			return nil, waitError(key, attempt, ctx.Err())
		case <-timer.C:
		}

		delay *= 2
		if delay > l.opts.MaxRetryDelay {
			delay = l.opts.MaxRetryDelay
		}
	}
}

func waitError(key string, attempts int, ctxErr error) error {
	if errors.Is(ctxErr, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s after %d attempts", ErrLockTimeout, key, attempts)
	}
	return ctxErr
}

func (l *AdvisoryLocker) unlocker(conn *sql.Conn, key string) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			// The caller's context may already be cancelled; release on our own budget.
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()

			var ok bool
			err := conn.QueryRowContext(ctx, advisoryUnlockQuery, key).Scan(&ok)
			switch {
			case err != nil:
				l.logger.Warn("failed to release advisory lock, dropping connection", "key", key, "error", err)
				discard(conn)
				return
			case !ok:
				l.logger.Warn("advisory lock was not held at release", "key", key)
			}
			_ = conn.Close()
		})
	}
}

// discard closes the session instead of returning it to the pool, which ends
// any advisory lock it may still hold.
func discard(conn *sql.Conn) {
	_ = conn.Raw(func(any) error { return driver.ErrBadConn })
	_ = conn.Close()
}
