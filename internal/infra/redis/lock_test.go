package redis

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeStore mimics SET NX and the compare-and-delete script.
type fakeStore struct {
	mu         sync.Mutex
	keys       map[string]string
	acquireErr error
	acquires   int
}

func newFakeStore() *fakeStore {
	return &fakeStore{keys: make(map[string]string)}
}

func (s *fakeStore) acquire(ctx context.Context, key, token string, _ time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.acquires++
	if s.acquireErr != nil {
		return false, s.acquireErr
	}
	if _, held := s.keys[key]; held {
		return false, nil
	}
	s.keys[key] = token
	return true, nil
}

func (s *fakeStore) release(_ context.Context, key, token string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.keys[key] != token {
		return false, nil
	}
	delete(s.keys, key)
	return true, nil
}

func (s *fakeStore) expire(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.keys, key)
}

func (s *fakeStore) held(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.keys[key]
	return ok
}

func TestLocker_LockUnlock(t *testing.T) {
	store := newFakeStore()
	l := newLocker(store, LockOptions{Prefix: "test:"}, nil)

	unlock, err := l.Lock(context.Background(), "a")
	require.NoError(t, err)
	assert.True(t, store.held("test:a"))

	unlock()
	assert.False(t, store.held("test:a"))

	// second call is a no-op
	unlock()
}

func TestLocker_WaitsForRelease(t *testing.T) {
	store := newFakeStore()
	l := newLocker(store, LockOptions{RetryDelay: time.Millisecond, MaxRetryDelay: 2 * time.Millisecond}, nil)

	unlock, err := l.Lock(context.Background(), "k")
	require.NoError(t, err)

	var acquired atomic.Bool
	done := make(chan error, 1)
	go func() {
		u, err := l.Lock(context.Background(), "k")
		if err == nil {
			acquired.Store(true)
			u()
		}
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	assert.False(t, acquired.Load())

	unlock()
	require.NoError(t, <-done)
	assert.True(t, acquired.Load())
}

func TestLocker_WaitBudget(t *testing.T) {
	store := newFakeStore()
	l := newLocker(store, LockOptions{Wait: 20 * time.Millisecond, RetryDelay: time.Millisecond}, nil)

	_, err := l.Lock(context.Background(), "k")
	require.NoError(t, err)

	_, err = l.Lock(context.Background(), "k")
	assert.ErrorIs(t, err, ErrLockTimeout)
}

func TestLocker_ContextCancelled(t *testing.T) {
	store := newFakeStore()
	l := newLocker(store, LockOptions{RetryDelay: time.Millisecond}, nil)

	_, err := l.Lock(context.Background(), "k")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = l.Lock(ctx, "k")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestLocker_StoreError(t *testing.T) {
	store := newFakeStore()
	store.acquireErr = errors.New("connection refused")
	l := newLocker(store, LockOptions{}, nil)

	_, err := l.Lock(context.Background(), "k")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
	assert.Equal(t, 1, store.acquires)
}

func TestLocker_ExpiredLockIsNotStolenBack(t *testing.T) {
	store := newFakeStore()
	l := newLocker(store, LockOptions{}, nil)

	unlockA, err := l.Lock(context.Background(), "k")
	require.NoError(t, err)

	// A's TTL lapses and B takes the key.
	store.expire("k")
	unlockB, err := l.Lock(context.Background(), "k")
	require.NoError(t, err)

	unlockA()
	assert.True(t, store.held("k"), "A must not release B's lock")

	unlockB()
	assert.False(t, store.held("k"))
}

func TestLocker_EmptyKey(t *testing.T) {
	l := newLocker(newFakeStore(), LockOptions{}, nil)
	_, err := l.Lock(context.Background(), "")
	assert.Error(t, err)
}

func TestLockOptions_Defaults(t *testing.T) {
	o := LockOptions{}.withDefaults()
	assert.Equal(t, 10*time.Second, o.TTL)
	assert.Equal(t, 5*time.Millisecond, o.RetryDelay)
	assert.Equal(t, 200*time.Millisecond, o.MaxRetryDelay)
}
