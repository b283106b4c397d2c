package slack

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// fetchLockTTL is the hard upper bound on how long a fetch-in-progress may
// block other resolvers for the same key. A fetch that hangs past this is
// force-cleared; its late release becomes a no-op.
const fetchLockTTL = time.Minute

// fetch lock groups, one per entity class
const (
	lockGroupUser    = "user"
	lockGroupBot     = "bot"
	lockGroupChannel = "chan"
)

type fetchLock struct {
	token string
	timer *time.Timer
	done  chan struct{}
}

// fetchLocker deduplicates concurrent fetches: at most one live lock exists
// per (group, subKey) at any time. Losers of an Acquire race wait on the
// winner's done channel instead of polling.
type fetchLocker struct {
	ttl   time.Duration
	mu    sync.Mutex
	locks map[string]*fetchLock
}

func newFetchLocker() *fetchLocker {
	return &fetchLocker{
		ttl:   fetchLockTTL,
		locks: make(map[string]*fetchLock),
	}
}

// Acquire atomically creates a lock for the given key and returns its token.
// If the key is already locked, it returns false without creating anything.
func (l *fetchLocker) Acquire(group, subKey string) (string, bool) {
	key := lockKey(group, subKey)
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.locks[key]; ok {
		return "", false
	}
	lock := &fetchLock{
		token: uuid.NewString(),
		done:  make(chan struct{}),
	}
	lock.timer = time.AfterFunc(l.ttl, func() {
		l.expire(key, lock.token)
	})
	l.locks[key] = lock
	return lock.token, true
}

// Release removes the lock if the token still matches the live lock for the
// key. A stale token (from an expired or superseded lock) is a no-op, so a
// late-finishing fetch cannot clear a newer holder's lock.
func (l *fetchLocker) Release(group, subKey, token string) {
	key := lockKey(group, subKey)
	l.mu.Lock()
	defer l.mu.Unlock()
	lock, ok := l.locks[key]
	if !ok || lock.token != token {
		return
	}
	lock.timer.Stop()
	delete(l.locks, key)
	close(lock.done)
}

// Held reports whether a live lock exists for the key
func (l *fetchLocker) Held(group, subKey string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.locks[lockKey(group, subKey)]
	return ok
}

// Wait blocks until the current lock for the key is released or expires, or
// until the context is canceled. It returns immediately if the key is free.
func (l *fetchLocker) Wait(ctx context.Context, group, subKey string) error {
	l.mu.Lock()
	lock, ok := l.locks[lockKey(group, subKey)]
	l.mu.Unlock()
	if !ok {
		return nil
	}
	select {
	case <-lock.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *fetchLocker) expire(key, token string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	lock, ok := l.locks[key]
	if !ok || lock.token != token {
		return
	}
	delete(l.locks, key)
	close(lock.done)
}

func lockKey(group, subKey string) string {
	return group + "_" + subKey
}
