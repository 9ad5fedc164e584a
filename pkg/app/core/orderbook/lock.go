package orderbook

import (
	"context"
	"time"

	"golang.org/x/sync/semaphore"
)

// submitLock is a non-reentrant mutex whose acquisition gives up after a
// bounded wait.
type submitLock struct {
	sem  *semaphore.Weighted
	wait time.Duration
}

func newSubmitLock(wait time.Duration) *submitLock {
	return &submitLock{sem: semaphore.NewWeighted(1), wait: wait}
}

// acquire blocks until the lock is held, the wait elapses or ctx is done.
// On success the caller must call the returned release exactly once.
func (l *submitLock) acquire(ctx context.Context) (func(), error) {
	if l.wait > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.wait)
		defer cancel()
	}
	if err := l.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	return func() { l.sem.Release(1) }, nil
}
