package foliant

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// FairLock is a mutual-exclusion lock with FIFO grant order: ownership is
// handed to waiters in the order their Acquire calls arrived, so no writer
// starves under contention.
//
// The zero value is an open, unheld lock.
type FairLock struct {
	mu      sync.Mutex
	held    bool
	closed  bool
	waiters []*waiter
}

// waiter is one queued Acquire or CloseWithin call. ready fires exactly
// once: with err nil the waiter owns the lock, otherwise the lock closed
// underneath it.
type waiter struct {
	ready chan struct{}
	err   error
}

// Acquire blocks until the caller owns the lock, the lock is closed
// (ErrClosed), or ctx ends. Cancellation abandons only the wait: if the
// grant and the cancellation race, the grant wins and Acquire returns nil.
func (l *FairLock) Acquire(ctx context.Context) error {
	l.mu.Lock()

	if l.closed {
		l.mu.Unlock()

		return ErrClosed
	}

	if !l.held && len(l.waiters) == 0 {
		l.held = true
		l.mu.Unlock()

		return nil
	}

	w := &waiter{ready: make(chan struct{})}
	l.waiters = append(l.waiters, w)
	l.mu.Unlock()

	select {
	case <-w.ready:
		return w.err
	case <-ctx.Done():
	}

	l.mu.Lock()

	select {
	case <-w.ready:
		// Granted (or closed) between ctx firing and us re-locking.
		l.mu.Unlock()

		return w.err
	default:
	}

	l.removeWaiter(w)
	l.mu.Unlock()

	return fmt.Errorf("abandoned lock wait: %w", context.Cause(ctx))
}

// Release hands ownership to the next waiter in arrival order, or marks the
// lock free. Calling Release without owning the lock panics.
func (l *FairLock) Release() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.held {
		panic("foliant: Release of a lock that is not held")
	}

	if len(l.waiters) > 0 {
		// Ownership transfers directly, so held stays true.
		next := l.waiters[0]
		l.waiters = l.waiters[1:]
		close(next.ready)

		return
	}

	l.held = false
}

// CloseWithin waits for the holder and every earlier waiter to drain, then
// permanently disables the lock; later Acquire calls fail with ErrClosed.
// It queues like any other waiter, so work already in line completes first.
//
// If the lock does not drain within timeout, CloseWithin returns
// ErrCloseTimeout and the lock stays open and usable. On an already-closed
// lock it returns ErrClosed.
func (l *FairLock) CloseWithin(timeout time.Duration) error {
	l.mu.Lock()

	if l.closed {
		l.mu.Unlock()

		return ErrClosed
	}

	if !l.held && len(l.waiters) == 0 {
		l.closed = true
		l.mu.Unlock()

		return nil
	}

	w := &waiter{ready: make(chan struct{})}
	l.waiters = append(l.waiters, w)
	l.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-w.ready:
		if w.err != nil {
			// Another close won the race.
			return w.err
		}

		l.closeDrained()

		return nil
	case <-timer.C:
	}

	l.mu.Lock()

	select {
	case <-w.ready:
		// Drained exactly at the deadline; finish the close.
		l.mu.Unlock()

		if w.err != nil {
			return w.err
		}

		l.closeDrained()

		return nil
	default:
	}

	l.removeWaiter(w)
	l.mu.Unlock()

	return fmt.Errorf("lock did not drain: %w", ErrCloseTimeout)
}

// closeDrained completes a close whose waiter was granted: the caller owns
// the lock and nothing queued before it remains. Everything that queued
// after the close is rejected.
func (l *FairLock) closeDrained() {
	l.mu.Lock()

	l.closed = true
	l.held = false
	rejected := l.waiters
	l.waiters = nil

	l.mu.Unlock()

	for _, w := range rejected {
		w.err = ErrClosed
		close(w.ready)
	}
}

// removeWaiter drops w from the queue. Callers must hold mu.
func (l *FairLock) removeWaiter(target *waiter) {
	for idx, w := range l.waiters {
		if w == target {
			l.waiters = append(l.waiters[:idx], l.waiters[idx+1:]...)

			return
		}
	}
}
