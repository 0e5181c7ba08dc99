package foliant

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Close drains the instance and invalidates it. The whole shutdown shares
// one budget: acquire the lock to mark the instance closing, join any
// in-flight compaction, close the lock FIFO-fairly (work already queued
// completes first), close the log writer, and publish the closed sentinel
// so late readers see [ErrClosed].
//
// If any wait exceeds the budget, Close returns [ErrCloseTimeout] and the
// instance stays open and fully usable; nothing is force-closed while a
// writer could still hold it. Closing an already-closed instance returns
// [ErrClosed].
func (db *DB) Close(timeout time.Duration) error {
	err := db.drain(time.Now().Add(timeout))
	if err != nil {
		if errors.Is(err, ErrCloseTimeout) {
			db.log.Error("close timed out", "error", err)
		}

		return err
	}

	// The lock is permanently closed: no writer or compaction can ever
	// run again, so the remaining teardown races with nothing.
	var closeErr error

	if db.state != nil {
		closeErr = db.state.writer.Close()
	}

	cur := db.cell.read()
	if !db.cell.publish(cur, &snapshot{closed: true}) {
		panic("foliant: state cell publish failed during close")
	}

	db.log.Info("closed")

	return closeErr
}

// drain runs the waiting half of Close: mark closing, join the in-flight
// compaction, close the lock. On timeout it unmarks closing so the
// instance keeps working (try semantics).
func (db *DB) drain(deadline time.Time) error {
	comp, err := db.beginClose(deadline)
	if err != nil {
		return err
	}

	if comp != nil {
		err = db.joinCompaction(comp, deadline)
		if err != nil {
			db.cancelClose()

			return err
		}
	}

	err = db.lock.CloseWithin(time.Until(deadline))
	if err != nil {
		if errors.Is(err, ErrCloseTimeout) {
			db.cancelClose()
		}

		return err
	}

	return nil
}

// beginClose marks the instance closing under the lock so no new
// compaction starts, and hands back the one that may already be running.
func (db *DB) beginClose(deadline time.Time) (*compaction, error) {
	ctx, cancel := context.WithDeadline(context.Background(), deadline)
	defer cancel()

	err := db.lock.Acquire(ctx)
	if err != nil {
		if errors.Is(err, ErrClosed) {
			return nil, ErrClosed
		}

		return nil, fmt.Errorf("%w: lock busy", ErrCloseTimeout)
	}

	var comp *compaction

	if db.state != nil {
		db.state.closing = true
		comp = db.state.compaction
	}

	db.lock.Release()

	return comp, nil
}

// joinCompaction waits for the in-flight compaction's goroutine to return.
// Its lock sections are short; the wait covers the long rewrite phase.
func (db *DB) joinCompaction(comp *compaction, deadline time.Time) error {
	timer := time.NewTimer(time.Until(deadline))
	defer timer.Stop()

	select {
	case <-comp.done:
		return nil
	case <-timer.C:
		return fmt.Errorf("%w: compaction still running", ErrCloseTimeout)
	}
}

// cancelClose clears the closing mark after a timed-out close, restoring
// try semantics: the instance stays usable and Compact works again.
func (db *DB) cancelClose() {
	if db.state == nil {
		return
	}

	err := db.lock.Acquire(context.Background())
	if err != nil {
		return
	}

	db.state.closing = false
	db.lock.Release()
}
