package foliant

import (
	"context"
	"fmt"

	"github.com/foliantdb/foliant/pkg/record"
)

// Query validates q and executes it.
//
// Read-only queries (per the classifier) run lock-free against the
// currently published value: they never block and never observe a torn
// state. Mutating queries serialize behind the fair write lock; ctx can
// abandon the wait for the lock, but once the lock is held the write runs
// to completion. On a persistent instance the write is durable before
// Query returns its result.
func (db *DB) Query(ctx context.Context, q Query) (Result, error) {
	err := db.opts.Validator.Validate(q)
	if err != nil {
		return nil, err
	}

	if db.opts.Classifier.IsReadOnly(q) {
		snap := db.cell.read()
		if snap.closed {
			return nil, ErrClosed
		}

		return db.opts.Engine.Read(snap.value, q)
	}

	return db.write(ctx, q)
}

// write runs the full write path: apply the engine, append the record to
// the log (and the compaction buffer, if one is installed), then publish
// the successor value.
func (db *DB) write(ctx context.Context, q Query) (Result, error) {
	// Encode before taking the lock; an encoding failure must mutate
	// nothing, and the bytes are reused for the log and the write-buffer.
	var frame []byte

	if db.state != nil {
		payload, err := db.opts.Codec.EncodeQuery(q)
		if err != nil {
			return nil, fmt.Errorf("encode query: %w", err)
		}

		frame, err = record.Encode(payload)
		if err != nil {
			return nil, fmt.Errorf("frame query: %w", err)
		}
	}

	err := db.lock.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer db.lock.Release()

	cur := db.cell.read()

	next, result, err := db.opts.Engine.Apply(cur.value, q)
	if err != nil {
		return nil, err
	}

	if db.state != nil {
		err = db.state.writer.appendFrame(frame)
		if err != nil {
			// Not acknowledged, not published: the write never happened.
			return nil, err
		}

		if comp := db.state.compaction; comp != nil {
			comp.frames = append(comp.frames, frame)
		}
	}

	if !db.cell.publish(cur, &snapshot{value: next}) {
		panic("foliant: state cell publish failed while holding the write lock")
	}

	return result, nil
}
