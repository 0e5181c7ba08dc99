package foliant

import (
	"bytes"
	"context"
	"fmt"

	"github.com/foliantdb/foliant/pkg/record"
)

// Compact rewrites the log into the minimal form that rebuilds the current
// value: the engine's dump plus every write committed while the rewrite
// ran, in commit order. Writers are only blocked at the two short
// lock-protected boundaries, never for the rewrite itself.
//
// Compact is synchronous so resource errors reach the caller; run it from
// its own goroutine to compact in the background. It returns true when
// this call performed the compaction and false with a nil error when
// another compaction was already in flight (a deliberate no-op). Ephemeral
// instances have no log and fail with [ErrEphemeral].
//
// ctx can abandon the wait for the initial lock acquisition. After that
// the compaction runs to completion; Close joins it.
func (db *DB) Compact(ctx context.Context) (bool, error) {
	if db.state == nil {
		return false, ErrEphemeral
	}

	err := db.lock.Acquire(ctx)
	if err != nil {
		return false, err
	}

	if db.state.closing {
		db.lock.Release()

		return false, ErrClosed
	}

	if db.state.compaction != nil {
		db.lock.Release()

		return false, nil
	}

	comp := &compaction{done: make(chan struct{})}
	db.state.compaction = comp
	snap := db.cell.read()

	db.lock.Release()

	defer close(comp.done)

	db.log.Info("compaction started", "path", db.state.path)

	err = db.rewriteLog(snap.value, comp)
	if err != nil {
		db.log.Error("compaction failed", "path", db.state.path, "error", err)

		return false, err
	}

	db.log.Info("compaction finished", "path", db.state.path, "buffered_writes", len(comp.frames))

	return true, nil
}

// rewriteLog is the long phase plus finalization: stage the dump off the
// lock, then swap it in under the lock.
func (db *DB) rewriteLog(value Value, comp *compaction) error {
	staging := db.state.path + ".tmp"

	err := db.writeDump(value, staging)
	if err != nil {
		db.clearCompaction(staging)

		return err
	}

	// Finalization is not abandonable: a compaction that stops here would
	// leave the instance marked compacting forever.
	err = db.lock.Acquire(context.Background())
	if err != nil {
		_ = db.opts.FS.Remove(staging)

		return fmt.Errorf("finalize compaction: %w", err)
	}

	newWriter, err := openLogWriter(db.opts.FS, staging)
	if err != nil {
		db.state.compaction = nil
		db.lock.Release()
		_ = db.opts.FS.Remove(staging)

		return fmt.Errorf("finalize compaction: %w", err)
	}

	// The buffer is frozen now: writers queue behind this lock hold.
	for _, frame := range comp.frames {
		err = newWriter.appendFrame(frame)
		if err != nil {
			db.state.compaction = nil
			db.lock.Release()
			_ = newWriter.Close()
			_ = db.opts.FS.Remove(staging)

			return fmt.Errorf("finalize compaction: %w", err)
		}
	}

	err = db.opts.FS.Replace(staging, db.state.path)
	if err != nil {
		db.state.compaction = nil
		db.lock.Release()
		_ = newWriter.Close()
		_ = db.opts.FS.Remove(staging)

		return fmt.Errorf("swap compacted log: %w", err)
	}

	// The new log is live. From here the old writer's file is unlinked;
	// failing to close its descriptor cannot affect correctness.
	err = db.state.writer.Close()
	if err != nil {
		db.log.Warn("close pre-compaction log", "error", err)
	}

	db.state.writer = newWriter
	db.state.compaction = nil
	db.lock.Release()

	return nil
}

// clearCompaction uninstalls the write-buffer after a failed rewrite and
// removes the staging file. Buffered frames are already in the live log,
// so dropping them loses nothing.
func (db *DB) clearCompaction(staging string) {
	_ = db.opts.FS.Remove(staging)

	err := db.lock.Acquire(context.Background())
	if err != nil {
		return
	}

	db.state.compaction = nil
	db.lock.Release()
}

// encodeDump renders the minimal record sequence that rebuilds value.
func (db *DB) encodeDump(value Value) ([]byte, error) {
	queries, err := db.opts.Engine.Dump(value)
	if err != nil {
		return nil, fmt.Errorf("dump value: %w", err)
	}

	var buf bytes.Buffer

	for _, q := range queries {
		payload, err := db.opts.Codec.EncodeQuery(q)
		if err != nil {
			return nil, fmt.Errorf("encode dump record: %w", err)
		}

		frame, err := record.Encode(payload)
		if err != nil {
			return nil, fmt.Errorf("frame dump record: %w", err)
		}

		buf.Write(frame)
	}

	return buf.Bytes(), nil
}

// writeDump stages the dump of value at path, truncating any stale file
// from an earlier failed compaction.
func (db *DB) writeDump(value Value, path string) error {
	data, err := db.encodeDump(value)
	if err != nil {
		return err
	}

	file, err := db.opts.FS.Create(path)
	if err != nil {
		return fmt.Errorf("create staging file %s: %w", path, err)
	}

	_, err = file.Write(data)
	if err == nil {
		err = file.Sync()
	}

	if err != nil {
		_ = file.Close()

		return fmt.Errorf("write staging file %s: %w", path, err)
	}

	err = file.Close()
	if err != nil {
		return fmt.Errorf("close staging file %s: %w", path, err)
	}

	return nil
}
