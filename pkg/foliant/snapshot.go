package foliant

import (
	"fmt"
)

// Snapshot serializes the current value in the same minimal record format
// compaction produces and atomically publishes it at path: the file is
// staged and renamed into place, so a reader never sees a half-written
// snapshot. The resulting file loads with [Open] or [Load].
//
// Snapshot reads one published value and touches no instance state: it
// neither blocks nor is blocked by concurrent queries. Only ephemeral
// instances support it; a persistent instance's log is its snapshot.
func (db *DB) Snapshot(path string) error {
	if db.state != nil {
		return ErrPersistent
	}

	snap := db.cell.read()
	if snap.closed {
		return ErrClosed
	}

	data, err := db.encodeDump(snap.value)
	if err != nil {
		return err
	}

	err = db.opts.FS.WriteFileAtomic(path, data, 0o600)
	if err != nil {
		return fmt.Errorf("publish snapshot %s: %w", path, err)
	}

	return nil
}

// Fork returns a new independent ephemeral instance initialized with the
// current value. The two instances share no mutable state: the value
// itself is immutable, and every later write to either produces fresh
// versions invisible to the other.
//
// Persistent instances cannot fork; two log writers on one path cannot be
// coordinated.
func (db *DB) Fork() (*DB, error) {
	if db.state != nil {
		return nil, ErrPersistent
	}

	snap := db.cell.read()
	if snap.closed {
		return nil, ErrClosed
	}

	return newDB(db.opts, snap.value, nil), nil
}
