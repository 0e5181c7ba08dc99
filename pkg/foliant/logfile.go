package foliant

import (
	"fmt"
	"os"

	"github.com/foliantdb/foliant/pkg/fs"
)

// logWriter appends framed records to the durable log. Every append is
// flushed to stable storage before it returns, so an acknowledged write
// survives a crash.
//
// The writer holds an exclusive flock on the file for its whole lifetime;
// a second process opening the same log fails with fs.ErrLocked.
//
// All methods are called with the fair write lock held.
type logWriter struct {
	file fs.File
	path string

	// size is the committed log length. A failed append rolls the file
	// back to it so a torn frame can never be followed by a complete one.
	size int64

	// err latches an append failure whose rollback also failed. From that
	// point the log tail is suspect and every further append is refused.
	err error
}

// openLogWriter opens (or creates) the log at path for appending and takes
// the exclusive flock.
func openLogWriter(fsys fs.FS, path string) (*logWriter, error) {
	file, err := fsys.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open log %s: %w", path, err)
	}

	err = fs.Flock(file)
	if err != nil {
		_ = file.Close()

		return nil, fmt.Errorf("lock log %s: %w", path, err)
	}

	info, err := file.Stat()
	if err != nil {
		_ = file.Close()

		return nil, fmt.Errorf("stat log %s: %w", path, err)
	}

	return &logWriter{file: file, path: path, size: info.Size()}, nil
}

// adoptLogWriter wraps an already-open, already-locked, already-repaired
// file as a writer. The file must be in append mode.
func adoptLogWriter(file fs.File, path string) (*logWriter, error) {
	info, err := file.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat log %s: %w", path, err)
	}

	return &logWriter{file: file, path: path, size: info.Size()}, nil
}

// appendFrame writes one pre-encoded record frame and flushes it.
//
// On failure it truncates the file back to the last committed length, so
// the log never holds a torn frame in front of later complete ones. If the
// rollback itself fails the writer latches the error and refuses further
// appends.
func (w *logWriter) appendFrame(frame []byte) error {
	if w.err != nil {
		return fmt.Errorf("log writer unusable after earlier failure: %w", w.err)
	}

	_, writeErr := w.file.Write(frame)
	if writeErr == nil {
		writeErr = w.file.Sync()
	}

	if writeErr == nil {
		w.size += int64(len(frame))

		return nil
	}

	rollbackErr := w.file.Truncate(w.size)
	if rollbackErr == nil {
		rollbackErr = w.file.Sync()
	}

	if rollbackErr != nil {
		w.err = fmt.Errorf("append failed (%v) and rollback failed: %w", writeErr, rollbackErr)

		return fmt.Errorf("append record to %s: %w", w.path, w.err)
	}

	return fmt.Errorf("append record to %s: %w", w.path, writeErr)
}

// Close releases the file and its flock.
func (w *logWriter) Close() error {
	err := w.file.Close()
	if err != nil {
		return fmt.Errorf("close log %s: %w", w.path, err)
	}

	return nil
}
