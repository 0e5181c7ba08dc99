package fs

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

// ErrLocked is returned by [Flock] when another process already holds an
// exclusive lock on the file.
//
// Callers should use [errors.Is] to check for it.
var ErrLocked = errors.New("fs: file locked by another process")

// Flock places a non-blocking exclusive advisory lock on f.
//
// flock locks apply to an open file description, not a pathname: the lock is
// released when f is closed (or by [Funlock]), and a separate open of the
// same path conflicts even within one process. Duplicated descriptors share
// their description's lock. All cooperating writers must take the lock for
// it to have effect.
//
// Returns [ErrLocked] if the lock is held elsewhere. Unix-only.
func Flock(f File) error {
	err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB)
	if err != nil {
		if errors.Is(err, unix.EWOULDBLOCK) {
			return ErrLocked
		}

		return fmt.Errorf("flock: %w", err)
	}

	return nil
}

// Funlock releases a lock previously placed by [Flock].
//
// Closing the file also releases the lock; Funlock exists for callers that
// keep the descriptor open past the locked region.
func Funlock(f File) error {
	err := unix.Flock(int(f.Fd()), unix.LOCK_UN)
	if err != nil {
		return fmt.Errorf("funlock: %w", err)
	}

	return nil
}
