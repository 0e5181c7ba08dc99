package foliant

import "errors"

// Sentinel errors returned by foliant operations.
//
// Callers should use [errors.Is] to check error types:
//
//	if errors.Is(err, foliant.ErrCloseTimeout) {
//	    // instance is still open; retry with a longer timeout
//	}
var (
	// ErrClosed indicates the instance has been closed. Every operation on
	// a closed instance returns this error; closing is terminal.
	ErrClosed = errors.New("foliant: closed")

	// ErrCloseTimeout indicates Close could not drain in-flight work within
	// its timeout. The instance is still open and fully usable.
	//
	// Recovery: retry Close with a longer timeout.
	ErrCloseTimeout = errors.New("foliant: close timed out")

	// ErrEphemeral indicates an operation that needs a backing log file was
	// called on an ephemeral instance (for example Compact).
	ErrEphemeral = errors.New("foliant: instance is ephemeral")

	// ErrPersistent indicates an operation only defined for ephemeral
	// instances was called on a persistent one (Fork, Snapshot). Two log
	// writers on one path cannot be coordinated, so persistent instances
	// cannot be forked.
	ErrPersistent = errors.New("foliant: instance is persistent")

	// ErrCorruptLog indicates a complete log record failed its checksum or
	// did not deserialize during load. Unlike a torn tail, which repair
	// removes silently, this means the file is untrustworthy.
	//
	// Recovery: restore the log from a snapshot or backup.
	ErrCorruptLog = errors.New("foliant: corrupt log")

	// ErrInvalidOptions indicates a constructor was called with incomplete
	// options (a missing collaborator).
	//
	// This is a programming error.
	ErrInvalidOptions = errors.New("foliant: invalid options")
)
