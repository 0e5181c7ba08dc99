package fs

import (
	"bytes"
	"os"

	"github.com/natefinch/atomic"
)

// Real implements [FS] using the real filesystem.
//
// All methods are passthroughs to the [os] package with identical behavior
// and error semantics, except [Real.Replace] and [Real.WriteFileAtomic] which
// delegate to the atomic file-replacement helpers.
type Real struct{}

// NewReal returns a new [Real] filesystem.
func NewReal() *Real {
	return &Real{}
}

// A passthrough wrapper for [os.OpenFile].
func (r *Real) OpenFile(path string, flag int, perm os.FileMode) (File, error) {
	return os.OpenFile(path, flag, perm) //nolint:gosec // paths come from the caller
}

// A passthrough wrapper for [os.Create].
func (r *Real) Create(path string) (File, error) {
	return os.Create(path) //nolint:gosec // paths come from the caller
}

// A passthrough wrapper for [os.Remove].
func (r *Real) Remove(path string) error {
	return os.Remove(path)
}

// Replace atomically replaces newpath with the file at oldpath via
// [atomic.ReplaceFile].
func (r *Real) Replace(oldpath, newpath string) error {
	return atomic.ReplaceFile(oldpath, newpath)
}

// WriteFileAtomic writes data to path via [atomic.WriteFile]: a temp file in
// the same directory, synced, then renamed over path.
func (r *Real) WriteFileAtomic(path string, data []byte, _ os.FileMode) error {
	return atomic.WriteFile(path, bytes.NewReader(data))
}

// Compile-time interface check.
var _ FS = (*Real)(nil)
