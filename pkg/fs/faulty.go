package fs

import (
	"os"
	"sync"
)

// Op identifies a filesystem operation for fault targeting.
type Op string

// Operations that [Faulty] can fail. The File* ops apply to files returned
// by OpenFile/Create.
const (
	OpOpenFile    Op = "openfile"
	OpCreate      Op = "create"
	OpRemove      Op = "remove"
	OpReplace     Op = "replace"
	OpWriteAtomic Op = "writeatomic"

	OpFileRead     Op = "file.read"
	OpFileWrite    Op = "file.write"
	OpFileSync     Op = "file.sync"
	OpFileTruncate Op = "file.truncate"
)

// Faulty wraps an [FS] and fails selected operations with caller-chosen
// errors, deterministically.
//
// Unlike probabilistic chaos injection, faults are targeted: tests name the
// exact operation (and how many calls to let through first), so failure-path
// assertions are reproducible without seeds.
//
// Faulty is safe for concurrent use.
type Faulty struct {
	base FS

	mu     sync.Mutex
	faults map[Op]*fault
}

type fault struct {
	err   error
	skip  int // successful calls to allow before failing
	times int // failures to inject before disarming; 0 means forever
}

// NewFaulty returns a Faulty wrapping base. With no faults armed it behaves
// exactly like base.
func NewFaulty(base FS) *Faulty {
	return &Faulty{
		base:   base,
		faults: make(map[Op]*fault),
	}
}

// FailOp makes every subsequent call of op return err.
func (f *Faulty) FailOp(op Op, err error) {
	f.FailOpAfter(op, 0, err)
}

// FailOpAfter lets skip calls of op succeed, then fails every later call
// with err.
func (f *Faulty) FailOpAfter(op Op, skip int, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.faults[op] = &fault{err: err, skip: skip}
}

// FailOpOnce fails the next call of op with err and then disarms, letting
// later calls through. Recovery paths (rollbacks, retries) see a healthy
// filesystem again.
func (f *Faulty) FailOpOnce(op Op, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.faults[op] = &fault{err: err, times: 1}
}

// Reset disarms all faults.
func (f *Faulty) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.faults = make(map[Op]*fault)
}

// check returns the armed error for op, honoring the skip and times counts.
func (f *Faulty) check(op Op) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	fa := f.faults[op]
	if fa == nil {
		return nil
	}

	if fa.skip > 0 {
		fa.skip--

		return nil
	}

	if fa.times > 0 {
		fa.times--
		if fa.times == 0 {
			delete(f.faults, op)
		}
	}

	return fa.err
}

func (f *Faulty) OpenFile(path string, flag int, perm os.FileMode) (File, error) {
	err := f.check(OpOpenFile)
	if err != nil {
		return nil, err
	}

	file, err := f.base.OpenFile(path, flag, perm)
	if err != nil {
		return nil, err
	}

	return &faultyFile{File: file, owner: f}, nil
}

func (f *Faulty) Create(path string) (File, error) {
	err := f.check(OpCreate)
	if err != nil {
		return nil, err
	}

	file, err := f.base.Create(path)
	if err != nil {
		return nil, err
	}

	return &faultyFile{File: file, owner: f}, nil
}

func (f *Faulty) Remove(path string) error {
	err := f.check(OpRemove)
	if err != nil {
		return err
	}

	return f.base.Remove(path)
}

func (f *Faulty) Replace(oldpath, newpath string) error {
	err := f.check(OpReplace)
	if err != nil {
		return err
	}

	return f.base.Replace(oldpath, newpath)
}

func (f *Faulty) WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	err := f.check(OpWriteAtomic)
	if err != nil {
		return err
	}

	return f.base.WriteFileAtomic(path, data, perm)
}

// faultyFile intercepts the File operations Faulty can fail; everything else
// passes through to the real file.
type faultyFile struct {
	File

	owner *Faulty
}

func (f *faultyFile) Read(p []byte) (int, error) {
	err := f.owner.check(OpFileRead)
	if err != nil {
		return 0, err
	}

	return f.File.Read(p)
}

func (f *faultyFile) Write(p []byte) (int, error) {
	err := f.owner.check(OpFileWrite)
	if err != nil {
		return 0, err
	}

	return f.File.Write(p)
}

func (f *faultyFile) Sync() error {
	err := f.owner.check(OpFileSync)
	if err != nil {
		return err
	}

	return f.File.Sync()
}

func (f *faultyFile) Truncate(size int64) error {
	err := f.owner.check(OpFileTruncate)
	if err != nil {
		return err
	}

	return f.File.Truncate(size)
}

// Compile-time interface check.
var _ FS = (*Faulty)(nil)
