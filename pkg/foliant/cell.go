package foliant

import "sync/atomic"

// snapshot is one published state of an instance. closed marks the
// invalidation sentinel Close installs; after that no snapshot is ever
// published again.
type snapshot struct {
	value  Value
	closed bool
}

// cell is the state cell: a single slot holding the current snapshot.
//
// read is wait-free and safe from any number of goroutines, concurrently
// with a writer. publish is a compare-and-swap and may only be called by
// the fair-lock holder (or by Close after the lock is permanently closed);
// under that discipline it cannot fail, so callers treat a failed publish
// as a fatal invariant violation rather than a condition to retry.
type cell struct {
	p atomic.Pointer[snapshot]
}

func (c *cell) init(v Value) {
	c.p.Store(&snapshot{value: v})
}

func (c *cell) read() *snapshot {
	return c.p.Load()
}

func (c *cell) publish(expected, next *snapshot) bool {
	return c.p.CompareAndSwap(expected, next)
}
