// Package foliant is the persistence and concurrency core of an embedded
// document database.
//
// An instance manages a single in-process database value. The value itself
// is opaque to this package: a query engine (see [Engine]) produces and
// interprets it, and every version of it is immutable. foliant's job is
// everything around that value: serializing writers, making acknowledged
// writes durable, recovering from crashes, and compacting the log online.
//
// # Concurrency model
//
// Reads are lock-free. The current value lives in a state cell (one atomic
// pointer); a read query runs against whatever version is published at that
// instant and can never observe a torn or in-progress state.
//
// Writes are serialized by a fair write lock with FIFO grant order, so no
// writer starves under contention. A write holds the lock for the full
// apply → log-append → publish sequence: the engine computes the successor
// value, the query's record is appended and flushed to the log, and only
// then is the new version published with a compare-and-swap. A CAS that
// fails while holding the lock is a broken invariant and panics.
//
// # Durability
//
// Persistent instances log every committed write as one framed record (see
// the record package) and fsync before acknowledging. A crash can therefore
// lose at most the single in-flight write that was never acknowledged. On
// load, the tail of the log is repaired: bytes after the last record
// terminator are truncated away, then every complete record is replayed in
// order. A complete record that fails its checksum or does not parse makes
// the load fail; that is corruption, not a crash artifact.
//
// # Compaction
//
// Compact rewrites the log into a minimal equivalent form without stopping
// writers. It snapshots the current value under the lock, installs a write
// buffer, and releases the lock for the long rewrite; writes that commit
// meanwhile append to both the live log and the buffer. Finalization
// re-acquires the lock, replays the buffer into the staged file, and
// atomically renames it over the live log. Loading the compacted log yields
// the same value as loading the old log plus the buffered writes, in commit
// order.
//
// # Modes
//
// [New] and [Load] build ephemeral instances: no backing file, no
// durability, but [DB.Fork] and [DB.Snapshot] are available. [Create] and
// [Open] build persistent instances with a live log; they support
// [DB.Compact] and refuse Fork and Snapshot. Close drains the lock within a
// caller-chosen timeout and invalidates the instance; a close that cannot
// drain in time reports [ErrCloseTimeout] and leaves the instance usable.
package foliant
