// Concurrency tests: lock-free readers, serialized writers, compaction
// under load.
//
// Failures mean: a reader observed a state no committed prefix ever had, a
// write was lost under contention, or compacting while writing corrupted
// the log. Run with -race; these tests exist to give the detector work.

package foliant_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/foliantdb/foliant/pkg/engine"
	"github.com/foliantdb/foliant/pkg/foliant"
)

// isPrefix reports whether got is exactly 1..len(got): the writer below
// inserts ids in that order, so every committed state is such a prefix.
func isPrefix(got []float64) bool {
	for idx, id := range got {
		if id != float64(idx+1) {
			return false
		}
	}

	return true
}

func Test_Readers_Only_Observe_Committed_Prefixes(t *testing.T) {
	t.Parallel()

	db, err := foliant.New(testOptions())
	require.NoError(t, err)
	closeDB(t, db)

	const (
		writes  = 200
		readers = 4
	)

	writerDone := make(chan struct{})

	go func() {
		defer close(writerDone)

		for id := 1; id <= writes; id++ {
			_, err := db.Query(context.Background(), insertQ("users", engine.Document{"id": id}))
			if err != nil {
				t.Errorf("write %d failed: %v", id, err)

				return
			}
		}
	}()

	var wg sync.WaitGroup

	for reader := range readers {
		wg.Add(1)

		go func(reader int) {
			defer wg.Done()

			lastSeen := -1

			for {
				select {
				case <-writerDone:
					return
				default:
				}

				res, err := db.Query(context.Background(), selectQ("users"))
				if err != nil {
					t.Errorf("reader %d: select failed: %v", reader, err)

					return
				}

				docs, _ := res.([]engine.Document)
				got := ids(docs)

				if !isPrefix(got) {
					t.Errorf("reader %d observed a torn state: %v", reader, got)

					return
				}

				if len(got) < lastSeen {
					t.Errorf("reader %d went back in time: saw %d docs after %d", reader, len(got), lastSeen)

					return
				}

				lastSeen = len(got)
			}
		}(reader)
	}

	wg.Wait()

	assert.Equal(t, writes, len(selectDocs(t, db, "users")), "every write must have committed")
}

func Test_Concurrent_Writers_Lose_Nothing_Across_A_Restart(t *testing.T) {
	t.Parallel()

	path := logPath(t)

	db, err := foliant.Create(path, testOptions())
	require.NoError(t, err)

	const (
		writers = 4
		each    = 25
	)

	var wg sync.WaitGroup

	for writer := range writers {
		wg.Add(1)

		go func(writer int) {
			defer wg.Done()

			for i := range each {
				id := writer*1000 + i

				_, err := db.Query(context.Background(), insertQ("users", engine.Document{"id": id}))
				if err != nil {
					t.Errorf("writer %d: insert %d failed: %v", writer, id, err)

					return
				}
			}
		}(writer)
	}

	wg.Wait()
	require.NoError(t, db.Close(5*time.Second))

	reopened, err := foliant.Open(path, testOptions())
	require.NoError(t, err)
	closeDB(t, reopened)

	docs := selectDocs(t, reopened, "users")
	require.Len(t, docs, writers*each, "every acknowledged write must survive the restart")

	seen := make(map[float64]bool, len(docs))
	for _, id := range ids(docs) {
		assert.False(t, seen[id], "id %v appeared twice", id)
		seen[id] = true
	}
}

func Test_Snapshots_Taken_During_Writes_Hold_Committed_Prefixes(t *testing.T) {
	t.Parallel()

	db, err := foliant.New(testOptions())
	require.NoError(t, err)
	closeDB(t, db)

	const (
		writes    = 100
		snapshots = 5
	)

	writerDone := make(chan struct{})

	go func() {
		defer close(writerDone)

		for id := 1; id <= writes; id++ {
			_, err := db.Query(context.Background(), insertQ("users", engine.Document{"id": id}))
			if err != nil {
				t.Errorf("write %d failed: %v", id, err)

				return
			}
		}
	}()

	dir := t.TempDir()
	paths := make([]string, 0, snapshots)

	for idx := range snapshots {
		path := dir + "/snap-" + string(rune('a'+idx)) + ".log"
		paths = append(paths, path)

		require.NoError(t, db.Snapshot(path), "snapshot during writes should succeed")
		time.Sleep(5 * time.Millisecond)
	}

	<-writerDone

	for _, path := range paths {
		loaded, err := foliant.Load(path, testOptions())
		require.NoError(t, err, "snapshot %s must load", path)

		got := ids(selectDocs(t, loaded, "users"))
		assert.True(t, isPrefix(got), "snapshot %s holds a torn state: %v", path, got)

		require.NoError(t, loaded.Close(5*time.Second))
	}
}

func Test_Compacting_Under_Write_Load_Loses_Nothing(t *testing.T) {
	t.Parallel()

	path := logPath(t)

	db, err := foliant.Create(path, testOptions())
	require.NoError(t, err)

	const writes = 150

	writerDone := make(chan struct{})

	go func() {
		defer close(writerDone)

		for id := 1; id <= writes; id++ {
			_, err := db.Query(context.Background(), insertQ("users", engine.Document{"id": id}))
			if err != nil {
				t.Errorf("write %d failed: %v", id, err)

				return
			}
		}
	}()

	// Compact repeatedly while the writer runs; each pass races the other's
	// commits through the write-buffer path.
	for {
		select {
		case <-writerDone:
		default:
			_, err := db.Compact(context.Background())
			require.NoError(t, err, "compaction under load should succeed")

			time.Sleep(2 * time.Millisecond)

			continue
		}

		break
	}

	require.NoError(t, db.Close(5*time.Second))

	reopened, err := foliant.Open(path, testOptions())
	require.NoError(t, err, "the log must load after compacting under load")
	closeDB(t, reopened)

	got := ids(selectDocs(t, reopened, "users"))
	require.Len(t, got, writes, "every write must survive")
	assert.True(t, isPrefix(got), "commit order must survive compaction: %v", got)
}
