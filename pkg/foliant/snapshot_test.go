// Snapshot and fork tests for ephemeral instances.
//
// Failures mean: a snapshot did not load back to the same state, a fork
// leaked writes into its parent, or a persistent instance accepted an
// operation its log cannot support.

package foliant_test

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/foliantdb/foliant/pkg/engine"
	"github.com/foliantdb/foliant/pkg/foliant"
	"github.com/foliantdb/foliant/pkg/fs"
)

func Test_Snapshot_Roundtrips_Through_Load_And_Open(t *testing.T) {
	t.Parallel()

	db, err := foliant.New(testOptions())
	require.NoError(t, err)
	closeDB(t, db)

	_, err = db.Query(t.Context(), indexQ("users", "name"))
	require.NoError(t, err)
	mustInsert(t, db, "users", engine.Document{"id": 1, "name": "alice"})
	mustInsert(t, db, "users", engine.Document{"id": 2, "name": "bob"})

	path := logPath(t)
	require.NoError(t, db.Snapshot(path), "snapshot should succeed")

	// A snapshot is an ordinary log: both loaders accept it.
	loaded, err := foliant.Load(path, testOptions())
	require.NoError(t, err, "load should accept the snapshot")

	assert.Equal(t, []float64{1, 2}, ids(selectDocs(t, loaded, "users")))

	res, err := loaded.Query(t.Context(), engine.Query{Op: engine.OpIndexes, Collection: "users"})
	require.NoError(t, err)
	assert.Equal(t, []string{"name"}, res, "indexes must survive the snapshot")

	require.NoError(t, loaded.Close(5*time.Second))

	opened, err := foliant.Open(path, testOptions())
	require.NoError(t, err, "open should accept the snapshot")
	closeDB(t, opened)

	assert.Equal(t, []float64{1, 2}, ids(selectDocs(t, opened, "users")))
}

func Test_Snapshot_On_Persistent_Fails(t *testing.T) {
	t.Parallel()

	db, err := foliant.Create(logPath(t), testOptions())
	require.NoError(t, err)
	closeDB(t, db)

	err = db.Snapshot(logPath(t))
	assert.ErrorIs(t, err, foliant.ErrPersistent, "a persistent instance's log is its snapshot")
}

func Test_Snapshot_Failure_Leaves_No_File_Behind(t *testing.T) {
	t.Parallel()

	faulty := fs.NewFaulty(fs.NewReal())

	opts := testOptions()
	opts.FS = faulty

	db, err := foliant.New(opts)
	require.NoError(t, err)
	closeDB(t, db)

	mustInsert(t, db, "users", engine.Document{"id": 1})

	path := logPath(t)
	faulty.FailOpOnce(fs.OpWriteAtomic, errors.New("disk full"))

	err = db.Snapshot(path)
	require.Error(t, err, "the write failure must surface")

	_, statErr := os.Stat(path)
	assert.ErrorIs(t, statErr, os.ErrNotExist, "a failed snapshot must not leave a partial file")

	// Retry with the fault cleared.
	require.NoError(t, db.Snapshot(path), "a retry should succeed")
}

func Test_Snapshot_Sees_Only_Published_State(t *testing.T) {
	t.Parallel()

	gated := newGatedApplyEngine()

	opts := testOptions()
	opts.Engine = gated

	db, err := foliant.New(opts)
	require.NoError(t, err)

	writeDone := make(chan error, 1)

	go func() {
		_, err := db.Query(context.Background(), insertQ("users", engine.Document{"id": 1}))
		writeDone <- err
	}()

	<-gated.entered // a write is in flight, unpublished

	// Snapshot neither blocks on the writer nor sees its half-done work.
	path := logPath(t)
	require.NoError(t, db.Snapshot(path), "snapshot must not wait for the write lock")

	close(gated.release)
	require.NoError(t, <-writeDone)

	loaded, err := foliant.Load(path, testOptions())
	require.NoError(t, err)

	assert.Empty(t, selectDocs(t, loaded, "users"), "the snapshot must hold the pre-write state")

	require.NoError(t, loaded.Close(5*time.Second))
	require.NoError(t, db.Close(5*time.Second))
}

func Test_Fork_Is_Isolated_From_Its_Parent(t *testing.T) {
	t.Parallel()

	parent, err := foliant.New(testOptions())
	require.NoError(t, err)
	closeDB(t, parent)

	mustInsert(t, parent, "users", engine.Document{"id": 1})

	fork, err := parent.Fork()
	require.NoError(t, err, "fork should succeed")
	closeDB(t, fork)

	assert.Equal(t, []float64{1}, ids(selectDocs(t, fork, "users")), "the fork starts from the parent's state")

	mustInsert(t, parent, "users", engine.Document{"id": 2})
	mustInsert(t, fork, "users", engine.Document{"id": 3})

	assert.Equal(t, []float64{1, 2}, ids(selectDocs(t, parent, "users")), "the fork's writes must not reach the parent")
	assert.Equal(t, []float64{1, 3}, ids(selectDocs(t, fork, "users")), "the parent's writes must not reach the fork")
}

func Test_Fork_On_Persistent_Fails(t *testing.T) {
	t.Parallel()

	db, err := foliant.Create(logPath(t), testOptions())
	require.NoError(t, err)
	closeDB(t, db)

	_, err = db.Fork()
	assert.ErrorIs(t, err, foliant.ErrPersistent, "one log cannot serve two writers")
}

func Test_Closing_A_Fork_Leaves_The_Parent_Open(t *testing.T) {
	t.Parallel()

	parent, err := foliant.New(testOptions())
	require.NoError(t, err)
	closeDB(t, parent)

	mustInsert(t, parent, "users", engine.Document{"id": 1})

	fork, err := parent.Fork()
	require.NoError(t, err)

	require.NoError(t, fork.Close(5*time.Second), "closing the fork should succeed")

	// The parent is untouched.
	assert.Equal(t, []float64{1}, ids(selectDocs(t, parent, "users")))

	_, err = fork.Query(t.Context(), selectQ("users"))
	assert.ErrorIs(t, err, foliant.ErrClosed, "the fork itself is closed")
}
