// Tests for the minimal rebuild sequence.
//
// Failures mean: loading a dump produced a database observably different
// from the dumped one.

package engine_test

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/foliantdb/foliant/pkg/engine"
)

// observe captures everything a reader can see of a database value.
type observation struct {
	Collections []string
	Docs        map[string][]engine.Document
	Indexes     map[string][]string
}

func observe(t *testing.T, eng *engine.Engine, v any) observation {
	t.Helper()

	namesResult, err := eng.Read(v, engine.Query{Op: engine.OpCollections})
	require.NoError(t, err, "collections should succeed")

	names, ok := namesResult.([]string)
	require.True(t, ok, "collections should return names")

	obs := observation{
		Collections: names,
		Docs:        map[string][]engine.Document{},
		Indexes:     map[string][]string{},
	}

	for _, name := range names {
		obs.Docs[name] = selectAll(t, eng, v, name)

		fieldsResult, err := eng.Read(v, engine.Query{Op: engine.OpIndexes, Collection: name})
		require.NoError(t, err, "indexes should succeed")

		fields, ok := fieldsResult.([]string)
		require.True(t, ok, "indexes should return field names")

		obs.Indexes[name] = fields
	}

	return obs
}

func Test_Dump_Rebuilds_An_Equal_Database(t *testing.T) {
	t.Parallel()

	eng := engine.New()

	v := applyAll(t, eng, eng.Init(),
		engine.Query{Op: engine.OpInsert, Collection: "users", Docs: []engine.Document{
			{"id": 1, "name": "ada"},
			{"id": 2, "name": "grace"},
		}},
		engine.Query{Op: engine.OpIndex, Collection: "users", Field: "name"},
		engine.Query{Op: engine.OpIndex, Collection: "users", Field: "id"},
		engine.Query{Op: engine.OpInsert, Collection: "logs", Docs: []engine.Document{
			{"msg": "boot", "level": "info"},
		}},
		engine.Query{Op: engine.OpUpdate, Collection: "users", Field: "id", Value: 1, Set: engine.Document{"admin": true}},
		engine.Query{Op: engine.OpDelete, Collection: "users", Field: "id", Value: 2},
		// Empty but indexed: must survive the round trip.
		engine.Query{Op: engine.OpIndex, Collection: "sessions", Field: "token"},
	)

	queries, err := eng.Dump(v)
	require.NoError(t, err, "dump should succeed")

	rebuilt := eng.Init()
	for idx, q := range queries {
		next, _, applyErr := eng.Apply(rebuilt, q)
		require.NoError(t, applyErr, "dump record %d should apply cleanly", idx)

		rebuilt = next
	}

	if diff := cmp.Diff(observe(t, eng, v), observe(t, eng, rebuilt)); diff != "" {
		t.Errorf("rebuilt database diverged (-dumped +rebuilt):\n%s", diff)
	}
}

func Test_Dump_Emits_Minimal_Record_Shape(t *testing.T) {
	t.Parallel()

	eng := engine.New()

	v := applyAll(t, eng, eng.Init(),
		engine.Query{Op: engine.OpInsert, Collection: "b", Docs: []engine.Document{{"x": 1}}},
		engine.Query{Op: engine.OpInsert, Collection: "b", Docs: []engine.Document{{"x": 2}}},
		engine.Query{Op: engine.OpInsert, Collection: "a", Docs: []engine.Document{{"x": 3}}},
		engine.Query{Op: engine.OpIndex, Collection: "b", Field: "x"},
	)

	queries, err := eng.Dump(v)
	require.NoError(t, err, "dump should succeed")
	require.Len(t, queries, 3, "dump should hold one insert per collection plus index records")

	first, ok := queries[0].(engine.Query)
	require.True(t, ok, "dump should emit queries")
	assert.Equal(t, engine.OpInsert, first.Op, "collections should dump in sorted order")
	assert.Equal(t, "a", first.Collection, "collections should dump in sorted order")

	second, ok := queries[1].(engine.Query)
	require.True(t, ok, "dump should emit queries")
	assert.Equal(t, engine.OpInsert, second.Op, "the bulk insert should precede index records")
	assert.Equal(t, "b", second.Collection, "collections should dump in sorted order")
	assert.Len(t, second.Docs, 2, "repeated inserts should collapse into one bulk insert")

	third, ok := queries[2].(engine.Query)
	require.True(t, ok, "dump should emit queries")
	assert.Equal(t, engine.OpIndex, third.Op, "index records should follow the insert")
	assert.Equal(t, "x", third.Field, "index record should name the indexed field")
}

func Test_Dump_Of_Empty_Database_Is_Empty(t *testing.T) {
	t.Parallel()

	eng := engine.New()

	queries, err := eng.Dump(eng.Init())
	require.NoError(t, err, "dump should succeed")
	assert.Empty(t, queries, "the empty database should dump to nothing")
}
