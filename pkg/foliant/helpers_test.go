// helpers_test.go - Shared fixtures and helper functions for foliant tests.
//
// Tests wire the real document engine; the persistence core's behavior is
// only observable through an engine, and using the production one keeps the
// tests honest about the contract between the two.

package foliant_test

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/foliantdb/foliant/pkg/engine"
	"github.com/foliantdb/foliant/pkg/foliant"
	"github.com/foliantdb/foliant/pkg/record"
)

// testOptions returns Options wired with the document engine and its
// collaborators. Tests that need fault injection or logging swap fields
// on the returned value.
func testOptions() foliant.Options {
	return foliant.Options{
		Engine:     engine.New(),
		Classifier: engine.Classifier{},
		Validator:  engine.Validator{},
		Codec:      engine.Codec{},
	}
}

// insertQ builds an insert query. Document field values canonicalize
// through JSON, so numbers come back as float64.
func insertQ(coll string, docs ...engine.Document) engine.Query {
	return engine.Query{Op: engine.OpInsert, Collection: coll, Docs: docs}
}

func selectQ(coll string) engine.Query {
	return engine.Query{Op: engine.OpSelect, Collection: coll}
}

func deleteQ(coll, field string, value any) engine.Query {
	return engine.Query{Op: engine.OpDelete, Collection: coll, Field: field, Value: value}
}

func indexQ(coll, field string) engine.Query {
	return engine.Query{Op: engine.OpIndex, Collection: coll, Field: field}
}

// mustInsert inserts docs and fails the test on any error.
func mustInsert(tb testing.TB, db *foliant.DB, coll string, docs ...engine.Document) {
	tb.Helper()

	_, err := db.Query(context.Background(), insertQ(coll, docs...))
	if err != nil {
		tb.Fatalf("insert into %s: %v", coll, err)
	}
}

// selectDocs runs a select and returns the documents.
func selectDocs(tb testing.TB, db *foliant.DB, coll string) []engine.Document {
	tb.Helper()

	res, err := db.Query(context.Background(), selectQ(coll))
	if err != nil {
		tb.Fatalf("select from %s: %v", coll, err)
	}

	docs, ok := res.([]engine.Document)
	if !ok {
		tb.Fatalf("select result is %T, not []engine.Document", res)
	}

	return docs
}

// ids extracts the "id" field of each document, preserving order. Inserted
// integers come back as float64, so callers compare against float64 ids.
func ids(docs []engine.Document) []float64 {
	out := make([]float64, 0, len(docs))

	for _, doc := range docs {
		id, ok := doc["id"].(float64)
		if !ok {
			out = append(out, -1)

			continue
		}

		out = append(out, id)
	}

	return out
}

// logPath returns a log file path inside a per-test temp dir.
func logPath(tb testing.TB) string {
	tb.Helper()

	return tb.TempDir() + "/data.log"
}

// writeLogFile builds a log file from payloads, each framed as one record,
// plus optional raw trailing bytes (a torn tail, garbage, and so on).
func writeLogFile(tb testing.TB, path string, payloads []string, tail []byte) {
	tb.Helper()

	var data []byte

	for _, payload := range payloads {
		frame, err := record.Encode([]byte(payload))
		if err != nil {
			tb.Fatalf("encode payload %q: %v", payload, err)
		}

		data = append(data, frame...)
	}

	data = append(data, tail...)

	err := os.WriteFile(path, data, 0o600)
	if err != nil {
		tb.Fatalf("write log file: %v", err)
	}
}

// encodePayload renders a query as the payload its record would carry.
func encodePayload(tb testing.TB, q engine.Query) string {
	tb.Helper()

	payload, err := engine.Codec{}.EncodeQuery(q)
	if err != nil {
		tb.Fatalf("encode query: %v", err)
	}

	return string(payload)
}

// fileSize returns the current size of path.
func fileSize(tb testing.TB, path string) int64 {
	tb.Helper()

	info, err := os.Stat(path)
	if err != nil {
		tb.Fatalf("stat %s: %v", path, err)
	}

	return info.Size()
}

// closeDB closes db at the end of a test, tolerating an earlier explicit
// close.
func closeDB(tb testing.TB, db *foliant.DB) {
	tb.Helper()

	tb.Cleanup(func() {
		err := db.Close(5 * time.Second)
		if err != nil && !errors.Is(err, foliant.ErrClosed) {
			tb.Errorf("close: %v", err)
		}
	})
}

// gatedApplyEngine wraps the document engine and blocks the first Apply
// until released, so a test can hold the write lock at a known point.
type gatedApplyEngine struct {
	*engine.Engine

	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func newGatedApplyEngine() *gatedApplyEngine {
	return &gatedApplyEngine{
		Engine:  engine.New(),
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
}

func (g *gatedApplyEngine) Apply(v any, q any) (any, any, error) {
	gated := false

	g.once.Do(func() { gated = true })

	if gated {
		close(g.entered)
		<-g.release
	}

	return g.Engine.Apply(v, q)
}

// gatedDumpEngine blocks the first Dump until released, widening the
// compaction rewrite window so tests can interleave writes with it
// deterministically. Later Dumps pass straight through.
type gatedDumpEngine struct {
	*engine.Engine

	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func newGatedDumpEngine() *gatedDumpEngine {
	return &gatedDumpEngine{
		Engine:  engine.New(),
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
}

func (g *gatedDumpEngine) Dump(v any) ([]any, error) {
	gated := false

	g.once.Do(func() { gated = true })

	if gated {
		close(g.entered)
		<-g.release
	}

	return g.Engine.Dump(v)
}

// requireDocsEqual compares two select results document by document.
func requireDocsEqual(tb testing.TB, want, got []engine.Document) {
	tb.Helper()

	require.Equal(tb, want, got, "document sets diverged")
}
