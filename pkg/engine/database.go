package engine

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
)

// Document is one JSON-shaped record. Stored documents only ever contain
// JSON value kinds: map[string]any, []any, string, float64, bool, nil.
type Document = map[string]any

// Database is one immutable version of the store. All mutations go through
// [Engine.Apply], which returns a new version; a Database never changes
// after it is published.
type Database struct {
	collections map[string]*collection
}

// collection holds documents in insertion order plus secondary indexes.
// An index maps a normalized field value to the positions of the documents
// holding it.
type collection struct {
	docs    []Document
	indexes map[string]index
}

type index map[string][]int

// withCollection returns a new Database that replaces (or adds) one
// collection and shares all others with db.
func (db *Database) withCollection(name string, coll *collection) *Database {
	collections := make(map[string]*collection, len(db.collections)+1)
	for collName, existing := range db.collections {
		collections[collName] = existing
	}

	collections[name] = coll

	return &Database{collections: collections}
}

// withoutCollection returns a new Database lacking the named collection.
func (db *Database) withoutCollection(name string) *Database {
	collections := make(map[string]*collection, len(db.collections))
	for collName, existing := range db.collections {
		if collName != name {
			collections[collName] = existing
		}
	}

	return &Database{collections: collections}
}

// Collections returns the sorted collection names.
func (db *Database) Collections() []string {
	names := make([]string, 0, len(db.collections))
	for name := range db.collections {
		names = append(names, name)
	}

	sort.Strings(names)

	return names
}

// Len returns the document count of a collection, 0 if it does not exist.
func (db *Database) Len(collectionName string) int {
	coll := db.collections[collectionName]
	if coll == nil {
		return 0
	}

	return len(coll.docs)
}

// indexedFields returns the sorted indexed field names of a collection.
func (coll *collection) indexedFields() []string {
	fields := make([]string, 0, len(coll.indexes))
	for field := range coll.indexes {
		fields = append(fields, field)
	}

	sort.Strings(fields)

	return fields
}

// buildIndex scans docs once and groups positions by the normalized value
// of field. Documents lacking the field are not indexed under any key.
func buildIndex(docs []Document, field string) index {
	idx := make(index)

	for pos, doc := range docs {
		value, ok := doc[field]
		if !ok {
			continue
		}

		key := matchKey(value)
		idx[key] = append(idx[key], pos)
	}

	return idx
}

// rebuildIndexes recomputes every index of coll against docs.
func rebuildIndexes(docs []Document, coll *collection) map[string]index {
	indexes := make(map[string]index, len(coll.indexes))
	for field := range coll.indexes {
		indexes[field] = buildIndex(docs, field)
	}

	return indexes
}

// matchKey normalizes a document value into the string key used for both
// index lookups and equality matching.
//
// Keys are kind-prefixed so values of different kinds never collide (the
// string "1" is not the number 1). Numbers normalize through float64, which
// makes 1 and 1.0 the same key. Composite values key on their canonical JSON
// encoding; encoding/json sorts object keys, so equal composites share one
// key.
func matchKey(v any) string {
	switch value := v.(type) {
	case nil:
		return "z"
	case bool:
		if value {
			return "b:1"
		}

		return "b:0"
	case string:
		return "s:" + value
	default:
		if f, ok := toFloat(v); ok {
			return "n:" + strconv.FormatFloat(f, 'g', -1, 64)
		}

		encoded, err := json.Marshal(v)
		if err != nil {
			// Unencodable values cannot round-trip the log anyway; an
			// opaque non-colliding key keeps matching total.
			return "x:" + fmt.Sprintf("%T/%v", v, v)
		}

		return "j:" + string(encoded)
	}
}

// matches reports whether a document field equals the query value under the
// engine's equality model.
func matches(doc Document, field string, value any) bool {
	got, ok := doc[field]
	if !ok {
		return false
	}

	return matchKey(got) == matchKey(value)
}

// toFloat converts any Go numeric kind to float64. Stored documents only
// hold float64, but in-process callers hand the engine untyped ints.
func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return 0, false
		}

		return f, true
	default:
		return 0, false
	}
}

// normalizeDoc canonicalizes an ingested document through a JSON round trip
// so stored state is identical whether a document arrived in process, over
// the wire, or from the log.
func normalizeDoc(doc Document) (Document, error) {
	encoded, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("document not JSON-encodable: %w: %w", ErrInvalidQuery, err)
	}

	var normalized Document

	err = json.Unmarshal(encoded, &normalized)
	if err != nil {
		return nil, fmt.Errorf("document not JSON-decodable: %w: %w", ErrInvalidQuery, err)
	}

	return normalized, nil
}

// cloneDoc deep-copies a stored (already JSON-shaped) document.
func cloneDoc(doc Document) Document {
	cloned, _ := cloneValue(doc).(Document)

	return cloned
}

func cloneValue(v any) any {
	switch value := v.(type) {
	case map[string]any:
		cloned := make(map[string]any, len(value))
		for key, item := range value {
			cloned[key] = cloneValue(item)
		}

		return cloned
	case []any:
		cloned := make([]any, len(value))
		for idx, item := range value {
			cloned[idx] = cloneValue(item)
		}

		return cloned
	default:
		return v
	}
}
