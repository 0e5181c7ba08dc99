package engine

import (
	"fmt"
)

// applyInsert appends documents in query order, creating the collection on
// first use. Existing indexes are extended in place of a full rebuild since
// appending never moves a document.
func (db *Database) applyInsert(q Query) (*Database, any, error) {
	ingested := make([]Document, len(q.Docs))

	for idx, doc := range q.Docs {
		normalized, err := normalizeDoc(doc)
		if err != nil {
			return nil, nil, fmt.Errorf("insert into %q: %w", q.Collection, err)
		}

		ingested[idx] = normalized
	}

	old := db.collections[q.Collection]
	if old == nil {
		old = &collection{indexes: map[string]index{}}
	}

	docs := make([]Document, len(old.docs), len(old.docs)+len(ingested))
	copy(docs, old.docs)
	docs = append(docs, ingested...)

	indexes := make(map[string]index, len(old.indexes))

	for field, oldIdx := range old.indexes {
		extended := make(index, len(oldIdx))
		for key, positions := range oldIdx {
			extended[key] = positions[:len(positions):len(positions)]
		}

		for offset, doc := range ingested {
			value, ok := doc[field]
			if !ok {
				continue
			}

			key := matchKey(value)
			extended[key] = append(extended[key], len(old.docs)+offset)
		}

		indexes[field] = extended
	}

	next := db.withCollection(q.Collection, &collection{docs: docs, indexes: indexes})

	return next, len(ingested), nil
}

// applyDelete removes every document whose field equals the query value and
// rebuilds the collection's indexes, since removal shifts positions.
func (db *Database) applyDelete(q Query) (*Database, any, error) {
	old := db.collections[q.Collection]
	if old == nil {
		return nil, nil, fmt.Errorf("delete from %q: %w", q.Collection, ErrUnknownCollection)
	}

	kept := make([]Document, 0, len(old.docs))

	for _, doc := range old.docs {
		if !matches(doc, q.Field, q.Value) {
			kept = append(kept, doc)
		}
	}

	removed := len(old.docs) - len(kept)
	if removed == 0 {
		return db, 0, nil
	}

	next := db.withCollection(q.Collection, &collection{
		docs:    kept,
		indexes: rebuildIndexes(kept, old),
	})

	return next, removed, nil
}

// applyUpdate merges the query's set document into every matching document.
// Matching documents are replaced, never modified, so prior versions keep
// their originals.
func (db *Database) applyUpdate(q Query) (*Database, any, error) {
	old := db.collections[q.Collection]
	if old == nil {
		return nil, nil, fmt.Errorf("update %q: %w", q.Collection, ErrUnknownCollection)
	}

	set, err := normalizeDoc(q.Set)
	if err != nil {
		return nil, nil, fmt.Errorf("update %q: %w", q.Collection, err)
	}

	updated := 0
	docs := make([]Document, len(old.docs))

	for pos, doc := range old.docs {
		if !matches(doc, q.Field, q.Value) {
			docs[pos] = doc

			continue
		}

		merged := cloneDoc(doc)
		for key, value := range set {
			merged[key] = value
		}

		docs[pos] = merged
		updated++
	}

	if updated == 0 {
		return db, 0, nil
	}

	next := db.withCollection(q.Collection, &collection{
		docs:    docs,
		indexes: rebuildIndexes(docs, old),
	})

	return next, updated, nil
}

// applyDrop removes the whole collection.
func (db *Database) applyDrop(q Query) (*Database, any, error) {
	old := db.collections[q.Collection]
	if old == nil {
		return nil, nil, fmt.Errorf("drop %q: %w", q.Collection, ErrUnknownCollection)
	}

	return db.withoutCollection(q.Collection), len(old.docs), nil
}

// applyIndex creates a secondary index on a field. Indexing a collection
// that does not exist yet creates it empty, which keeps rebuild logs total:
// an empty indexed collection is expressible as a lone index record.
func (db *Database) applyIndex(q Query) (*Database, any, error) {
	old := db.collections[q.Collection]
	if old == nil {
		old = &collection{indexes: map[string]index{}}
	}

	if _, exists := old.indexes[q.Field]; exists {
		return nil, nil, fmt.Errorf("index %q on %q: %w", q.Field, q.Collection, ErrIndexExists)
	}

	indexes := make(map[string]index, len(old.indexes)+1)
	for field, existing := range old.indexes {
		indexes[field] = existing
	}

	indexes[q.Field] = buildIndex(old.docs, q.Field)

	next := db.withCollection(q.Collection, &collection{docs: old.docs, indexes: indexes})

	return next, nil, nil
}

// readSelect returns every document in insertion order. Unknown collections
// read as empty, matching count and find.
func (db *Database) readSelect(q Query) []Document {
	coll := db.collections[q.Collection]
	if coll == nil {
		return []Document{}
	}

	docs := make([]Document, len(coll.docs))
	for pos, doc := range coll.docs {
		docs[pos] = cloneDoc(doc)
	}

	return docs
}

// readFind returns matching documents in insertion order, through the field
// index when one exists.
func (db *Database) readFind(q Query) []Document {
	coll := db.collections[q.Collection]
	if coll == nil {
		return []Document{}
	}

	if idx, indexed := coll.indexes[q.Field]; indexed {
		positions := idx[matchKey(q.Value)]

		docs := make([]Document, len(positions))
		for i, pos := range positions {
			docs[i] = cloneDoc(coll.docs[pos])
		}

		return docs
	}

	docs := []Document{}

	for _, doc := range coll.docs {
		if matches(doc, q.Field, q.Value) {
			docs = append(docs, cloneDoc(doc))
		}
	}

	return docs
}

func (db *Database) readCount(q Query) int {
	return db.Len(q.Collection)
}

func (db *Database) readCollections() []string {
	return db.Collections()
}

func (db *Database) readIndexes(q Query) []string {
	coll := db.collections[q.Collection]
	if coll == nil {
		return []string{}
	}

	return coll.indexedFields()
}
