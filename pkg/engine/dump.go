package engine

// Dump returns the minimal mutating-query sequence that rebuilds v from the
// empty database: per collection in sorted name order, one bulk insert
// holding every document in insertion order, then one index record per
// indexed field in sorted order.
//
// Empty collections emit no insert; their index records alone recreate them
// because indexing a missing collection creates it. A collection that is
// both empty and unindexed has no representation in this format and is not
// recreated. Otherwise, applying the returned sequence to [Engine.Init]
// yields a database equal to v.
func (e *Engine) Dump(v any) ([]any, error) {
	db := mustDatabase(v)

	queries := make([]any, 0, len(db.collections)*2)

	for _, name := range db.Collections() {
		coll := db.collections[name]

		if len(coll.docs) > 0 {
			docs := make([]Document, len(coll.docs))
			for pos, doc := range coll.docs {
				docs[pos] = cloneDoc(doc)
			}

			queries = append(queries, Query{
				Op:         OpInsert,
				Collection: name,
				Docs:       docs,
			})
		}

		for _, field := range coll.indexedFields() {
			queries = append(queries, Query{
				Op:         OpIndex,
				Collection: name,
				Field:      field,
			})
		}
	}

	return queries, nil
}
