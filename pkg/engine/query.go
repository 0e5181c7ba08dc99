package engine

import (
	"encoding/json"
	"fmt"
)

// Wire names of the engine's operations.
const (
	OpInsert = "insert"
	OpDelete = "delete"
	OpUpdate = "update"
	OpDrop   = "drop"
	OpIndex  = "index"

	OpSelect      = "select"
	OpFind        = "find"
	OpCount       = "count"
	OpCollections = "collections"
	OpIndexes     = "indexes"
)

// Query is one operation against the database. The same encoding is used on
// the wire and in the durable log.
//
// Value carries no omitempty: `delete` matching 0, false, or "" must not
// decode as matching null on the other side.
type Query struct {
	Op         string     `json:"op"`
	Collection string     `json:"coll,omitempty"`
	Field      string     `json:"field,omitempty"`
	Value      any        `json:"value"`
	Set        Document   `json:"set,omitempty"`
	Docs       []Document `json:"docs,omitempty"`
}

// Name returns the query's operation name.
func (q Query) Name() string {
	return q.Op
}

// readOnlyOps routes each operation: true means the query never changes the
// database and runs without the write lock.
var readOnlyOps = map[string]bool{
	OpInsert: false,
	OpDelete: false,
	OpUpdate: false,
	OpDrop:   false,
	OpIndex:  false,

	OpSelect:      true,
	OpFind:        true,
	OpCount:       true,
	OpCollections: true,
	OpIndexes:     true,
}

// Classifier routes queries between the lock-free read path and the
// serialized write path.
type Classifier struct{}

// IsReadOnly reports whether q can run without the write lock. Anything
// unrecognized is routed to the write path, whose validation rejects it
// before it can touch state.
func (Classifier) IsReadOnly(q any) bool {
	query, ok := q.(Query)
	if !ok {
		return false
	}

	return readOnlyOps[query.Op]
}

// Codec translates queries to and from their durable record payloads. The
// payload is compact JSON, which never contains a raw newline and therefore
// frames cleanly as a single record.
type Codec struct{}

// EncodeQuery renders q as its record payload.
func (Codec) EncodeQuery(q any) ([]byte, error) {
	query, err := asQuery(q)
	if err != nil {
		return nil, err
	}

	payload, err := json.Marshal(query)
	if err != nil {
		return nil, fmt.Errorf("encode query: %w", err)
	}

	return payload, nil
}

// DecodeQuery parses a record payload back into a query.
func (Codec) DecodeQuery(payload []byte) (any, error) {
	var query Query

	err := json.Unmarshal(payload, &query)
	if err != nil {
		return nil, fmt.Errorf("decode query: %w", err)
	}

	return query, nil
}
