// Package engine implements the document store that foliant's persistence
// core hosts: named collections of ordered JSON documents with optional
// per-field secondary indexes.
//
// The engine is purely functional over an immutable [*Database] value. Apply
// never modifies its input; it returns a successor value that shares every
// untouched collection with its predecessor and rebuilds only the touched
// one. Because no backing array is ever written through twice, two goroutines
// may apply diverging operations to the same starting value (forks) without
// synchronization.
//
// Documents are canonicalized through JSON on ingest and deep-copied on
// return, so callers can never mutate a published value through an alias.
// Numbers follow JSON's model: all numeric values compare and index as IEEE
// 754 doubles, so 1 and 1.0 are the same value.
package engine

import (
	"fmt"
)

// Engine executes queries against immutable database values. It is
// stateless and safe for concurrent use.
type Engine struct{}

// New returns the query engine.
func New() *Engine {
	return &Engine{}
}

// Init returns the empty database value.
func (e *Engine) Init() any {
	return &Database{collections: map[string]*collection{}}
}

// Apply executes a mutating query against v and returns the successor value
// and the query's result. v is never modified.
//
// The successor is v itself when the query fails.
func (e *Engine) Apply(v any, q any) (any, any, error) {
	db := mustDatabase(v)

	query, err := asQuery(q)
	if err != nil {
		return v, nil, err
	}

	var (
		next   *Database
		result any
	)

	switch query.Op {
	case OpInsert:
		next, result, err = db.applyInsert(query)
	case OpDelete:
		next, result, err = db.applyDelete(query)
	case OpUpdate:
		next, result, err = db.applyUpdate(query)
	case OpDrop:
		next, result, err = db.applyDrop(query)
	case OpIndex:
		next, result, err = db.applyIndex(query)
	default:
		return v, nil, fmt.Errorf("op %q is not mutating: %w", query.Op, ErrInvalidQuery)
	}

	if err != nil {
		return v, nil, err
	}

	return next, result, nil
}

// Read executes a read-only query against v.
func (e *Engine) Read(v any, q any) (any, error) {
	db := mustDatabase(v)

	query, err := asQuery(q)
	if err != nil {
		return nil, err
	}

	switch query.Op {
	case OpSelect:
		return db.readSelect(query), nil
	case OpFind:
		return db.readFind(query), nil
	case OpCount:
		return db.readCount(query), nil
	case OpCollections:
		return db.readCollections(), nil
	case OpIndexes:
		return db.readIndexes(query), nil
	default:
		return nil, fmt.Errorf("op %q is not read-only: %w", query.Op, ErrInvalidQuery)
	}
}

// mustDatabase unwraps an opaque value back into the engine's type.
//
// The persistence core only ever hands back values this engine produced, so
// any other type means the host wired two different engines to one instance.
// That is unrecoverable confusion, not an input error.
func mustDatabase(v any) *Database {
	db, ok := v.(*Database)
	if !ok {
		panic(fmt.Sprintf("engine: database value is %T, not *engine.Database", v))
	}

	return db
}

// asQuery unwraps an opaque query.
func asQuery(q any) (Query, error) {
	query, ok := q.(Query)
	if !ok {
		return Query{}, fmt.Errorf("query is %T, not engine.Query: %w", q, ErrInvalidQuery)
	}

	return query, nil
}
