package engine

import "errors"

// ErrInvalidQuery reports a query that is structurally broken: unknown op,
// missing required fields, or documents that cannot be represented as JSON.
// Callers should use errors.Is(err, ErrInvalidQuery).
var ErrInvalidQuery = errors.New("engine: invalid query")

// ErrUnknownCollection reports a mutation addressed to a collection that
// does not exist. Callers should use errors.Is(err, ErrUnknownCollection).
var ErrUnknownCollection = errors.New("engine: unknown collection")

// ErrIndexExists reports an index creation for a field that is already
// indexed. Callers should use errors.Is(err, ErrIndexExists).
var ErrIndexExists = errors.New("engine: index already exists")
