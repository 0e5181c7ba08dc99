package foliant

import (
	"fmt"
	"log/slog"

	"github.com/foliantdb/foliant/pkg/fs"
)

// Value is the opaque database value. The core never inspects it; the
// engine produces a new immutable Value for every committed write.
type Value = any

// Query is an opaque query. The core routes it through the [Classifier],
// checks it with the [Validator], and persists it through the [Codec]
// without ever looking inside.
type Query = any

// Result is an opaque query result produced by the [Engine].
type Result = any

// Engine interprets queries against database values. Apply and Read must be
// deterministic and side-effect-free with respect to anything outside the
// value, and must never mutate an input value.
type Engine interface {
	// Init returns the empty database value.
	Init() Value

	// Apply executes a mutating query and returns the successor value and
	// the query's result.
	Apply(v Value, q Query) (Value, Result, error)

	// Read executes a read-only query.
	Read(v Value, q Query) (Result, error)

	// Dump returns the minimal mutating-query sequence that rebuilds v
	// from Init: bulk inserts plus index-creation records. Compaction and
	// Snapshot serialize exactly this sequence.
	Dump(v Value) ([]Query, error)
}

// Classifier labels queries. Read-only queries bypass the write lock and
// the log entirely.
type Classifier interface {
	IsReadOnly(q Query) bool
}

// Validator rejects structurally broken queries before they reach the core.
// Validation failures mutate nothing.
type Validator interface {
	Validate(q Query) error
}

// Codec translates queries to and from record payloads. Payloads must be
// single-line (they are framed with a newline terminator; see the record
// package).
type Codec interface {
	EncodeQuery(q Query) ([]byte, error)
	DecodeQuery(payload []byte) (Query, error)
}

// Options configure a database instance. Engine, Classifier, Validator, and
// Codec are required; the rest default sensibly.
type Options struct {
	Engine     Engine
	Classifier Classifier
	Validator  Validator
	Codec      Codec

	// FS is the filesystem all file I/O goes through. Defaults to the real
	// filesystem. Tests inject fault-carrying implementations here.
	FS fs.FS

	// Logger receives repair, compaction, and close diagnostics. Defaults
	// to a disabled logger.
	Logger *slog.Logger
}

// withDefaults validates the required collaborators and fills in defaults.
func (o Options) withDefaults() (Options, error) {
	if o.Engine == nil {
		return o, fmt.Errorf("%w: Engine is required", ErrInvalidOptions)
	}

	if o.Classifier == nil {
		return o, fmt.Errorf("%w: Classifier is required", ErrInvalidOptions)
	}

	if o.Validator == nil {
		return o, fmt.Errorf("%w: Validator is required", ErrInvalidOptions)
	}

	if o.Codec == nil {
		return o, fmt.Errorf("%w: Codec is required", ErrInvalidOptions)
	}

	if o.FS == nil {
		o.FS = fs.NewReal()
	}

	if o.Logger == nil {
		o.Logger = slog.New(slog.DiscardHandler)
	}

	return o, nil
}
