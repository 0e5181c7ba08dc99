package foliant

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/google/uuid"

	"github.com/foliantdb/foliant/pkg/fs"
)

// DB is one database instance. All methods are safe for concurrent use.
type DB struct {
	id   string
	log  *slog.Logger
	opts Options

	cell cell
	lock FairLock

	// state is the persistent half of the instance, nil when ephemeral.
	// Its fields are mutated only while holding the fair write lock.
	state *persistentState
}

// persistentState carries what only persistent instances have: the log and
// the compaction bookkeeping.
type persistentState struct {
	path   string
	writer *logWriter

	// compaction is non-nil exactly while a compaction is in flight.
	compaction *compaction

	// closing refuses new compactions once Close has begun, so Close can
	// join at most one.
	closing bool
}

// compaction tracks one in-flight compaction.
type compaction struct {
	// frames holds every record committed to the live log while the
	// rewrite ran, pre-encoded, in commit order. Finalization replays
	// them into the compacted log.
	frames [][]byte

	// done is closed when the compaction call returns, success or not.
	// Close joins on it.
	done chan struct{}
}

// New returns an empty ephemeral instance.
func New(opts Options) (*DB, error) {
	opts, err := opts.withDefaults()
	if err != nil {
		return nil, err
	}

	return newDB(opts, opts.Engine.Init(), nil), nil
}

// Create opens or creates the log at path and returns a persistent
// instance holding an empty value.
//
// Create never replays the file: if it already holds records, the instance
// still starts empty and new writes append after them, so a later [Open]
// replays both. Callers that want to recover existing state use [Open].
// A torn tail left by a crash is still repaired before appending.
func Create(path string, opts Options) (*DB, error) {
	opts, err := opts.withDefaults()
	if err != nil {
		return nil, err
	}

	file, err := openLogFile(opts.FS, path, true)
	if err != nil {
		return nil, fmt.Errorf("create database at %s: %w", path, err)
	}

	err = repairLogFile(file, path, opts.Logger)
	if err != nil {
		_ = file.Close()

		return nil, fmt.Errorf("create database at %s: %w", path, err)
	}

	writer, err := adoptLogWriter(file, path)
	if err != nil {
		_ = file.Close()

		return nil, fmt.Errorf("create database at %s: %w", path, err)
	}

	return newDB(opts, opts.Engine.Init(), &persistentState{path: path, writer: writer}), nil
}

// Open loads the log at path and returns a persistent instance holding the
// recovered value. A missing file is created and loads as empty. The tail
// is repaired before replay; a complete record that fails to replay makes
// Open fail with [ErrCorruptLog].
func Open(path string, opts Options) (*DB, error) {
	opts, err := opts.withDefaults()
	if err != nil {
		return nil, err
	}

	file, err := openLogFile(opts.FS, path, true)
	if err != nil {
		return nil, fmt.Errorf("open database at %s: %w", path, err)
	}

	value, err := loadLogFile(file, path, opts)
	if err != nil {
		_ = file.Close()

		return nil, fmt.Errorf("open database at %s: %w", path, err)
	}

	writer, err := adoptLogWriter(file, path)
	if err != nil {
		_ = file.Close()

		return nil, fmt.Errorf("open database at %s: %w", path, err)
	}

	return newDB(opts, value, &persistentState{path: path, writer: writer}), nil
}

// Load loads the log at path and returns an ephemeral instance holding the
// recovered value. The file is repaired exactly as [Open] would, then
// closed again: the instance keeps no handle on it and writes nothing back.
func Load(path string, opts Options) (*DB, error) {
	opts, err := opts.withDefaults()
	if err != nil {
		return nil, err
	}

	file, err := openLogFile(opts.FS, path, false)
	if err != nil {
		return nil, fmt.Errorf("load database from %s: %w", path, err)
	}

	value, err := loadLogFile(file, path, opts)
	if err != nil {
		_ = file.Close()

		return nil, fmt.Errorf("load database from %s: %w", path, err)
	}

	err = file.Close()
	if err != nil {
		return nil, fmt.Errorf("load database from %s: %w", path, err)
	}

	return newDB(opts, value, nil), nil
}

func newDB(opts Options, initial Value, state *persistentState) *DB {
	id := uuid.NewString()

	db := &DB{
		id:    id,
		log:   opts.Logger.With("instance", id),
		opts:  opts,
		state: state,
	}

	db.cell.init(initial)

	return db
}

// openLogFile opens the log read-write in append mode and takes the
// exclusive flock that guards against a second process on the same path.
func openLogFile(fsys fs.FS, path string, create bool) (fs.File, error) {
	flag := os.O_RDWR | os.O_APPEND
	if create {
		flag |= os.O_CREATE
	}

	file, err := fsys.OpenFile(path, flag, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open log: %w", err)
	}

	err = fs.Flock(file)
	if err != nil {
		_ = file.Close()

		return nil, fmt.Errorf("lock log: %w", err)
	}

	return file, nil
}

// repairLogFile runs tail repair and logs a discarded tail, which is the
// observable trace of crash recovery.
func repairLogFile(file fs.File, path string, logger *slog.Logger) error {
	discarded, err := repairTail(file)
	if err != nil {
		return fmt.Errorf("repair log: %w", err)
	}

	if discarded > 0 {
		logger.Warn("discarded torn log tail", "path", path, "bytes", discarded)
	}

	return nil
}

// loadLogFile repairs the log and replays it into a value.
func loadLogFile(file fs.File, path string, opts Options) (Value, error) {
	err := repairLogFile(file, path, opts.Logger)
	if err != nil {
		return nil, err
	}

	value, records, err := replay(file, opts.Engine, opts.Codec)
	if err != nil {
		return nil, fmt.Errorf("replay log: %w", err)
	}

	opts.Logger.Debug("replayed log", "path", path, "records", records)

	return value, nil
}
