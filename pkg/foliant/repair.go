package foliant

import (
	"errors"
	"fmt"
	"io"

	"github.com/foliantdb/foliant/pkg/fs"
	"github.com/foliantdb/foliant/pkg/record"
)

// repairChunkSize is the step of the backward terminator scan. A healthy
// log is repaired after reading at most one chunk.
const repairChunkSize = 4096

// repairTail restores the invariant that the log is a sequence of complete
// records: it scans backward from the end for the last record terminator
// and truncates everything after it. A file with no terminator at all is
// truncated to empty.
//
// A crash during an append leaves exactly this kind of tail, so repair is
// routine at load time, not an error. It returns the number of discarded
// bytes; 0 means the file was already well formed (and was not touched,
// which makes repair idempotent).
func repairTail(file fs.File) (int64, error) {
	info, err := file.Stat()
	if err != nil {
		return 0, fmt.Errorf("stat log: %w", err)
	}

	size := info.Size()
	if size == 0 {
		return 0, nil
	}

	keep := int64(-1)
	buf := make([]byte, repairChunkSize)

	for end := size; end > 0 && keep < 0; {
		start := end - repairChunkSize
		if start < 0 {
			start = 0
		}

		chunk := buf[:end-start]

		_, err = file.Seek(start, io.SeekStart)
		if err != nil {
			return 0, fmt.Errorf("seek log: %w", err)
		}

		_, err = io.ReadFull(file, chunk)
		if err != nil {
			return 0, fmt.Errorf("read log tail: %w", err)
		}

		for idx := len(chunk) - 1; idx >= 0; idx-- {
			if chunk[idx] == record.Terminator {
				keep = start + int64(idx) + 1

				break
			}
		}

		end = start
	}

	if keep < 0 {
		keep = 0
	}

	if keep == size {
		return 0, nil
	}

	err = file.Truncate(keep)
	if err != nil {
		return 0, fmt.Errorf("truncate log tail: %w", err)
	}

	err = file.Sync()
	if err != nil {
		return 0, fmt.Errorf("sync repaired log: %w", err)
	}

	return size - keep, nil
}

// replay rebuilds a database value by applying every record of an
// already-repaired log in order, starting from the engine's empty value.
//
// Any failure on a complete record (bad checksum, unparsable payload,
// refused application) wraps ErrCorruptLog and aborts the load: past the
// repair truncation the log admits no partial recovery.
func replay(file fs.File, eng Engine, codec Codec) (Value, int, error) {
	_, err := file.Seek(0, io.SeekStart)
	if err != nil {
		return nil, 0, fmt.Errorf("seek log: %w", err)
	}

	reader := record.NewReader(file)
	value := eng.Init()
	applied := 0

	for {
		payload, err := reader.Next()
		if errors.Is(err, io.EOF) {
			break
		}

		if err != nil {
			return nil, 0, fmt.Errorf("log record %d: %w: %w", applied+1, ErrCorruptLog, err)
		}

		query, err := codec.DecodeQuery(payload)
		if err != nil {
			return nil, 0, fmt.Errorf("log record %d: %w: %w", applied+1, ErrCorruptLog, err)
		}

		next, _, err := eng.Apply(value, query)
		if err != nil {
			return nil, 0, fmt.Errorf("log record %d: replay: %w: %w", applied+1, ErrCorruptLog, err)
		}

		value = next
		applied++
	}

	return value, applied, nil
}
