package record

import (
	"bufio"
	"errors"
	"fmt"
	"io"
)

// MaxRecordSize bounds a single record, header and terminator included.
// A stream claiming a longer record is malformed, not large.
const MaxRecordSize = 64 << 20

// Reader decodes a stream of records.
//
// It expects every record to be terminated. Data after the last terminator
// fails with [ErrFrame]; durable logs must be repaired before reading.
type Reader struct {
	br  *bufio.Reader
	buf []byte
}

// NewReader returns a Reader decoding records from r.
func NewReader(r io.Reader) *Reader {
	return &Reader{br: bufio.NewReader(r)}
}

// Next returns the payload of the next record.
//
// It returns [io.EOF] at a clean end of stream, [ErrFrame] if the stream
// ends inside a record, and [ErrChecksum] if a record fails verification.
// The returned payload is only valid until the next call.
func (r *Reader) Next() ([]byte, error) {
	r.buf = r.buf[:0]

	for {
		chunk, err := r.br.ReadSlice(Terminator)
		r.buf = append(r.buf, chunk...)

		if len(r.buf) > MaxRecordSize {
			return nil, fmt.Errorf("record exceeds %d bytes: %w", MaxRecordSize, ErrFrame)
		}

		if err == nil {
			break
		}

		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}

		if errors.Is(err, io.EOF) {
			if len(r.buf) == 0 {
				return nil, io.EOF
			}

			return nil, fmt.Errorf("unterminated record at end of stream: %w", ErrFrame)
		}

		return nil, fmt.Errorf("read record: %w", err)
	}

	return Decode(r.buf[:len(r.buf)-1])
}
