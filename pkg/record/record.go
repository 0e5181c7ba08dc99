// Package record implements the framing shared by the append-only log and
// the wire protocol.
//
// A record is a single line:
//
//	<crc32c-hex-8>|<payload>\n
//
// The checksum is CRC32C (Castagnoli) over the payload bytes, rendered as
// eight lowercase hex digits. The payload is an arbitrary byte string that
// must not contain the terminator; in practice it is always a compact JSON
// document, which never contains a raw newline.
//
// The terminator doubles as the commit marker: a record without a trailing
// newline was torn mid-write and is discarded by repair, while a terminated
// record with a bad checksum or unparsable payload is treated as real
// corruption, not a torn write.
package record

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"hash/crc32"
)

// Terminator ends every record. Its absence marks a torn write.
const Terminator = '\n'

// headerSize is the length of the checksum prefix plus the separator.
const headerSize = 9

// castagnoli is the CRC32C polynomial table shared by all records.
var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// ErrFrame reports a structurally malformed record.
// Callers should use errors.Is(err, ErrFrame).
var ErrFrame = errors.New("record: malformed frame")

// ErrChecksum reports a well-formed record whose payload does not match its
// checksum. Callers should use errors.Is(err, ErrChecksum).
var ErrChecksum = errors.New("record: checksum mismatch")

// Encode frames payload into a terminated record.
//
// It fails with [ErrFrame] if payload contains the terminator, since such a
// payload could never be read back as a single record.
func Encode(payload []byte) ([]byte, error) {
	if bytes.IndexByte(payload, Terminator) >= 0 {
		return nil, fmt.Errorf("payload contains terminator: %w", ErrFrame)
	}

	frame := make([]byte, 0, headerSize+len(payload)+1)

	var sum [4]byte

	crc := crc32.Checksum(payload, castagnoli)
	sum[0] = byte(crc >> 24)
	sum[1] = byte(crc >> 16)
	sum[2] = byte(crc >> 8)
	sum[3] = byte(crc)

	frame = hex.AppendEncode(frame, sum[:])
	frame = append(frame, '|')
	frame = append(frame, payload...)
	frame = append(frame, Terminator)

	return frame, nil
}

// Decode verifies one record line and returns its payload.
//
// line must not include the terminator. The returned payload aliases line.
func Decode(line []byte) ([]byte, error) {
	if len(line) < headerSize {
		return nil, fmt.Errorf("record too short (%d bytes): %w", len(line), ErrFrame)
	}

	if line[headerSize-1] != '|' {
		return nil, fmt.Errorf("missing checksum separator: %w", ErrFrame)
	}

	var sum [4]byte

	_, err := hex.Decode(sum[:], line[:headerSize-1])
	if err != nil {
		return nil, fmt.Errorf("decode checksum: %w", ErrFrame)
	}

	want := uint32(sum[0])<<24 | uint32(sum[1])<<16 | uint32(sum[2])<<8 | uint32(sum[3])

	payload := line[headerSize:]

	got := crc32.Checksum(payload, castagnoli)
	if got != want {
		return nil, fmt.Errorf("%w (expected %08x got %08x)", ErrChecksum, want, got)
	}

	return payload, nil
}
