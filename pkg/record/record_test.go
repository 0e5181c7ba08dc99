// Tests for record framing and stream decoding.
//
// Failures mean: a record round-trip changed the payload, or a malformed
// frame was not rejected with the documented error.

package record_test

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/foliantdb/foliant/pkg/record"
)

func Test_Record_Round_Trips_Payload(t *testing.T) {
	t.Parallel()

	payload := []byte(`{"op":"insert","collection":"users"}`)

	frame, err := record.Encode(payload)
	require.NoError(t, err, "Encode should accept a JSON payload")

	assert.Equal(t, byte(record.Terminator), frame[len(frame)-1], "frame should end with the terminator")
	assert.Equal(t, byte('|'), frame[8], "checksum prefix should be 8 hex digits")

	got, err := record.Decode(frame[:len(frame)-1])
	require.NoError(t, err, "Decode should accept what Encode produced")
	assert.Equal(t, payload, got, "payload should round-trip unchanged")
}

func Test_Encode_Rejects_Payload_With_Terminator(t *testing.T) {
	t.Parallel()

	_, err := record.Encode([]byte("line one\nline two"))
	assert.ErrorIs(t, err, record.ErrFrame, "embedded terminator should be rejected")
}

func Test_Decode_Rejects_Malformed_Frames(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		line string
	}{
		{"empty", ""},
		{"too short", "00000000"},
		{"missing separator", "00000000x{}"},
		{"non-hex checksum", "zzzzzzzz|{}"},
	}

	for _, testCase := range cases {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			_, err := record.Decode([]byte(testCase.line))
			assert.ErrorIs(t, err, record.ErrFrame, "malformed frame should fail with ErrFrame")
		})
	}
}

func Test_Decode_Detects_Corrupted_Payload(t *testing.T) {
	t.Parallel()

	frame, err := record.Encode([]byte(`{"op":"insert"}`))
	require.NoError(t, err, "Encode should succeed")

	// Flip one payload byte; the frame stays structurally valid.
	line := bytes.Clone(frame[:len(frame)-1])
	line[len(line)-2] ^= 0xff

	_, err = record.Decode(line)
	assert.ErrorIs(t, err, record.ErrChecksum, "corrupted payload should fail with ErrChecksum")
}

func Test_Reader_Decodes_Records_In_Order(t *testing.T) {
	t.Parallel()

	payloads := [][]byte{
		[]byte(`{"seq":1}`),
		[]byte(`{"seq":2}`),
		[]byte(`{"seq":3}`),
	}

	var stream bytes.Buffer

	for _, payload := range payloads {
		frame, err := record.Encode(payload)
		require.NoError(t, err, "Encode should succeed")

		stream.Write(frame)
	}

	reader := record.NewReader(&stream)

	for idx, want := range payloads {
		got, err := reader.Next()
		require.NoError(t, err, "record %d should decode", idx)
		assert.Equal(t, want, got, "record %d payload should match", idx)
	}

	_, err := reader.Next()
	assert.ErrorIs(t, err, io.EOF, "clean end of stream should report io.EOF")
}

func Test_Reader_Fails_On_Unterminated_Tail(t *testing.T) {
	t.Parallel()

	frame, err := record.Encode([]byte(`{"seq":1}`))
	require.NoError(t, err, "Encode should succeed")

	var stream bytes.Buffer

	stream.Write(frame)
	stream.WriteString(`00000000|{"torn`) // torn write, no terminator

	reader := record.NewReader(&stream)

	_, err = reader.Next()
	require.NoError(t, err, "complete record should decode")

	_, err = reader.Next()
	assert.ErrorIs(t, err, record.ErrFrame, "unterminated tail should fail with ErrFrame")
}

func Test_Reader_Handles_Records_Larger_Than_Buffer(t *testing.T) {
	t.Parallel()

	// Larger than bufio's default 4096-byte buffer so ReadSlice has to
	// resume across fills.
	payload := []byte(`{"blob":"` + strings.Repeat("x", 16*1024) + `"}`)

	frame, err := record.Encode(payload)
	require.NoError(t, err, "Encode should succeed")

	reader := record.NewReader(bytes.NewReader(frame))

	got, err := reader.Next()
	require.NoError(t, err, "oversized record should decode")
	assert.Equal(t, payload, got, "payload should round-trip unchanged")
}

func Test_Reader_Propagates_Checksum_Failure(t *testing.T) {
	t.Parallel()

	frame, err := record.Encode([]byte(`{"seq":1}`))
	require.NoError(t, err, "Encode should succeed")

	corrupted := bytes.Clone(frame)
	corrupted[10] ^= 0xff

	reader := record.NewReader(bytes.NewReader(corrupted))

	_, err = reader.Next()
	assert.ErrorIs(t, err, record.ErrChecksum, "corrupted record should fail with ErrChecksum")
}
