package parser

import (
	"encoding/binary"
	"io"
	"math"
	"time"
)

// TimestampSize is the encoded size of a timestamp: int64 seconds followed by
// uint64 fractional ticks, both big-endian.
const TimestampSize = 16

// Epoch is the reference instant every file timestamp is counted from.
var Epoch = time.Date(1904, time.January, 1, 0, 0, 0, 0, time.UTC)

var epochUnix = Epoch.Unix()

// ticksPerSecond is the fractional denominator, 2^63-1.
const ticksPerSecond = math.MaxInt64

// DecodeTimestamp converts the first TimestampSize bytes of b to a time.
func DecodeTimestamp(b []byte) time.Time {
	sec := int64(binary.BigEndian.Uint64(b[0:8]))
	ticks := binary.BigEndian.Uint64(b[8:16])
	nsec := int64(math.Round(float64(ticks) / ticksPerSecond * 1e9))
	// time.Unix normalises nsec values of a second or more.
	return time.Unix(epochUnix+sec, nsec).UTC()
}

// EncodeTimestamp is the inverse of DecodeTimestamp at nanosecond precision.
func EncodeTimestamp(t time.Time) [TimestampSize]byte {
	var b [TimestampSize]byte
	t = t.UTC()
	sec := t.Unix() - epochUnix
	ticks := uint64(float64(t.Nanosecond()) / 1e9 * ticksPerSecond)
	binary.BigEndian.PutUint64(b[0:8], uint64(sec))
	binary.BigEndian.PutUint64(b[8:16], ticks)
	return b
}

// ReadTimestamp reads one timestamp from r. A short read is reported as
// io.EOF: running out of bytes before a timestamp is how event streams end.
func ReadTimestamp(r io.Reader) (time.Time, error) {
	t, _, err := readTimestamp(r)
	return t, err
}

// readTimestamp also reports how many bytes were consumed so callers can
// tell a clean end from trailing garbage.
func readTimestamp(r io.Reader) (time.Time, int, error) {
	var b [TimestampSize]byte
	n, err := io.ReadFull(r, b[:])
	if err == io.ErrUnexpectedEOF {
		return time.Time{}, n, io.EOF
	}
	if err != nil {
		return time.Time{}, n, err
	}
	return DecodeTimestamp(b[:]), n, nil
}
