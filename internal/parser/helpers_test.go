package parser

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var fileStart = time.Date(2019, time.March, 9, 14, 25, 30, 0, time.UTC)

func header(version int32, start time.Time) []byte {
	var b bytes.Buffer
	_ = binary.Write(&b, binary.BigEndian, version)
	ts := EncodeTimestamp(start)
	b.Write(ts[:])
	return b.Bytes()
}

// rawRecord is a 35-byte frame with a recognisable status block and the
// given first PDP byte.
func rawRecord(status byte, pdpID byte) []byte {
	frame := make([]byte, RecordSize)
	frame[0] = 10                   // 5 ms
	frame[1] = 25                   // 1 %
	frame[2], frame[3] = 0x0C, 0x80 // 12.5 V
	frame[5] = status
	frame[StatusFrameSize] = pdpID
	return frame
}

func eventBytes(at time.Time, msg []byte) []byte {
	ts := EncodeTimestamp(at)
	b := append([]byte{}, ts[:]...)
	b = binary.BigEndian.AppendUint32(b, uint32(len(msg)))
	return append(b, msg...)
}

func writeFile(t *testing.T, name string, data []byte) string {
	t.Helper()
	return writeFileIn(t, t.TempDir(), name, data)
}

func writeFileIn(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func concat(parts ...[]byte) []byte {
	var out []byte
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}
