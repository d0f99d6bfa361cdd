package bitfield

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var currentOffsets = []uint{8, 18, 28, 38, 48, 58, 72, 82, 92, 102, 112, 122, 136, 146, 156, 166}

func TestUint_TenBitOffsets(t *testing.T) {
	for _, offset := range currentOffsets {
		for v := uint16(0); v < 1024; v++ {
			buf := make([]byte, 25)
			require.NoError(t, Put(buf, offset, 10, v))

			got, err := Uint(buf, offset, 10)
			require.NoError(t, err)
			if got != v {
				t.Fatalf("offset %d: got %d, want %d", offset, got, v)
			}
		}
	}
}

func TestUint_NeighboursDoNotBleed(t *testing.T) {
	buf := make([]byte, 25)
	for i := range buf {
		buf[i] = 0xFF
	}
	require.NoError(t, Put(buf, 18, 10, 0))

	got, err := Uint(buf, 18, 10)
	require.NoError(t, err)
	assert.Equal(t, uint16(0), got)

	left, err := Uint(buf, 8, 10)
	require.NoError(t, err)
	assert.Equal(t, uint16(1023), left)

	right, err := Uint(buf, 28, 10)
	require.NoError(t, err)
	assert.Equal(t, uint16(1023), right)
}

func TestUint_ByteFields(t *testing.T) {
	buf := make([]byte, 25)
	buf[0] = 0x01
	buf[22] = 0xAB
	buf[23] = 0x7F
	buf[24] = 0x80

	cases := []struct {
		name   string
		offset uint
		want   uint16
	}{
		{"pdp id", 0, 1},
		{"resistance", 176, 0xAB},
		{"voltage", 184, 0x7F},
		{"temperature", 192, 0x80},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Uint(buf, tc.offset, 8)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestUint_KnownPattern(t *testing.T) {
	// 0b0000_0001 0b1111_1111 0b1100_0000: ten ones at bits 8 through 17.
	buf := []byte{0x01, 0xFF, 0xC0}
	got, err := Uint(buf, 8, 10)
	require.NoError(t, err)
	assert.Equal(t, uint16(0x3FF), got)

	got, err = Uint(buf, 0, 16)
	require.NoError(t, err)
	assert.Equal(t, uint16(0x01FF), got)

	got, err = Uint(buf, 4, 3)
	require.NoError(t, err)
	assert.Equal(t, uint16(0), got)

	got, err = Uint(buf, 7, 1)
	require.NoError(t, err)
	assert.Equal(t, uint16(1), got)
}

func TestUint_Errors(t *testing.T) {
	buf := make([]byte, 4)

	_, err := Uint(buf, 0, 17)
	assert.ErrorIs(t, err, ErrUnsupportedWidth)

	_, err = Uint(buf, 0, 0)
	assert.ErrorIs(t, err, ErrUnsupportedWidth)

	_, err = Uint(buf, 7, 10)
	assert.ErrorIs(t, err, ErrUnsupportedWidth)

	_, err = Uint(buf, 24, 10)
	assert.ErrorIs(t, err, ErrOutOfRange)

	assert.Panics(t, func() { MustUint(buf, 0, 32) })
}
