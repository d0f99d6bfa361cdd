// Package bitfield extracts unsigned integers that are packed at arbitrary
// bit positions inside a byte buffer.
//
// Bits are numbered from the most significant bit of buf[0] (bit 0) through
// the least significant bit of buf[len(buf)-1], i.e. big-endian across bytes
// and MSB-first within each byte.
package bitfield

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// MaxWidth is the widest span Uint can extract.
const MaxWidth = 16

var (
	// ErrUnsupportedWidth is returned for spans that do not fit in the one or
	// two bytes Uint reads.
	ErrUnsupportedWidth = errors.New("unsupported bit width")
	// ErrOutOfRange is returned when the span runs past the end of the buffer.
	ErrOutOfRange = errors.New("bit span out of range")
)

// Uint returns the unsigned value of the width-bit span starting at bit offset.
func Uint(buf []byte, offset, width uint) (uint16, error) {
	if width == 0 || width > MaxWidth {
		return 0, fmt.Errorf("%w: %d bits", ErrUnsupportedWidth, width)
	}

	firstByte := offset / 8
	numBytes := (width + 7) / 8
	leftShift := offset - firstByte*8

	// The span must end inside the bytes read; a 10-bit value starting at
	// bit 7 of a byte would need a third byte.
	if leftShift+width > numBytes*8 {
		return 0, fmt.Errorf("%w: %d bits at offset %d straddles %d bytes", ErrUnsupportedWidth, width, offset, numBytes+1)
	}
	if int(firstByte+numBytes) > len(buf) {
		return 0, fmt.Errorf("%w: offset %d width %d in %d bytes", ErrOutOfRange, offset, width, len(buf))
	}

	var raw uint16
	if numBytes == 1 {
		raw = uint16(buf[firstByte])
	} else {
		raw = binary.BigEndian.Uint16(buf[firstByte:])
	}

	rightShift := numBytes*8 - width - leftShift
	return (raw & (0xFFFF >> leftShift)) >> rightShift, nil
}

// MustUint is Uint for fixed layouts known to be valid; it panics on error.
func MustUint(buf []byte, offset, width uint) uint16 {
	v, err := Uint(buf, offset, width)
	if err != nil {
		panic(err)
	}
	return v
}

// Put writes the low width bits of v into buf at offset. It is the inverse of
// Uint and shares its span restrictions.
func Put(buf []byte, offset, width uint, v uint16) error {
	if width == 0 || width > MaxWidth {
		return fmt.Errorf("%w: %d bits", ErrUnsupportedWidth, width)
	}
	firstByte := offset / 8
	numBytes := (width + 7) / 8
	leftShift := offset - firstByte*8
	if leftShift+width > numBytes*8 {
		return fmt.Errorf("%w: %d bits at offset %d straddles %d bytes", ErrUnsupportedWidth, width, offset, numBytes+1)
	}
	if int(firstByte+numBytes) > len(buf) {
		return fmt.Errorf("%w: offset %d width %d in %d bytes", ErrOutOfRange, offset, width, len(buf))
	}

	rightShift := numBytes*8 - width - leftShift
	mask := uint16((uint32(1)<<width)-1) << rightShift
	val := (v << rightShift) & mask

	if numBytes == 1 {
		buf[firstByte] = byte((uint16(buf[firstByte]) &^ mask) | val)
		return nil
	}
	cur := binary.BigEndian.Uint16(buf[firstByte:])
	binary.BigEndian.PutUint16(buf[firstByte:], (cur&^mask)|val)
	return nil
}
