package parser

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"
)

// SupportedVersion is the only file format version that can be decoded.
const SupportedVersion = 3

// HeaderSize is the encoded size of a file header.
const HeaderSize = 4 + TimestampSize

// Header is the file-level preamble shared by .dslog and .dsevents files.
type Header struct {
	Version int32
	Start   time.Time
}

// ReadHeader reads and validates a file header.
func ReadHeader(r io.Reader) (Header, error) {
	var h Header

	var vb [4]byte
	if _, err := io.ReadFull(r, vb[:]); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return h, fmt.Errorf("%w: missing version", ErrTruncatedHeader)
		}
		return h, fmt.Errorf("failed to read version: %w", err)
	}
	h.Version = int32(binary.BigEndian.Uint32(vb[:]))
	if h.Version != SupportedVersion {
		return h, fmt.Errorf("%w: %d", ErrUnsupportedVersion, h.Version)
	}

	start, n, err := readTimestamp(r)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return h, fmt.Errorf("%w: start time has %d of %d bytes", ErrTruncatedHeader, n, TimestampSize)
		}
		return h, fmt.Errorf("failed to read start time: %w", err)
	}
	h.Start = start
	return h, nil
}

func writeHeader(w io.Writer, start time.Time) error {
	var b [HeaderSize]byte
	binary.BigEndian.PutUint32(b[0:4], SupportedVersion)
	ts := EncodeTimestamp(start)
	copy(b[4:], ts[:])
	_, err := w.Write(b[:])
	return err
}
