package parser

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	"dslog-monitor/internal/metrics"
	"dslog-monitor/internal/models"

	"github.com/rs/zerolog"
)

// .dsevents layout: the common header, then repeated
// [16-byte timestamp][int32 length][length bytes of ASCII] until EOF.

// EventReader decodes event records one at a time from a .dsevents stream.
// It is single pass and not safe for concurrent use.
type EventReader struct {
	r      *bufio.Reader
	closer io.Closer
	header Header
	log    zerolog.Logger
	name   string

	index     int64
	offset    int64
	done      bool
	truncated bool
}

// NewEventReader reads the header from r and returns a reader positioned at
// the first event.
func NewEventReader(r io.Reader, opts ...Option) (*EventReader, error) {
	o := newOptions(opts)
	br := bufio.NewReader(r)
	h, err := ReadHeader(br)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", o.name, err)
	}
	er := &EventReader{
		r:      br,
		header: h,
		log:    o.logger,
		name:   o.name,
		offset: HeaderSize,
	}
	if c, ok := r.(io.Closer); ok {
		er.closer = c
	}
	return er, nil
}

// OpenEvents opens a .dsevents file. The caller must Close the reader.
func OpenEvents(path string, opts ...Option) (*EventReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	er, err := NewEventReader(f, append([]Option{WithName(path)}, opts...)...)
	if err != nil {
		f.Close()
		return nil, err
	}
	return er, nil
}

// Header returns the file header.
func (e *EventReader) Header() Header { return e.header }

// Truncated reports whether the stream ended in a partial event.
func (e *EventReader) Truncated() bool { return e.truncated }

// Next returns the next event, or io.EOF once fewer than a timestamp's worth
// of bytes remain.
//
// A message with non-ASCII bytes yields an error wrapping ErrInvalidEncoding
// for that event only; the reader stays aligned and the next call continues
// with the following event. A length prefix that points past the end of the
// file yields one error wrapping ErrTruncatedRecord and ends the stream.
func (e *EventReader) Next() (models.EventRecord, error) {
	if e.done {
		return models.EventRecord{}, io.EOF
	}

	ts, n, err := readTimestamp(e.r)
	if err != nil {
		e.done = true
		if err == io.EOF {
			if n > 0 {
				e.log.Warn().
					Str("path", e.name).
					Int64("record", e.index).
					Int64("offset", e.offset).
					Int("bytes", n).
					Msg("ignoring partial trailing timestamp")
			}
			return models.EventRecord{}, io.EOF
		}
		return models.EventRecord{}, fmt.Errorf("%s: event %d: %w", e.name, e.index, err)
	}

	var lb [4]byte
	if m, err := io.ReadFull(e.r, lb[:]); err != nil {
		e.done = true
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return models.EventRecord{}, e.truncate(fmt.Sprintf("length prefix has %d of 4 bytes", m))
		}
		return models.EventRecord{}, fmt.Errorf("%s: event %d: %w", e.name, e.index, err)
	}
	length := int32(binary.BigEndian.Uint32(lb[:]))
	if length < 0 {
		e.done = true
		return models.EventRecord{}, e.truncate(fmt.Sprintf("negative message length %d", length))
	}

	// LimitReader keeps a corrupt length from allocating more than the file holds.
	msg, err := io.ReadAll(io.LimitReader(e.r, int64(length)))
	if err != nil {
		e.done = true
		return models.EventRecord{}, fmt.Errorf("%s: event %d: %w", e.name, e.index, err)
	}
	if len(msg) < int(length) {
		e.done = true
		return models.EventRecord{}, e.truncate(fmt.Sprintf("message has %d of %d bytes", len(msg), length))
	}

	idx := e.index
	e.index++
	e.offset += TimestampSize + 4 + int64(length)

	if i := nonASCII(msg); i >= 0 {
		metrics.InvalidEvents.Inc()
		return models.EventRecord{Timestamp: ts}, fmt.Errorf("%w: %s: event %d byte %d is 0x%02X",
			ErrInvalidEncoding, e.name, idx, i, msg[i])
	}

	metrics.RecordsDecoded.WithLabelValues("event").Inc()
	return models.EventRecord{Timestamp: ts, Message: string(msg)}, nil
}

func nonASCII(b []byte) int {
	for i, c := range b {
		if c > 0x7F {
			return i
		}
	}
	return -1
}

func (e *EventReader) truncate(detail string) error {
	e.truncated = true
	metrics.TruncatedFiles.WithLabelValues("event").Inc()
	e.log.Warn().
		Str("path", e.name).
		Int64("record", e.index).
		Int64("offset", e.offset).
		Msg("event log ends in a partial record: " + detail)
	return fmt.Errorf("%w: %s: event %d at offset %d: %s", ErrTruncatedRecord, e.name, e.index, e.offset, detail)
}

// Close releases the underlying file, if the reader owns one.
func (e *EventReader) Close() error {
	e.done = true
	if e.closer == nil {
		return nil
	}
	err := e.closer.Close()
	e.closer = nil
	return err
}

// ReadAllEvents drains r, skipping events with invalid encoding. Skipped
// events are logged and counted. On truncation the events decoded so far are
// returned together with the error.
func ReadAllEvents(r *EventReader) (events []models.EventRecord, skipped int, err error) {
	for {
		ev, err := r.Next()
		switch {
		case err == nil:
			events = append(events, ev)
		case err == io.EOF:
			return events, skipped, nil
		case errors.Is(err, ErrInvalidEncoding):
			skipped++
			r.log.Warn().Err(err).Str("path", r.name).Msg("skipping event")
		default:
			return events, skipped, err
		}
	}
}
