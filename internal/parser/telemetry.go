package parser

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"dslog-monitor/internal/bitfield"
	"dslog-monitor/internal/metrics"
	"dslog-monitor/internal/models"

	"github.com/rs/zerolog"
)

/*
.dslog layout (big-endian throughout):

	[int32 version][16-byte start timestamp]
	repeat until EOF:
		[10-byte status frame][25-byte PDP frame]

Status frame:

	0  u8  round trip, 0.5 ms per LSB
	1  u8  packet loss, 0.04 % per LSB (unsigned)
	2  u16 battery voltage, 1/256 V per LSB
	4  u8  roboRIO CPU, 0.005 % per LSB
	5  u8  status flags, active low
	6  u8  CAN usage, 0.005 % per LSB
	7  u8  WiFi signal, 0.5 dB per LSB
	8  u16 bandwidth, 1/256 Mbps per LSB

PDP frame (200 bits): an 8-bit PDP id, then sixteen 10-bit currents packed
six to a 64-bit word with the last 4 bits of each word unused, then three
8-bit fields of unknown scale. Currents are stored channel 15 first and are
1/8 A per LSB.

Records carry no timestamp: record n is at start + n*RecordInterval.
*/

const (
	// StatusFrameSize is the size of the link/status part of a record.
	StatusFrameSize = 10
	// PDPFrameSize is the size of the power distribution part of a record.
	PDPFrameSize = 25
	// RecordSize is the size of one complete telemetry record.
	RecordSize = StatusFrameSize + PDPFrameSize
	// RecordInterval is the fixed spacing between telemetry records.
	RecordInterval = 20 * time.Millisecond
)

const (
	pdpCurrentWidth     = 10
	pdpByteWidth        = 8
	pdpIDOffset         = 0
	pdpResistanceOffset = 176
	pdpVoltageOffset    = 184
	pdpTempOffset       = 192

	statusFlagsOffset = 5 * 8
)

// pdpCurrentOffsets are bit offsets into the PDP frame in stored order
// (channel 15 first). Bits 68-71 and 132-135 are padding.
var pdpCurrentOffsets = [models.PDPChannels]uint{
	8, 18, 28, 38, 48, 58,
	72, 82, 92, 102, 112, 122,
	136, 146, 156, 166,
}

// DecodeStatusFrame fills the link and mode fields of rec from a status frame.
//
// The flag byte (offset 5) is active low: a flag is set when its bit is 0.
// Bits are numbered from the most significant end, giving these masks:
//
//	0x80 brownout
//	0x40 watchdog
//	0x20 ds_teleop
//	0x10 ds_auto
//	0x08 ds_disabled
//	0x04 robot_teleop
//	0x02 robot_auto
//	0x01 robot_disabled
//
// A frame shorter than StatusFrameSize yields ErrTruncatedRecord.
func DecodeStatusFrame(b []byte, rec *models.TelemetryRecord) error {
	if len(b) < StatusFrameSize {
		return fmt.Errorf("%w: status frame has %d of %d bytes", ErrTruncatedRecord, len(b), StatusFrameSize)
	}

	rec.RoundTripTimeMS = shifted(uint16(b[0]), 1)
	rec.PacketLossPct = 0.04 * float64(b[1])
	rec.Voltage = shifted(binary.BigEndian.Uint16(b[2:4]), 8)
	rec.RioCPUPct = 0.01 * shifted(uint16(b[4]), 1)
	rec.CANUsagePct = 0.01 * shifted(uint16(b[6]), 1)
	rec.WifiSignalDB = shifted(uint16(b[7]), 1)
	rec.BandwidthMbps = shifted(binary.BigEndian.Uint16(b[8:10]), 8)

	// Flags are numbered MSB first like every other bit offset here, and a
	// cleared bit means the flag is set.
	rec.Brownout = !statusBit(b, 0)
	rec.Watchdog = !statusBit(b, 1)
	rec.DSTeleop = !statusBit(b, 2)
	rec.DSAuto = !statusBit(b, 3)
	rec.DSDisabled = !statusBit(b, 4)
	rec.RobotTeleop = !statusBit(b, 5)
	rec.RobotAuto = !statusBit(b, 6)
	rec.RobotDisabled = !statusBit(b, 7)
	return nil
}

func statusBit(b []byte, i uint) bool {
	return bitfield.MustUint(b, statusFlagsOffset+i, 1) == 1
}

// DecodePDPFrame fills the power distribution fields of rec from a PDP frame.
func DecodePDPFrame(b []byte, rec *models.TelemetryRecord) error {
	if len(b) < PDPFrameSize {
		return fmt.Errorf("%w: PDP frame has %d of %d bytes", ErrTruncatedRecord, len(b), PDPFrameSize)
	}

	var stored [models.PDPChannels]float64
	for i, off := range pdpCurrentOffsets {
		raw, err := bitfield.Uint(b, off, pdpCurrentWidth)
		if err != nil {
			return fmt.Errorf("PDP current %d: %w", i, err)
		}
		stored[i] = shifted(raw, 3)
	}

	var total float64
	for ch := range rec.PDPCurrents {
		rec.PDPCurrents[ch] = stored[models.PDPChannels-1-ch]
		total += rec.PDPCurrents[ch]
	}
	rec.PDPTotalCurrent = total

	rec.PDPID = uint8(bitfield.MustUint(b, pdpIDOffset, pdpByteWidth))
	rec.PDPResistance = uint8(bitfield.MustUint(b, pdpResistanceOffset, pdpByteWidth))
	rec.PDPVoltage = uint8(bitfield.MustUint(b, pdpVoltageOffset, pdpByteWidth))
	rec.PDPTemp = uint8(bitfield.MustUint(b, pdpTempOffset, pdpByteWidth))
	return nil
}

// DecodeRecord decodes one complete RecordSize frame stamped with t.
func DecodeRecord(frame []byte, t time.Time) (models.TelemetryRecord, error) {
	rec := models.TelemetryRecord{Timestamp: t}
	if len(frame) < RecordSize {
		return rec, fmt.Errorf("%w: record has %d of %d bytes", ErrTruncatedRecord, len(frame), RecordSize)
	}
	if err := DecodeStatusFrame(frame[:StatusFrameSize], &rec); err != nil {
		return rec, err
	}
	if err := DecodePDPFrame(frame[StatusFrameSize:RecordSize], &rec); err != nil {
		return rec, err
	}
	return rec, nil
}

func shifted(raw uint16, shiftRight uint) float64 {
	return float64(raw) / float64(uint(1)<<shiftRight)
}

// TelemetryReader decodes telemetry records one at a time from a .dslog
// stream. It is single pass and not safe for concurrent use.
type TelemetryReader struct {
	r      *bufio.Reader
	closer io.Closer
	header Header
	log    zerolog.Logger
	name   string

	index     int64
	offset    int64
	done      bool
	truncated bool
	frame     [RecordSize]byte
}

// NewTelemetryReader reads the header from r and returns a reader positioned
// at the first record.
func NewTelemetryReader(r io.Reader, opts ...Option) (*TelemetryReader, error) {
	o := newOptions(opts)
	br := bufio.NewReader(r)
	h, err := ReadHeader(br)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", o.name, err)
	}
	tr := &TelemetryReader{
		r:      br,
		header: h,
		log:    o.logger,
		name:   o.name,
		offset: HeaderSize,
	}
	if c, ok := r.(io.Closer); ok {
		tr.closer = c
	}
	return tr, nil
}

// OpenTelemetry opens a .dslog file. The caller must Close the reader.
func OpenTelemetry(path string, opts ...Option) (*TelemetryReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	tr, err := NewTelemetryReader(f, append([]Option{WithName(path)}, opts...)...)
	if err != nil {
		f.Close()
		return nil, err
	}
	return tr, nil
}

// Header returns the file header.
func (t *TelemetryReader) Header() Header { return t.header }

// Truncated reports whether the stream ended in a partial record.
func (t *TelemetryReader) Truncated() bool { return t.truncated }

// Next returns the next record. It returns io.EOF after the last complete
// record. A partial trailing record yields one error wrapping
// ErrTruncatedRecord, after which Next returns io.EOF.
func (t *TelemetryReader) Next() (models.TelemetryRecord, error) {
	if t.done {
		return models.TelemetryRecord{}, io.EOF
	}

	n, err := io.ReadFull(t.r, t.frame[:StatusFrameSize])
	if err == io.EOF {
		t.done = true
		return models.TelemetryRecord{}, io.EOF
	}
	if err == nil {
		var m int
		m, err = io.ReadFull(t.r, t.frame[StatusFrameSize:])
		n += m
	}
	if err != nil {
		t.done = true
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return models.TelemetryRecord{}, t.truncate(n)
		}
		return models.TelemetryRecord{}, fmt.Errorf("%s: record %d: %w", t.name, t.index, err)
	}

	rec, err := DecodeRecord(t.frame[:], t.header.Start.Add(time.Duration(t.index)*RecordInterval))
	if err != nil {
		t.done = true
		return models.TelemetryRecord{}, fmt.Errorf("%s: record %d: %w", t.name, t.index, err)
	}
	t.index++
	t.offset += RecordSize
	metrics.RecordsDecoded.WithLabelValues("telemetry").Inc()
	return rec, nil
}

func (t *TelemetryReader) truncate(got int) error {
	t.truncated = true
	metrics.TruncatedFiles.WithLabelValues("telemetry").Inc()
	t.log.Warn().
		Str("path", t.name).
		Int64("record", t.index).
		Int64("offset", t.offset).
		Int("bytes", got).
		Msg("telemetry log ends in a partial record")
	return fmt.Errorf("%w: %s: record %d at offset %d has %d of %d bytes",
		ErrTruncatedRecord, t.name, t.index, t.offset, got, RecordSize)
}

// Close releases the underlying file, if the reader owns one.
func (t *TelemetryReader) Close() error {
	t.done = true
	if t.closer == nil {
		return nil
	}
	err := t.closer.Close()
	t.closer = nil
	return err
}

// ReadAllTelemetry drains r. On truncation the records decoded so far are
// returned together with the error.
func ReadAllTelemetry(r *TelemetryReader) ([]models.TelemetryRecord, error) {
	var out []models.TelemetryRecord
	for {
		rec, err := r.Next()
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, rec)
	}
}
