package parser

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"time"

	"dslog-monitor/internal/bitfield"
	"dslog-monitor/internal/models"
)

// TelemetryWriter encodes records into the .dslog format. Record timestamps
// are not stored; the n-th record written is read back at
// start + n*RecordInterval.
type TelemetryWriter struct {
	w io.Writer
}

// NewTelemetryWriter writes a header to w.
func NewTelemetryWriter(w io.Writer, start time.Time) (*TelemetryWriter, error) {
	if err := writeHeader(w, start); err != nil {
		return nil, fmt.Errorf("failed to write header: %w", err)
	}
	return &TelemetryWriter{w: w}, nil
}

// Write encodes one record.
func (tw *TelemetryWriter) Write(rec models.TelemetryRecord) error {
	frame, err := EncodeRecord(rec)
	if err != nil {
		return err
	}
	_, err = tw.w.Write(frame[:])
	return err
}

// EncodeRecord is the inverse of DecodeRecord. Values are rounded to the
// nearest representable step and clamped to the field range.
func EncodeRecord(rec models.TelemetryRecord) ([RecordSize]byte, error) {
	var b [RecordSize]byte

	b[0] = uint8(quantize(rec.RoundTripTimeMS*2, math.MaxUint8))
	b[1] = uint8(quantize(rec.PacketLossPct/0.04, math.MaxUint8))
	binary.BigEndian.PutUint16(b[2:4], uint16(quantize(rec.Voltage*256, math.MaxUint16)))
	b[4] = uint8(quantize(rec.RioCPUPct*200, math.MaxUint8))
	b[6] = uint8(quantize(rec.CANUsagePct*200, math.MaxUint8))
	b[7] = uint8(quantize(rec.WifiSignalDB*2, math.MaxUint8))
	binary.BigEndian.PutUint16(b[8:10], uint16(quantize(rec.BandwidthMbps*256, math.MaxUint16)))

	flags := [8]bool{
		rec.Brownout, rec.Watchdog, rec.DSTeleop, rec.DSAuto,
		rec.DSDisabled, rec.RobotTeleop, rec.RobotAuto, rec.RobotDisabled,
	}
	var status byte
	for i, set := range flags {
		if !set {
			status |= 0x80 >> i
		}
	}
	b[5] = status

	pdp := b[StatusFrameSize:]
	pdp[0] = rec.PDPID
	for i, off := range pdpCurrentOffsets {
		raw := quantize(rec.PDPCurrents[models.PDPChannels-1-i]*8, 1<<pdpCurrentWidth-1)
		if err := bitfield.Put(pdp, off, pdpCurrentWidth, uint16(raw)); err != nil {
			return b, fmt.Errorf("PDP current %d: %w", i, err)
		}
	}
	pdp[pdpResistanceOffset/8] = rec.PDPResistance
	pdp[pdpVoltageOffset/8] = rec.PDPVoltage
	pdp[pdpTempOffset/8] = rec.PDPTemp
	return b, nil
}

func quantize(v, max float64) float64 {
	v = math.Round(v)
	if v < 0 || math.IsNaN(v) {
		return 0
	}
	if v > max {
		return max
	}
	return v
}

// EventWriter encodes events into the .dsevents format.
type EventWriter struct {
	w io.Writer
}

// NewEventWriter writes a header to w.
func NewEventWriter(w io.Writer, start time.Time) (*EventWriter, error) {
	if err := writeHeader(w, start); err != nil {
		return nil, fmt.Errorf("failed to write header: %w", err)
	}
	return &EventWriter{w: w}, nil
}

// Write encodes one event. The message must be ASCII.
func (ew *EventWriter) Write(ev models.EventRecord) error {
	if i := nonASCII([]byte(ev.Message)); i >= 0 {
		return fmt.Errorf("%w: byte %d", ErrInvalidEncoding, i)
	}
	ts := EncodeTimestamp(ev.Timestamp)
	buf := make([]byte, 0, TimestampSize+4+len(ev.Message))
	buf = append(buf, ts[:]...)
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(ev.Message)))
	buf = append(buf, ev.Message...)
	_, err := ew.w.Write(buf)
	return err
}
