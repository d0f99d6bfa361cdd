package parser

import (
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"strings"

	"dslog-monitor/internal/models"
)

// File kinds understood by Parser.
const (
	KindTelemetry = "dslog"
	KindEvents    = "dsevents"
	KindAuto      = "auto"
)

// Parser handles parsing of Driver Station log files
type Parser struct {
	format string
	opts   []Option
}

// ParsedLog is everything decoded from one file.
type ParsedLog struct {
	Path      string
	Kind      string
	Header    Header
	Telemetry []models.TelemetryRecord
	Events    []models.EventRecord
	Truncated bool // the file ended in a partial record
	Skipped   int  // events dropped for invalid encoding
}

// NewParser creates a new parser for the given format: "dslog", "dsevents"
// or "auto" to choose by file extension.
func NewParser(format string, opts ...Option) *Parser {
	return &Parser{format: strings.ToLower(format), opts: opts}
}

// KindOf returns the kind implied by a file's extension.
func KindOf(path string) (string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".dslog":
		return KindTelemetry, nil
	case ".dsevents":
		return KindEvents, nil
	default:
		return "", fmt.Errorf("cannot infer log kind from %q", filepath.Base(path))
	}
}

// ParseFile decodes a whole file. A truncated tail is not an error: the
// records before it are returned and Truncated is set. Header errors are
// returned as errors.
func (p *Parser) ParseFile(path string) (*ParsedLog, error) {
	kind := p.format
	if kind == KindAuto || kind == "" {
		var err error
		if kind, err = KindOf(path); err != nil {
			return nil, err
		}
	}

	switch kind {
	case KindTelemetry:
		return p.parseTelemetry(path)
	case KindEvents:
		return p.parseEvents(path)
	default:
		return nil, fmt.Errorf("unsupported format: %s", p.format)
	}
}

func (p *Parser) parseTelemetry(path string) (*ParsedLog, error) {
	r, err := OpenTelemetry(path, p.opts...)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	recs, err := ReadAllTelemetry(r)
	if err != nil && !errors.Is(err, ErrTruncatedRecord) {
		return nil, err
	}
	return &ParsedLog{
		Path:      path,
		Kind:      KindTelemetry,
		Header:    r.Header(),
		Telemetry: recs,
		Truncated: r.Truncated(),
	}, nil
}

func (p *Parser) parseEvents(path string) (*ParsedLog, error) {
	r, err := OpenEvents(path, p.opts...)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	evs, skipped, err := ReadAllEvents(r)
	if err != nil && !errors.Is(err, ErrTruncatedRecord) {
		return nil, err
	}
	return &ParsedLog{
		Path:      path,
		Kind:      KindEvents,
		Header:    r.Header(),
		Events:    evs,
		Truncated: r.Truncated(),
		Skipped:   skipped,
	}, nil
}

// ValidateTelemetry checks the invariants a decoded record must satisfy.
func ValidateTelemetry(t *models.TelemetryRecord) []string {
	var errors []string

	var sum float64
	for ch, c := range t.PDPCurrents {
		if c < 0 {
			errors = append(errors, fmt.Sprintf("pdp channel %d current cannot be negative", ch))
		}
		sum += c
	}
	if math.Abs(sum-t.PDPTotalCurrent) > 1e-9 {
		errors = append(errors, "pdp_total_current must equal the sum of channel currents")
	}
	if t.PacketLossPct < 0 {
		errors = append(errors, "packet_loss_pct cannot be negative")
	}
	if t.Voltage < 0 || t.Voltage >= 256 {
		errors = append(errors, "voltage must be between 0 and 256")
	}
	if t.RoundTripTimeMS < 0 {
		errors = append(errors, "round_trip_time_ms cannot be negative")
	}
	if t.Timestamp.IsZero() {
		errors = append(errors, "time is required")
	}

	return errors
}
