package parser

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"dslog-monitor/internal/models"
	"dslog-monitor/internal/stream"

	"go.uber.org/multierr"
)

var (
	fmsConnectedRe = regexp.MustCompile(`^FMS Connected:\s+(?P<info>.*?)\s*$`)
	fieldTimeRe    = regexp.MustCompile(`^(?P<name>.*?),?\s*Field Time:\s*(?P<time>\d+/\d+/\d+ \d+:\d+:\d+)$`)
)

// fieldTimeLayout is the "yy/m/d h:mm:ss" stamp the field management system
// appends to the connect message.
const fieldTimeLayout = "06/1/2 15:04:05"

// ParseMatchInfo extracts match details from an "FMS Connected: ..." event.
// The match name is the text after the prefix, up to an optional
// "Field Time: ..." suffix. When the suffix is missing or unparseable the
// event's own timestamp is used as the field time.
func ParseMatchInfo(ev models.EventRecord) (models.MatchInfo, bool) {
	m := fmsConnectedRe.FindStringSubmatch(ev.Message)
	if m == nil {
		return models.MatchInfo{}, false
	}
	text := m[fmsConnectedRe.SubexpIndex("info")]
	info := models.MatchInfo{
		Info:      text,
		MatchName: text,
		FieldTime: ev.Timestamp,
	}
	if f := fieldTimeRe.FindStringSubmatch(info.MatchName); f != nil {
		if ft, err := time.ParseInLocation(fieldTimeLayout, f[fieldTimeRe.SubexpIndex("time")], time.UTC); err == nil {
			info.MatchName = strings.TrimSpace(f[fieldTimeRe.SubexpIndex("name")])
			info.FieldTime = ft
		}
	}
	return info, true
}

// ScanMatchInfo returns the match info from the first "FMS Connected" event
// of r. Events with invalid encoding are skipped; a truncated tail ends the
// scan without error.
func ScanMatchInfo(r *EventReader) (models.MatchInfo, bool, error) {
	for {
		ev, err := r.Next()
		switch {
		case err == nil:
			if info, ok := ParseMatchInfo(ev); ok {
				return info, true, nil
			}
		case err == io.EOF, errors.Is(err, ErrTruncatedRecord):
			return models.MatchInfo{}, false, nil
		case errors.Is(err, ErrInvalidEncoding):
			r.log.Warn().Err(err).Str("path", r.name).Msg("skipping event")
		default:
			return models.MatchInfo{}, false, err
		}
	}
}

// FindMatchInfo scans the event file at path for match info.
func FindMatchInfo(path string, opts ...Option) (info models.MatchInfo, ok bool, err error) {
	r, err := OpenEvents(path, opts...)
	if err != nil {
		return models.MatchInfo{}, false, err
	}
	defer func() { err = multierr.Append(err, r.Close()) }()
	return ScanMatchInfo(r)
}

// EventFileFor returns the .dsevents file that accompanies a .dslog file,
// if it exists.
func EventFileFor(logPath string) (string, bool) {
	evt := strings.TrimSuffix(logPath, filepath.Ext(logPath)) + ".dsevents"
	if _, err := os.Stat(evt); err != nil {
		return "", false
	}
	return evt, true
}

// FindMatchStart returns the time of the first telemetry record at or after
// the field time in which the driver station reports autonomous mode.
func FindMatchStart(logPath string, info models.MatchInfo, opts ...Option) (start time.Time, ok bool, err error) {
	r, err := OpenTelemetry(logPath, opts...)
	if err != nil {
		return time.Time{}, false, err
	}
	defer func() { err = multierr.Append(err, r.Close()) }()

	return MatchStartIn(r, info)
}

// MatchStartIn is FindMatchStart over records that are already decoded or
// being decoded. A source ending in ErrTruncatedRecord counts as not found.
func MatchStartIn(src stream.Source[models.TelemetryRecord], info models.MatchInfo) (time.Time, bool, error) {
	s := stream.Slice[models.TelemetryRecord](src, info.FieldTime, time.Time{})
	for {
		rec, err := s.Next()
		if err == io.EOF || errors.Is(err, ErrTruncatedRecord) {
			return time.Time{}, false, nil
		}
		if err != nil {
			return time.Time{}, false, fmt.Errorf("failed to scan for match start: %w", err)
		}
		if rec.DSAuto {
			return rec.Timestamp, true, nil
		}
	}
}
