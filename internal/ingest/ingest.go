// Package ingest decodes log files and stores them in the database.
package ingest

import (
	"database/sql"
	"errors"
	"fmt"

	"dslog-monitor/internal/db"
	"dslog-monitor/internal/metrics"
	"dslog-monitor/internal/models"
	"dslog-monitor/internal/parser"
	"dslog-monitor/internal/stream"

	"github.com/rs/zerolog"
	"go.uber.org/multierr"
)

// ErrAlreadyIngested is returned for a path that is already in the database.
var ErrAlreadyIngested = errors.New("file already ingested")

// Result describes one ingested file.
type Result struct {
	Log      *models.LogFile
	Inserted int64
	Invalid  int // telemetry records dropped by validation
	Skipped  int // events dropped for invalid encoding
}

// Ingester stores decoded files.
type Ingester struct {
	db       *db.Database
	log      zerolog.Logger
	validate bool
}

// New creates an Ingester. With validate set, telemetry records that fail
// parser.ValidateTelemetry are dropped.
func New(database *db.Database, log zerolog.Logger, validate bool) *Ingester {
	return &Ingester{db: database, log: log, validate: validate}
}

// File decodes and stores the .dslog or .dsevents file at path. Telemetry
// logs are correlated with the match info of their sibling event file.
func (i *Ingester) File(path string) (*Result, error) {
	if _, err := i.db.GetLogByPath(path); err == nil {
		return nil, fmt.Errorf("%s: %w", path, ErrAlreadyIngested)
	} else if !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	p := parser.NewParser(parser.KindAuto, parser.WithLogger(i.log))
	parsed, err := p.ParseFile(path)
	if err != nil {
		return nil, err
	}

	res := &Result{
		Log: &models.LogFile{
			Path:      path,
			Kind:      parsed.Kind,
			Version:   parsed.Header.Version,
			StartTime: parsed.Header.Start,
			Truncated: parsed.Truncated,
		},
		Skipped: parsed.Skipped,
	}

	switch parsed.Kind {
	case parser.KindTelemetry:
		recs := parsed.Telemetry
		if i.validate {
			recs, res.Invalid = i.filterValid(path, recs)
		}
		i.correlate(path, parsed.Telemetry, res.Log)
		res.Log.RecordCount = int64(len(recs))
		err = i.store(res, func(id string) (int64, error) { return i.db.InsertTelemetryBatch(id, recs) })
	case parser.KindEvents:
		for _, ev := range parsed.Events {
			if info, ok := parser.ParseMatchInfo(ev); ok {
				setMatch(res.Log, info)
				break
			}
		}
		res.Log.RecordCount = int64(len(parsed.Events))
		err = i.store(res, func(id string) (int64, error) { return i.db.InsertEventBatch(id, parsed.Events) })
	}
	if err != nil {
		return nil, err
	}

	metrics.LogsIngested.WithLabelValues(res.Log.Kind).Inc()
	i.log.Info().
		Str("path", path).
		Str("log_id", res.Log.ID).
		Str("kind", res.Log.Kind).
		Int64("records", res.Inserted).
		Bool("truncated", res.Log.Truncated).
		Str("match", res.Log.MatchName).
		Msg("ingested log")
	return res, nil
}

func (i *Ingester) store(res *Result, insert func(id string) (int64, error)) error {
	if err := i.db.InsertLog(res.Log); err != nil {
		return fmt.Errorf("failed to insert log: %w", err)
	}
	n, err := insert(res.Log.ID)
	if err != nil {
		err = fmt.Errorf("failed to insert records: %w", err)
		return multierr.Append(err, i.db.DeleteLog(res.Log.ID))
	}
	res.Inserted = n
	return nil
}

func (i *Ingester) filterValid(path string, recs []models.TelemetryRecord) ([]models.TelemetryRecord, int) {
	valid := recs[:0:0]
	invalid := 0
	for idx := range recs {
		if problems := parser.ValidateTelemetry(&recs[idx]); len(problems) > 0 {
			invalid++
			i.log.Warn().Str("path", path).Int("record", idx).Strs("problems", problems).Msg("dropping invalid record")
			continue
		}
		valid = append(valid, recs[idx])
	}
	return valid, invalid
}

// correlate fills the match fields of a telemetry log from its event file,
// locating the match start among the log's decoded records. A missing or
// unreadable event file leaves them empty.
func (i *Ingester) correlate(path string, recs []models.TelemetryRecord, l *models.LogFile) {
	evPath, ok := parser.EventFileFor(path)
	if !ok {
		return
	}
	info, ok, err := parser.FindMatchInfo(evPath, parser.WithLogger(i.log))
	if err != nil {
		i.log.Warn().Err(err).Str("path", evPath).Msg("cannot read event file")
		return
	}
	if !ok {
		return
	}
	setMatch(l, info)

	start, ok, err := parser.MatchStartIn(stream.FromSlice(recs), info)
	if err != nil {
		i.log.Warn().Err(err).Str("path", path).Msg("cannot find match start")
		return
	}
	if ok {
		l.MatchStart = &start
	}
}

func setMatch(l *models.LogFile, info models.MatchInfo) {
	ft := info.FieldTime
	l.MatchName = info.MatchName
	l.FieldTime = &ft
}
