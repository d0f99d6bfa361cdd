// Package export writes decoded records in text formats.
package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"dslog-monitor/internal/models"
)

// TimeLayout is used for every timestamp written by this package.
const TimeLayout = "2006-01-02 15:04:05.000000-07:00"

// Options selects optional CSV columns.
type Options struct {
	// MatchInfo adds a match_info column after inputfile holding the full
	// FMS connect text.
	MatchInfo bool
	// IncludeUnverified appends the raw PDP resistance, voltage and
	// temperature bytes, whose scale is unknown.
	IncludeUnverified bool
}

var telemetryColumns = []string{
	"time", "round_trip_time", "packet_loss", "voltage", "rio_cpu",
	"robot_disabled", "robot_auto", "robot_tele",
	"ds_disabled", "ds_auto", "ds_tele",
	"watchdog", "brownout",
	"can_usage", "wifi_db", "bandwidth",
	"pdp_id",
}

// Columns returns the CSV header for opts.
func Columns(opts Options) []string {
	cols := []string{"inputfile"}
	if opts.MatchInfo {
		cols = append(cols, "match_info")
	}
	cols = append(cols, telemetryColumns...)
	for ch := 0; ch < models.PDPChannels; ch++ {
		cols = append(cols, fmt.Sprintf("pdp_%d", ch))
	}
	cols = append(cols, "pdp_total_current")
	if opts.IncludeUnverified {
		cols = append(cols, "pdp_resistance_unverified", "pdp_voltage_unverified", "pdp_temp_unverified")
	}
	return cols
}

// CSVWriter writes telemetry records one row per record.
type CSVWriter struct {
	w    *csv.Writer
	opts Options
	row  []string
}

// NewCSVWriter creates a CSVWriter. The header is not written until
// WriteHeader is called.
func NewCSVWriter(w io.Writer, opts Options) *CSVWriter {
	return &CSVWriter{
		w:    csv.NewWriter(w),
		opts: opts,
		row:  make([]string, 0, len(Columns(opts))),
	}
}

// WriteHeader writes the column names.
func (c *CSVWriter) WriteHeader() error {
	return c.w.Write(Columns(c.opts))
}

// Write writes one record. match may be nil when the file has no match
// info; the column is left empty.
func (c *CSVWriter) Write(inputFile string, match *models.MatchInfo, rec models.TelemetryRecord) error {
	row := append(c.row[:0], inputFile)
	if c.opts.MatchInfo {
		info := ""
		if match != nil {
			info = match.Info
			if info == "" {
				info = match.MatchName
			}
		}
		row = append(row, info)
	}
	row = append(row,
		rec.Timestamp.Format(TimeLayout),
		formatFloat(rec.RoundTripTimeMS),
		formatFloat(rec.PacketLossPct),
		formatFloat(rec.Voltage),
		formatFloat(rec.RioCPUPct),
		strconv.FormatBool(rec.RobotDisabled),
		strconv.FormatBool(rec.RobotAuto),
		strconv.FormatBool(rec.RobotTeleop),
		strconv.FormatBool(rec.DSDisabled),
		strconv.FormatBool(rec.DSAuto),
		strconv.FormatBool(rec.DSTeleop),
		strconv.FormatBool(rec.Watchdog),
		strconv.FormatBool(rec.Brownout),
		formatFloat(rec.CANUsagePct),
		formatFloat(rec.WifiSignalDB),
		formatFloat(rec.BandwidthMbps),
		strconv.Itoa(int(rec.PDPID)),
	)
	for _, cur := range rec.PDPCurrents {
		row = append(row, formatFloat(cur))
	}
	row = append(row, formatFloat(rec.PDPTotalCurrent))
	if c.opts.IncludeUnverified {
		row = append(row,
			strconv.Itoa(int(rec.PDPResistance)),
			strconv.Itoa(int(rec.PDPVoltage)),
			strconv.Itoa(int(rec.PDPTemp)),
		)
	}
	c.row = row
	return c.w.Write(row)
}

// Flush writes any buffered rows and reports the first write error.
func (c *CSVWriter) Flush() error {
	c.w.Flush()
	return c.w.Error()
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// WriteEvents writes one "time message" line per event.
func WriteEvents(w io.Writer, events []models.EventRecord) error {
	for _, ev := range events {
		if _, err := fmt.Fprintf(w, "%s %s\n", ev.Timestamp.Format(TimeLayout), ev.Message); err != nil {
			return err
		}
	}
	return nil
}
