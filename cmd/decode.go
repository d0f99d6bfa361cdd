package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"dslog-monitor/internal/analysis"
	"dslog-monitor/internal/export"
	"dslog-monitor/internal/models"
	"dslog-monitor/internal/parser"
	"dslog-monitor/internal/stream"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"
)

// csvCmd converts .dslog files to CSV
func csvCmd() *cobra.Command {
	var output string
	var onePerFile bool
	var addMatchInfo bool
	var matchesOnly bool
	var includeUnverified bool

	cmd := &cobra.Command{
		Use:   "csv [file.dslog...]",
		Short: "Convert .dslog files to CSV",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			log := loggerFor(cmd)
			if matchesOnly {
				addMatchInfo = true
			}
			opts := export.Options{
				MatchInfo:         addMatchInfo,
				IncludeUnverified: cfg.Export.IncludeUnverified,
			}
			if cmd.Flags().Changed("include-unverified") {
				opts.IncludeUnverified = includeUnverified
			}

			var w *export.CSVWriter
			if !onePerFile {
				var out io.Writer = os.Stdout
				if output != "" {
					var f *os.File
					if f, err = os.Create(output); err != nil {
						return fmt.Errorf("error creating output file: %w", err)
					}
					defer func() { err = multierr.Append(err, f.Close()) }()
					out = f
				}
				w = export.NewCSVWriter(out, opts)
				if err := w.WriteHeader(); err != nil {
					return err
				}
			}

			for _, fn := range args {
				var match *models.MatchInfo
				if addMatchInfo {
					match = matchInfoFor(fn, log)
				}
				if matchesOnly && match == nil {
					log.Debug().Str("path", fn).Msg("no match info, skipping")
					continue
				}

				if onePerFile {
					name := strings.TrimSuffix(filepath.Base(fn), filepath.Ext(fn)) + ".csv"
					if output != "" {
						name = filepath.Join(output, name)
					}
					if err := writeCSVFile(name, fn, match, opts, log); err != nil {
						return err
					}
					continue
				}
				if err := writeCSVRows(w, fn, match, log); err != nil {
					return err
				}
			}

			if w != nil {
				return w.Flush()
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "Output file (or directory with --one-output-per-file)")
	cmd.Flags().BoolVar(&onePerFile, "one-output-per-file", false, "Write one CSV per input, named after it")
	cmd.Flags().BoolVar(&addMatchInfo, "add-match-info", false, "Add match info from the matching .dsevents file")
	cmd.Flags().BoolVar(&matchesOnly, "matches-only", false, "Only convert logs with match info (implies --add-match-info)")
	cmd.Flags().BoolVar(&includeUnverified, "include-unverified", false, "Include PDP resistance, voltage and temperature of unknown scale")
	return cmd
}

// matchInfoFor returns the match info of a .dslog file's event file, or nil.
func matchInfoFor(logPath string, log zerolog.Logger) *models.MatchInfo {
	evt, ok := parser.EventFileFor(logPath)
	if !ok {
		return nil
	}
	info, found, err := parser.FindMatchInfo(evt, parser.WithLogger(log))
	if err != nil {
		log.Warn().Err(err).Str("path", evt).Msg("cannot read event file")
		return nil
	}
	if !found {
		return nil
	}
	return &info
}

func writeCSVFile(name, input string, match *models.MatchInfo, opts export.Options, log zerolog.Logger) (err error) {
	f, err := os.Create(name)
	if err != nil {
		return fmt.Errorf("error creating output file: %w", err)
	}
	defer func() { err = multierr.Append(err, f.Close()) }()

	w := export.NewCSVWriter(f, opts)
	if err := w.WriteHeader(); err != nil {
		return err
	}
	if err := writeCSVRows(w, input, match, log); err != nil {
		return err
	}
	return w.Flush()
}

// writeCSVRows streams every record of input into w. A truncated tail ends
// the file with a warning.
func writeCSVRows(w *export.CSVWriter, input string, match *models.MatchInfo, log zerolog.Logger) (err error) {
	r, err := parser.OpenTelemetry(input, parser.WithLogger(log))
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, r.Close()) }()

	for {
		rec, err := r.Next()
		if err == io.EOF || errors.Is(err, parser.ErrTruncatedRecord) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := w.Write(input, match, rec); err != nil {
			return err
		}
	}
}

// eventsCmd prints the messages of .dsevents files
func eventsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "events [file.dsevents...]",
		Short: "Print the events of .dsevents files",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			log := loggerFor(cmd)
			for _, fn := range args {
				r, err := parser.OpenEvents(fn, parser.WithLogger(log))
				if err != nil {
					return err
				}
				events, skipped, err := parser.ReadAllEvents(r)
				r.Close()
				if err != nil && !errors.Is(err, parser.ErrTruncatedRecord) {
					return err
				}
				if err := export.WriteEvents(os.Stdout, events); err != nil {
					return err
				}
				if skipped > 0 {
					log.Warn().Str("path", fn).Int("skipped", skipped).Msg("events with invalid encoding were skipped")
				}
			}
			return nil
		},
	}
}

type matchInfoResult struct {
	File       string     `json:"file"`
	MatchName  string     `json:"match_name,omitempty"`
	FieldTime  *time.Time `json:"field_time,omitempty"`
	MatchStart *time.Time `json:"match_start,omitempty"`
}

// matchInfoCmd shows the FMS match of log files
func matchInfoCmd() *cobra.Command {
	var outputFormat string

	cmd := &cobra.Command{
		Use:   "matchinfo [file...]",
		Short: "Show FMS match info for .dslog or .dsevents files",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			log := loggerFor(cmd)
			var results []matchInfoResult
			for _, fn := range args {
				res, err := findMatch(fn, log)
				if err != nil {
					return err
				}
				results = append(results, res)
			}

			if outputFormat == "json" {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(results)
			}
			for _, r := range results {
				if r.MatchName == "" {
					fmt.Printf("%s: no match info\n", r.File)
					continue
				}
				fmt.Printf("%s: %s at %s", r.File, r.MatchName, r.FieldTime.Format(time.RFC3339))
				if r.MatchStart != nil {
					fmt.Printf(", auto from %s", r.MatchStart.Format("15:04:05.000"))
				}
				fmt.Println()
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&outputFormat, "output", "o", "table", "Output format (table, json)")
	return cmd
}

func findMatch(fn string, log zerolog.Logger) (matchInfoResult, error) {
	res := matchInfoResult{File: fn}
	kind, err := parser.KindOf(fn)
	if err != nil {
		return res, err
	}

	evt, logPath := fn, ""
	if kind == parser.KindTelemetry {
		logPath = fn
		var ok bool
		if evt, ok = parser.EventFileFor(fn); !ok {
			return res, nil
		}
	}

	info, found, err := parser.FindMatchInfo(evt, parser.WithLogger(log))
	if err != nil || !found {
		return res, err
	}
	res.MatchName = info.MatchName
	res.FieldTime = &info.FieldTime

	if logPath != "" {
		start, ok, err := parser.FindMatchStart(logPath, info, parser.WithLogger(log))
		if err != nil {
			return res, err
		}
		if ok {
			res.MatchStart = &start
		}
	}
	return res, nil
}

// summaryCmd prints statistics for a .dslog file or a stored log
func summaryCmd() *cobra.Command {
	var startTime string
	var endTime string

	cmd := &cobra.Command{
		Use:   "summary [file.dslog | log_id]",
		Short: "Summarize voltage, current and modes of a log",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var start, end time.Time
			var err error
			if startTime != "" {
				if start, err = time.Parse(time.RFC3339Nano, startTime); err != nil {
					return fmt.Errorf("invalid start format (use RFC3339): %w", err)
				}
			}
			if endTime != "" {
				if end, err = time.Parse(time.RFC3339Nano, endTime); err != nil {
					return fmt.Errorf("invalid end format (use RFC3339): %w", err)
				}
			}

			var recs []models.TelemetryRecord
			if _, statErr := os.Stat(args[0]); statErr == nil {
				recs, err = fileRecords(args[0], start, end, loggerFor(cmd))
			} else {
				recs, err = storedRecords(cmd, args[0], start, end)
			}
			if err != nil {
				return err
			}

			printSummary(args[0], analysis.Summarize(recs), analysis.BrownoutSpans(recs))
			return nil
		},
	}

	cmd.Flags().StringVarP(&startTime, "start", "s", "", "Only records at or after this time (RFC3339)")
	cmd.Flags().StringVarP(&endTime, "end", "e", "", "Only records at or before this time (RFC3339)")
	return cmd
}

func fileRecords(path string, start, end time.Time, log zerolog.Logger) (recs []models.TelemetryRecord, err error) {
	r, err := parser.OpenTelemetry(path, parser.WithLogger(log))
	if err != nil {
		return nil, err
	}
	defer func() { err = multierr.Append(err, r.Close()) }()

	recs, err = stream.Collect[models.TelemetryRecord](stream.Slice[models.TelemetryRecord](r, start, end))
	if errors.Is(err, parser.ErrTruncatedRecord) {
		err = nil
	}
	return recs, err
}

func storedRecords(cmd *cobra.Command, id string, start, end time.Time) ([]models.TelemetryRecord, error) {
	if err := initDB(cmd); err != nil {
		return nil, err
	}
	defer database.Close()

	if _, err := database.GetLog(id); err != nil {
		return nil, fmt.Errorf("%s is neither a file nor a stored log: %w", id, err)
	}
	return database.QueryTelemetry(models.TelemetryQuery{LogID: id, StartTime: start, EndTime: end})
}

func printSummary(name string, s models.LogSummary, brownouts [][2]time.Time) {
	fmt.Println(headingStyle.Render("Summary for " + name))
	if s.TotalRecords == 0 {
		fmt.Println("  No telemetry records")
		return
	}
	printField("Records", s.TotalRecords)
	printField("Start", s.Start.Format(time.RFC3339Nano))
	printField("Duration", s.Duration)
	printField("Voltage", fmt.Sprintf("mean %.2f V, sd %.2f, min %.2f, max %.2f",
		s.VoltageMean, s.VoltageStdDev, s.VoltageMin, s.VoltageMax))
	printField("Total current", fmt.Sprintf("mean %.1f A, peak %.1f A", s.TotalCurrentMean, s.TotalCurrentPeak))
	printField("Packet loss", fmt.Sprintf("%.2f %%", s.PacketLossMean))
	printField("Round trip", fmt.Sprintf("%.1f ms", s.RoundTripMean))
	printField("Auto", s.AutoDuration)
	printField("Teleop", s.TeleopDuration)
	printField("Disabled", s.DisabledDuration)
	printField("Watchdog records", s.WatchdogRecords)

	fmt.Println()
	fmt.Println(headingStyle.Render("Peak channel current (A)"))
	for ch := 0; ch < models.PDPChannels; ch += 4 {
		fmt.Printf("  %2d: %6.1f   %2d: %6.1f   %2d: %6.1f   %2d: %6.1f\n",
			ch, s.ChannelPeak[ch], ch+1, s.ChannelPeak[ch+1],
			ch+2, s.ChannelPeak[ch+2], ch+3, s.ChannelPeak[ch+3])
	}

	if len(brownouts) > 0 {
		fmt.Println()
		fmt.Println(warnStyle.Render(fmt.Sprintf("%d brownouts (%d records)", len(brownouts), s.BrownoutRecords)))
		for _, b := range brownouts {
			fmt.Printf("  %s - %s\n", b[0].Format("15:04:05.000"), b[1].Format("15:04:05.000"))
		}
	}
}
