package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"dslog-monitor/internal/api"
	"dslog-monitor/internal/config"
	"dslog-monitor/internal/db"
	"dslog-monitor/internal/ingest"
	"dslog-monitor/internal/logging"
	"dslog-monitor/internal/models"

	"github.com/charmbracelet/lipgloss"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var (
	cfgFile   string
	dbPath    string
	logLevel  string
	logFormat string

	cfg      *config.Config
	database *db.Database
)

var (
	headingStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	labelStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("8")).Width(20)
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "dslog",
		Short: "DS Log Monitor - FRC Driver Station log decoding and analysis",
		Long: `A CLI tool for decoding FRC Driver Station .dslog and .dsevents files.
Exports telemetry to CSV, correlates logs with FMS match info, and stores
decoded logs in SQLite with REST API access.`,
		SilenceUsage:      true,
		PersistentPreRunE: setup,
	}

	// Global flags
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "Path to YAML config file")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "Path to SQLite database (overrides config)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: trace, debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "Log format: console or json")

	// Add commands
	rootCmd.AddCommand(csvCmd())
	rootCmd.AddCommand(eventsCmd())
	rootCmd.AddCommand(matchInfoCmd())
	rootCmd.AddCommand(summaryCmd())
	rootCmd.AddCommand(generateCmd())
	rootCmd.AddCommand(ingestCmd())
	rootCmd.AddCommand(queryCmd())
	rootCmd.AddCommand(logsCmd())
	rootCmd.AddCommand(statsCmd())
	rootCmd.AddCommand(serverCmd())
	rootCmd.AddCommand(migrateCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// setup loads configuration, applies flag overrides and installs the logger
// in the command context.
func setup(cmd *cobra.Command, args []string) error {
	c := config.Default()
	if cfgFile != "" {
		var err error
		if c, err = config.Load(cfgFile); err != nil {
			return fmt.Errorf("config error: %w", err)
		}
	}

	flags := cmd.Flags()
	if flags.Changed("db") {
		c.Database.Path = dbPath
	}
	if flags.Changed("log-level") {
		c.Logging.Level = logLevel
	}
	if flags.Changed("log-format") {
		c.Logging.Format = logFormat
	}
	cfg = c

	log := logging.New(cfg.Logging.Level, cfg.Logging.Format)
	cmd.SetContext(logging.NewContext(cmd.Context(), log))
	return nil
}

func loggerFor(cmd *cobra.Command) zerolog.Logger {
	return logging.FromContext(cmd.Context())
}

// initDB initializes database connection
func initDB(cmd *cobra.Command) error {
	var err error
	database, err = db.New(cfg.Database.Path, loggerFor(cmd))
	if err != nil {
		return fmt.Errorf("database error: %w", err)
	}
	return nil
}

func printField(label string, value interface{}) {
	fmt.Printf("  %s %v\n", labelStyle.Render(label), value)
}

// serverCmd starts the REST API server
func serverCmd() *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "server",
		Short: "Start the REST API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := initDB(cmd); err != nil {
				return err
			}
			defer database.Close()

			if cmd.Flags().Changed("port") {
				cfg.Server.Port = port
			}

			server := api.NewServer(database, loggerFor(cmd))
			addr := fmt.Sprintf(":%d", cfg.Server.Port)

			fmt.Println(headingStyle.Render("DS Log Monitor API Server"))
			fmt.Printf("   Listening on http://localhost%s\n", addr)
			fmt.Printf("   Database: %s\n\n", cfg.Database.Path)
			fmt.Println("Available endpoints:")
			fmt.Println("  GET  /health")
			fmt.Println("  GET  /metrics")
			fmt.Println("  GET  /api/v1/logs")
			fmt.Println("  POST /api/v1/logs")
			fmt.Println("  GET  /api/v1/logs/{id}")
			fmt.Println("  GET  /api/v1/logs/{id}/telemetry")
			fmt.Println("  GET  /api/v1/logs/{id}/events")
			fmt.Println("  GET  /api/v1/logs/{id}/summary")
			fmt.Println("  GET  /api/v1/logs/{id}/chart")
			fmt.Println("  GET  /api/v1/brownouts")
			fmt.Println("  GET  /api/v1/stats")
			fmt.Println()

			srv := &http.Server{
				Addr:              addr,
				Handler:           server.Router(),
				ReadHeaderTimeout: 10 * time.Second,
			}
			return srv.ListenAndServe()
		},
	}

	cmd.Flags().IntVarP(&port, "port", "p", 8080, "Server port (overrides config)")
	return cmd
}

// ingestCmd stores decoded log files in the database
func ingestCmd() *cobra.Command {
	var validate bool

	cmd := &cobra.Command{
		Use:   "ingest [file...]",
		Short: "Decode .dslog/.dsevents files and store them",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := initDB(cmd); err != nil {
				return err
			}
			defer database.Close()

			ing := ingest.New(database, loggerFor(cmd), validate)
			var totalRecords int64
			totalErrors := 0

			for _, file := range args {
				fmt.Printf("Processing %s...\n", file)
				start := time.Now()

				res, err := ing.File(file)
				if errors.Is(err, ingest.ErrAlreadyIngested) {
					fmt.Println("  Skipped: already ingested")
					continue
				}
				if err != nil {
					fmt.Printf("  %s %v\n", warnStyle.Render("Error:"), err)
					totalErrors++
					continue
				}

				elapsed := time.Since(start)
				fmt.Printf("  Inserted %d %s records in %v (%.0f records/sec)\n",
					res.Inserted, res.Log.Kind, elapsed, float64(res.Inserted)/elapsed.Seconds())
				if res.Log.MatchName != "" {
					fmt.Printf("  Match: %s\n", res.Log.MatchName)
				}
				if res.Log.Truncated {
					fmt.Println("  " + warnStyle.Render("File ends in a truncated record"))
				}
				if res.Invalid > 0 || res.Skipped > 0 {
					fmt.Printf("  Dropped %d invalid records, skipped %d events\n", res.Invalid, res.Skipped)
				}
				totalRecords += res.Inserted
			}

			fmt.Printf("\nTotal: %d records ingested", totalRecords)
			if totalErrors > 0 {
				fmt.Printf(", %d errors", totalErrors)
			}
			fmt.Println()

			return nil
		},
	}

	cmd.Flags().BoolVarP(&validate, "validate", "v", true, "Validate records before inserting")
	return cmd
}

// queryCmd queries stored telemetry
func queryCmd() *cobra.Command {
	var logID string
	var startTime string
	var endTime string
	var limit int
	var offset int
	var brownoutOnly bool
	var outputFormat string

	cmd := &cobra.Command{
		Use:   "query",
		Short: "Query stored telemetry",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := initDB(cmd); err != nil {
				return err
			}
			defer database.Close()

			q := models.TelemetryQuery{
				LogID:        logID,
				Limit:        limit,
				Offset:       offset,
				BrownoutOnly: brownoutOnly,
			}

			if startTime != "" {
				t, err := time.Parse(time.RFC3339Nano, startTime)
				if err != nil {
					return fmt.Errorf("invalid start_time format (use RFC3339): %w", err)
				}
				q.StartTime = t
			}

			if endTime != "" {
				t, err := time.Parse(time.RFC3339Nano, endTime)
				if err != nil {
					return fmt.Errorf("invalid end_time format (use RFC3339): %w", err)
				}
				q.EndTime = t
			}

			start := time.Now()
			results, err := database.QueryTelemetry(q)
			if err != nil {
				return fmt.Errorf("query error: %w", err)
			}
			elapsed := time.Since(start)

			switch outputFormat {
			case "json":
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(results)
			default:
				fmt.Printf("Found %d records (query time: %v)\n\n", len(results), elapsed)
				for _, r := range results {
					fmt.Printf("[%s] %5.2f V | %6.1f A | loss %4.1f%% | trip %5.1f ms | %s\n",
						r.Timestamp.Format("15:04:05.000"),
						r.Voltage, r.PDPTotalCurrent, r.PacketLossPct, r.RoundTripTimeMS, mode(r))
					if r.Brownout {
						fmt.Println("     " + warnStyle.Render("Brownout"))
					}
				}
			}

			return nil
		},
	}

	cmd.Flags().StringVarP(&logID, "log", "L", "", "Filter by log ID")
	cmd.Flags().StringVarP(&startTime, "start", "s", "", "Start time (RFC3339)")
	cmd.Flags().StringVarP(&endTime, "end", "e", "", "End time (RFC3339)")
	cmd.Flags().IntVarP(&limit, "limit", "l", 100, "Maximum records to return")
	cmd.Flags().IntVar(&offset, "offset", 0, "Records to skip")
	cmd.Flags().BoolVar(&brownoutOnly, "brownout", false, "Only records with the brownout flag")
	cmd.Flags().StringVarP(&outputFormat, "output", "o", "table", "Output format (table, json)")
	return cmd
}

// mode names the robot mode of a record.
func mode(r models.TelemetryRecord) string {
	switch {
	case r.RobotDisabled:
		return "disabled"
	case r.RobotAuto:
		return "auto"
	case r.RobotTeleop:
		return "teleop"
	default:
		return "-"
	}
}

// logsCmd lists stored logs
func logsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Stored log commands",
	}

	var kind string
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List stored logs",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := initDB(cmd); err != nil {
				return err
			}
			defer database.Close()

			logs, err := database.ListLogs(kind)
			if err != nil {
				return fmt.Errorf("error listing logs: %w", err)
			}

			if len(logs) == 0 {
				fmt.Println("No logs found. Use 'dslog ingest' to add some.")
				return nil
			}

			fmt.Printf("%-36s  %-8s  %-20s  %8s  %s\n", "ID", "Kind", "Start", "Records", "Match")
			for _, l := range logs {
				fmt.Printf("%-36s  %-8s  %-20s  %8d  %s\n",
					l.ID, l.Kind, l.StartTime.Format("2006-01-02 15:04:05"), l.RecordCount, l.MatchName)
			}
			return nil
		},
	}
	listCmd.Flags().StringVarP(&kind, "kind", "k", "", "Filter by kind (dslog, dsevents)")

	showCmd := &cobra.Command{
		Use:   "show [log_id]",
		Short: "Show one stored log",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := initDB(cmd); err != nil {
				return err
			}
			defer database.Close()

			l, err := database.GetLog(args[0])
			if err != nil {
				return fmt.Errorf("error getting log: %w", err)
			}

			fmt.Println(headingStyle.Render("Log " + l.ID))
			printField("Path", l.Path)
			printField("Kind", l.Kind)
			printField("Version", l.Version)
			printField("Start", l.StartTime.Format(time.RFC3339Nano))
			printField("Records", l.RecordCount)
			printField("Truncated", l.Truncated)
			if l.MatchName != "" {
				printField("Match", l.MatchName)
			}
			if l.FieldTime != nil {
				printField("Field time", l.FieldTime.Format(time.RFC3339))
			}
			if l.MatchStart != nil {
				printField("Match start", l.MatchStart.Format(time.RFC3339Nano))
			}
			printField("Ingested", l.IngestedAt.Format(time.RFC3339))
			return nil
		},
	}

	cmd.AddCommand(listCmd, showCmd)
	return cmd
}

// statsCmd shows database statistics
func statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show database statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := initDB(cmd); err != nil {
				return err
			}
			defer database.Close()

			stats, err := database.GetStats()
			if err != nil {
				return fmt.Errorf("error getting stats: %w", err)
			}

			fmt.Println(headingStyle.Render("DS Log Monitor Statistics"))
			printField("Logs", stats["total_logs"])
			printField("Match logs", stats["match_logs"])
			printField("Truncated logs", stats["truncated_logs"])
			printField("Telemetry records", stats["total_telemetry_records"])
			printField("Event records", stats["total_event_records"])
			printField("Brownout records", stats["brownout_records"])
			printField("Database", cfg.Database.Path)

			return nil
		},
	}
}

// migrateCmd manages the database schema
func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Database schema commands",
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			// Opening the database applies pending migrations.
			if err := initDB(cmd); err != nil {
				return err
			}
			defer database.Close()
			return printVersion()
		},
	}

	downCmd := &cobra.Command{
		Use:   "down",
		Short: "Roll back the most recent migration",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := initDB(cmd); err != nil {
				return err
			}
			defer database.Close()
			if err := database.MigrateDown(); err != nil {
				return err
			}
			return printVersion()
		},
	}

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Show the schema version",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := initDB(cmd); err != nil {
				return err
			}
			defer database.Close()
			return printVersion()
		},
	}

	cmd.AddCommand(upCmd, downCmd, versionCmd)
	return cmd
}

func printVersion() error {
	version, dirty, err := database.MigrateVersion()
	if err != nil {
		return err
	}
	fmt.Printf("Schema version %d", version)
	if dirty {
		fmt.Print(" " + warnStyle.Render("(dirty)"))
	}
	fmt.Println()
	return nil
}
