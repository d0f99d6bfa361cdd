package db

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"dslog-monitor/internal/models"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
)

// Database wraps the SQLite connection
type Database struct {
	conn *sql.DB
	log  zerolog.Logger
}

// New opens the database at dbPath and applies any pending migrations.
func New(dbPath string, log zerolog.Logger) (*Database, error) {
	// Enable WAL mode and other optimizations via connection string
	connStr := fmt.Sprintf("%s?_journal_mode=WAL&_synchronous=NORMAL&_cache_size=10000&_foreign_keys=on", dbPath)

	conn, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite works best with a single writer
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)
	conn.SetConnMaxLifetime(time.Hour)

	db := &Database{conn: conn, log: log}

	if err := db.MigrateUp(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	return db, nil
}

// Close closes the database connection
func (db *Database) Close() error {
	return db.conn.Close()
}

// InsertLog registers an ingested file. A new id is assigned when l.ID is
// empty.
func (db *Database) InsertLog(l *models.LogFile) error {
	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	if l.IngestedAt.IsZero() {
		l.IngestedAt = time.Now().UTC()
	}
	query := `
		INSERT INTO logs
		(id, path, kind, version, start_time, match_name, field_time, match_start,
		 record_count, truncated, ingested_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := db.conn.Exec(query,
		l.ID, l.Path, l.Kind, l.Version, l.StartTime.UTC(), nullString(l.MatchName),
		nullTime(l.FieldTime), nullTime(l.MatchStart), l.RecordCount, l.Truncated, l.IngestedAt.UTC(),
	)
	return err
}

// DeleteLog removes a log and, through the foreign keys, its records.
func (db *Database) DeleteLog(id string) error {
	_, err := db.conn.Exec(`DELETE FROM logs WHERE id = ?`, id)
	return err
}

const logColumns = `id, path, kind, version, start_time, match_name, field_time, match_start,
	record_count, truncated, ingested_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanLog(s rowScanner) (*models.LogFile, error) {
	var l models.LogFile
	var matchName sql.NullString
	var fieldTime, matchStart sql.NullTime
	err := s.Scan(&l.ID, &l.Path, &l.Kind, &l.Version, &l.StartTime, &matchName,
		&fieldTime, &matchStart, &l.RecordCount, &l.Truncated, &l.IngestedAt)
	if err != nil {
		return nil, err
	}
	l.MatchName = matchName.String
	if fieldTime.Valid {
		l.FieldTime = &fieldTime.Time
	}
	if matchStart.Valid {
		l.MatchStart = &matchStart.Time
	}
	return &l, nil
}

// GetLog retrieves a log by ID. It returns sql.ErrNoRows when there is none.
func (db *Database) GetLog(id string) (*models.LogFile, error) {
	return scanLog(db.conn.QueryRow(`SELECT `+logColumns+` FROM logs WHERE id = ?`, id))
}

// GetLogByPath retrieves a log by the path it was ingested from.
func (db *Database) GetLogByPath(path string) (*models.LogFile, error) {
	return scanLog(db.conn.QueryRow(`SELECT `+logColumns+` FROM logs WHERE path = ?`, path))
}

// ListLogs returns all logs of kind, or every log when kind is empty, oldest
// first.
func (db *Database) ListLogs(kind string) ([]models.LogFile, error) {
	query := `SELECT ` + logColumns + ` FROM logs`
	var args []interface{}
	if kind != "" {
		query += " WHERE kind = ?"
		args = append(args, kind)
	}
	query += " ORDER BY start_time, path"

	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []models.LogFile
	for rows.Next() {
		l, err := scanLog(rows)
		if err != nil {
			return nil, err
		}
		logs = append(logs, *l)
	}
	return logs, rows.Err()
}

var pdpColumns = func() string {
	cols := make([]string, models.PDPChannels)
	for i := range cols {
		cols[i] = fmt.Sprintf("pdp_%d", i)
	}
	return strings.Join(cols, ", ")
}()

var telemetryColumns = `timestamp, round_trip_ms, packet_loss_pct, voltage, rio_cpu_pct,
	can_usage_pct, wifi_db, bandwidth_mbps,
	robot_disabled, robot_auto, robot_teleop, ds_disabled, ds_auto, ds_teleop, watchdog, brownout,
	pdp_id, ` + pdpColumns + `, pdp_total_current,
	pdp_resistance_unverified, pdp_voltage_unverified, pdp_temp_unverified`

// telemetryFields is the number of columns in telemetryColumns.
const telemetryFields = 17 + models.PDPChannels + 4

func telemetryArgs(t *models.TelemetryRecord) []interface{} {
	args := make([]interface{}, 0, telemetryFields)
	args = append(args,
		t.Timestamp.UTC(), t.RoundTripTimeMS, t.PacketLossPct, t.Voltage, t.RioCPUPct,
		t.CANUsagePct, t.WifiSignalDB, t.BandwidthMbps,
		t.RobotDisabled, t.RobotAuto, t.RobotTeleop, t.DSDisabled, t.DSAuto, t.DSTeleop, t.Watchdog, t.Brownout,
		t.PDPID,
	)
	for _, c := range t.PDPCurrents {
		args = append(args, c)
	}
	return append(args, t.PDPTotalCurrent, t.PDPResistance, t.PDPVoltage, t.PDPTemp)
}

func scanTelemetry(s rowScanner) (models.TelemetryRecord, error) {
	var t models.TelemetryRecord
	dest := []interface{}{
		&t.Timestamp, &t.RoundTripTimeMS, &t.PacketLossPct, &t.Voltage, &t.RioCPUPct,
		&t.CANUsagePct, &t.WifiSignalDB, &t.BandwidthMbps,
		&t.RobotDisabled, &t.RobotAuto, &t.RobotTeleop, &t.DSDisabled, &t.DSAuto, &t.DSTeleop, &t.Watchdog, &t.Brownout,
		&t.PDPID,
	}
	for i := range t.PDPCurrents {
		dest = append(dest, &t.PDPCurrents[i])
	}
	dest = append(dest, &t.PDPTotalCurrent, &t.PDPResistance, &t.PDPVoltage, &t.PDPTemp)
	err := s.Scan(dest...)
	return t, err
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

// InsertTelemetryBatch inserts the records of one log in a single
// transaction. Records are numbered from 0 in slice order.
func (db *Database) InsertTelemetryBatch(logID string, records []models.TelemetryRecord) (int64, error) {
	tx, err := db.conn.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`INSERT INTO telemetry (log_id, seq, ` + telemetryColumns + `)
		VALUES (?, ?, ` + placeholders(telemetryFields) + `)`)
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	var count int64
	for i := range records {
		args := append([]interface{}{logID, i}, telemetryArgs(&records[i])...)
		if _, err := stmt.Exec(args...); err != nil {
			return count, err
		}
		count++
	}

	return count, tx.Commit()
}

// InsertEventBatch inserts the events of one log in a single transaction.
func (db *Database) InsertEventBatch(logID string, events []models.EventRecord) (int64, error) {
	tx, err := db.conn.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`INSERT INTO events (log_id, seq, timestamp, message) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	var count int64
	for i, ev := range events {
		if _, err := stmt.Exec(logID, i, ev.Timestamp.UTC(), ev.Message); err != nil {
			return count, err
		}
		count++
	}

	return count, tx.Commit()
}

// QueryTelemetry retrieves telemetry in record order based on query parameters
func (db *Database) QueryTelemetry(q models.TelemetryQuery) ([]models.TelemetryRecord, error) {
	var conditions []string
	var args []interface{}

	baseQuery := `SELECT ` + telemetryColumns + ` FROM telemetry`

	if q.LogID != "" {
		conditions = append(conditions, "log_id = ?")
		args = append(args, q.LogID)
	}
	if !q.StartTime.IsZero() {
		conditions = append(conditions, "timestamp >= ?")
		args = append(args, q.StartTime.UTC())
	}
	if !q.EndTime.IsZero() {
		conditions = append(conditions, "timestamp <= ?")
		args = append(args, q.EndTime.UTC())
	}
	if q.BrownoutOnly {
		conditions = append(conditions, "brownout = 1")
	}

	if len(conditions) > 0 {
		baseQuery += " WHERE " + strings.Join(conditions, " AND ")
	}

	baseQuery += " ORDER BY log_id, seq"

	if q.Limit > 0 {
		baseQuery += fmt.Sprintf(" LIMIT %d", q.Limit)
		if q.Offset > 0 {
			baseQuery += fmt.Sprintf(" OFFSET %d", q.Offset)
		}
	}

	rows, err := db.conn.Query(baseQuery, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []models.TelemetryRecord
	for rows.Next() {
		t, err := scanTelemetry(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, t)
	}

	return results, rows.Err()
}

// QueryEvents returns the events of a log in file order.
func (db *Database) QueryEvents(logID string, limit, offset int) ([]models.EventRecord, error) {
	query := `SELECT timestamp, message FROM events WHERE log_id = ? ORDER BY seq`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
		if offset > 0 {
			query += fmt.Sprintf(" OFFSET %d", offset)
		}
	}

	rows, err := db.conn.Query(query, logID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []models.EventRecord
	for rows.Next() {
		var ev models.EventRecord
		if err := rows.Scan(&ev.Timestamp, &ev.Message); err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// GetBrownouts returns brownout records, newest first, optionally limited to
// one log.
func (db *Database) GetBrownouts(logID string, limit int) ([]models.BrownoutSample, error) {
	query := `
		SELECT log_id, timestamp, voltage, pdp_total_current
		FROM telemetry
		WHERE brownout = 1
	`

	var args []interface{}
	if logID != "" {
		query += " AND log_id = ?"
		args = append(args, logID)
	}

	query += " ORDER BY timestamp DESC"

	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []models.BrownoutSample
	for rows.Next() {
		var b models.BrownoutSample
		if err := rows.Scan(&b.LogID, &b.Timestamp, &b.Voltage, &b.TotalCurrent); err != nil {
			return nil, err
		}
		results = append(results, b)
	}

	return results, rows.Err()
}

// GetStats returns database statistics
func (db *Database) GetStats() (map[string]interface{}, error) {
	counts := []struct {
		key   string
		query string
	}{
		{"total_logs", "SELECT COUNT(*) FROM logs"},
		{"match_logs", "SELECT COUNT(*) FROM logs WHERE match_name IS NOT NULL AND match_name != ''"},
		{"truncated_logs", "SELECT COUNT(*) FROM logs WHERE truncated = 1"},
		{"total_telemetry_records", "SELECT COUNT(*) FROM telemetry"},
		{"total_event_records", "SELECT COUNT(*) FROM events"},
		{"brownout_records", "SELECT COUNT(*) FROM telemetry WHERE brownout = 1"},
	}

	stats := make(map[string]interface{}, len(counts))
	for _, c := range counts {
		var n int64
		if err := db.conn.QueryRow(c.query).Scan(&n); err != nil {
			return nil, fmt.Errorf("%s: %w", c.key, err)
		}
		stats[c.key] = n
	}
	return stats, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}
