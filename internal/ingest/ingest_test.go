package ingest

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"dslog-monitor/internal/db"
	"dslog-monitor/internal/metrics"
	"dslog-monitor/internal/models"
	"dslog-monitor/internal/parser"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var start = time.Date(2019, time.March, 9, 14, 25, 30, 0, time.UTC)

func writeTelemetry(t *testing.T, path string, n, autoFrom int) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	w, err := parser.NewTelemetryWriter(f, start)
	require.NoError(t, err)
	for i := 0; i < n; i++ {
		rec := models.TelemetryRecord{Voltage: 12.5, DSAuto: i >= autoFrom, Brownout: i == 3}
		require.NoError(t, w.Write(rec))
	}
}

func writeEvents(t *testing.T, path string, events ...models.EventRecord) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	w, err := parser.NewEventWriter(f, start)
	require.NoError(t, err)
	for _, ev := range events {
		require.NoError(t, w.Write(ev))
	}
}

func newIngester(t *testing.T) (*Ingester, *db.Database) {
	t.Helper()
	database, err := db.New(filepath.Join(t.TempDir(), "test.db"), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	return New(database, zerolog.Nop(), true), database
}

func TestFile_TelemetryWithMatch(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "2019_03_09 14_25_30 Sat.dslog")
	evPath := filepath.Join(dir, "2019_03_09 14_25_30 Sat.dsevents")
	writeTelemetry(t, logPath, 20, 10)
	writeEvents(t, evPath,
		models.EventRecord{Timestamp: start.Add(100 * time.Millisecond), Message: "FMS Connected: Match Q5"},
	)

	ing, database := newIngester(t)
	res, err := ing.File(logPath)
	require.NoError(t, err)

	assert.Equal(t, int64(20), res.Inserted)
	assert.Zero(t, res.Invalid)
	assert.Equal(t, parser.KindTelemetry, res.Log.Kind)
	assert.Equal(t, "Match Q5", res.Log.MatchName)
	require.NotNil(t, res.Log.MatchStart)
	assert.True(t, start.Add(200*time.Millisecond).Equal(*res.Log.MatchStart))

	stored, err := database.GetLog(res.Log.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(20), stored.RecordCount)
	assert.Equal(t, "Match Q5", stored.MatchName)

	brownouts, err := database.GetBrownouts(res.Log.ID, 0)
	require.NoError(t, err)
	assert.Len(t, brownouts, 1)

	_, err = ing.File(logPath)
	assert.ErrorIs(t, err, ErrAlreadyIngested)
}

func TestFile_Events(t *testing.T) {
	evPath := filepath.Join(t.TempDir(), "a.dsevents")
	writeEvents(t, evPath,
		models.EventRecord{Timestamp: start, Message: "Info robot code ready"},
		models.EventRecord{Timestamp: start.Add(time.Second), Message: "FMS Connected: Qualification - 12:1, Field Time: 19/3/9 14:27:02"},
	)

	ing, database := newIngester(t)
	res, err := ing.File(evPath)
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.Inserted)
	assert.Equal(t, "Qualification - 12:1", res.Log.MatchName)
	require.NotNil(t, res.Log.FieldTime)
	assert.True(t, time.Date(2019, 3, 9, 14, 27, 2, 0, time.UTC).Equal(*res.Log.FieldTime))

	events, err := database.QueryEvents(res.Log.ID, 0, 0)
	require.NoError(t, err)
	assert.Len(t, events, 2)
}

func appendPartialRecord(t *testing.T, path string) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0)
	require.NoError(t, err)
	_, err = f.Write(make([]byte, 20))
	require.NoError(t, err)
	require.NoError(t, f.Close())
}

func TestFile_TruncatedTelemetry(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "a.dslog")
	writeTelemetry(t, logPath, 3, 100)
	appendPartialRecord(t, logPath)

	ing, _ := newIngester(t)
	res, err := ing.File(logPath)
	require.NoError(t, err)
	assert.True(t, res.Log.Truncated)
	assert.Equal(t, int64(3), res.Inserted)
	assert.Empty(t, res.Log.MatchName)
	assert.Nil(t, res.Log.MatchStart)
}

func TestFile_DecodesTelemetryOnce(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "b.dslog")
	writeTelemetry(t, logPath, 3, 100)
	appendPartialRecord(t, logPath)
	writeEvents(t, filepath.Join(dir, "b.dsevents"),
		models.EventRecord{Timestamp: start, Message: "FMS Connected: Match Q7"},
	)

	truncated := metrics.TruncatedFiles.WithLabelValues("telemetry")
	decoded := metrics.RecordsDecoded.WithLabelValues("telemetry")
	truncatedBefore, decodedBefore := testutil.ToFloat64(truncated), testutil.ToFloat64(decoded)

	ing, _ := newIngester(t)
	res, err := ing.File(logPath)
	require.NoError(t, err)
	assert.Equal(t, "Match Q7", res.Log.MatchName)
	assert.Nil(t, res.Log.MatchStart)

	assert.Equal(t, truncatedBefore+1, testutil.ToFloat64(truncated))
	assert.Equal(t, decodedBefore+3, testutil.ToFloat64(decoded))
}

func TestFile_Errors(t *testing.T) {
	ing, database := newIngester(t)

	_, err := ing.File(filepath.Join(t.TempDir(), "missing.dslog"))
	assert.Error(t, err)

	bad := filepath.Join(t.TempDir(), "bad.dslog")
	require.NoError(t, os.WriteFile(bad, []byte{0, 0, 0, 3}, 0o644))
	_, err = ing.File(bad)
	assert.ErrorIs(t, err, parser.ErrTruncatedHeader)

	logs, err := database.ListLogs("")
	require.NoError(t, err)
	assert.Empty(t, logs)
}
