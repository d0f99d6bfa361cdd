package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"dslog-monitor/internal/db"
	"dslog-monitor/internal/models"
	"dslog-monitor/internal/parser"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var start = time.Date(2019, time.March, 9, 14, 25, 30, 0, time.UTC)

type testResponse struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
	Meta    *meta           `json:"meta"`
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	database, err := db.New(filepath.Join(t.TempDir(), "test.db"), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	return NewServer(database, zerolog.Nop())
}

// writeLogPair writes a .dslog with n records and a matching .dsevents.
func writeLogPair(t *testing.T, n int) string {
	t.Helper()
	dir := t.TempDir()
	logPath := filepath.Join(dir, "match.dslog")

	f, err := os.Create(logPath)
	require.NoError(t, err)
	w, err := parser.NewTelemetryWriter(f, start)
	require.NoError(t, err)
	for i := 0; i < n; i++ {
		rec := models.TelemetryRecord{
			Voltage:  12 - float64(i%4)*0.25,
			DSAuto:   i >= 5,
			Brownout: i == 7,
		}
		rec.PDPCurrents[0] = float64(i)
		rec.PDPTotalCurrent = float64(i)
		require.NoError(t, w.Write(rec))
	}
	require.NoError(t, f.Close())

	f, err = os.Create(filepath.Join(dir, "match.dsevents"))
	require.NoError(t, err)
	ew, err := parser.NewEventWriter(f, start)
	require.NoError(t, err)
	require.NoError(t, ew.Write(models.EventRecord{Timestamp: start, Message: "FMS Connected: Match Q5"}))
	require.NoError(t, ew.Write(models.EventRecord{Timestamp: start.Add(time.Second), Message: "Info match over"}))
	require.NoError(t, f.Close())
	return logPath
}

func do(t *testing.T, s *Server, method, target, body string) (*httptest.ResponseRecorder, testResponse) {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	var resp testResponse
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp), rec.Body.String())
	}
	return rec, resp
}

func ingestPair(t *testing.T, s *Server, n int) (telemetryID, eventsID string) {
	t.Helper()
	logPath := writeLogPair(t, n)

	rec, resp := do(t, s, "POST", "/api/v1/logs", `{"path": "`+logPath+`"}`)
	require.Equal(t, http.StatusCreated, rec.Code, resp.Error)
	var l models.LogFile
	require.NoError(t, json.Unmarshal(resp.Data, &l))
	telemetryID = l.ID

	evPath := strings.TrimSuffix(logPath, ".dslog") + ".dsevents"
	rec, resp = do(t, s, "POST", "/api/v1/logs", `{"path": "`+evPath+`"}`)
	require.Equal(t, http.StatusCreated, rec.Code, resp.Error)
	require.NoError(t, json.Unmarshal(resp.Data, &l))
	return telemetryID, l.ID
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	rec, resp := do(t, s, "GET", "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, resp.Success)
	assert.JSONEq(t, `{"status":"healthy"}`, string(resp.Data))
}

func TestIngestAndGetLog(t *testing.T) {
	s := newTestServer(t)
	id, _ := ingestPair(t, s, 20)

	rec, resp := do(t, s, "GET", "/api/v1/logs/"+id, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var l models.LogFile
	require.NoError(t, json.Unmarshal(resp.Data, &l))
	assert.Equal(t, "dslog", l.Kind)
	assert.Equal(t, "Match Q5", l.MatchName)
	assert.Equal(t, int64(20), l.RecordCount)
	require.NotNil(t, l.MatchStart)
	assert.True(t, start.Add(100*time.Millisecond).Equal(*l.MatchStart))

	rec, resp = do(t, s, "GET", "/api/v1/logs", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 2, resp.Meta.Total)

	rec, resp = do(t, s, "GET", "/api/v1/logs?kind=dsevents", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, resp.Meta.Total)
}

func TestIngestErrors(t *testing.T) {
	s := newTestServer(t)
	logPath := writeLogPair(t, 3)

	rec, _ := do(t, s, "POST", "/api/v1/logs", `{"path": "`+logPath+`"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec, resp := do(t, s, "POST", "/api/v1/logs", `{"path": "`+logPath+`"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.False(t, resp.Success)

	rec, _ = do(t, s, "POST", "/api/v1/logs", `not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = do(t, s, "POST", "/api/v1/logs", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = do(t, s, "POST", "/api/v1/logs", `{"path": "/does/not/exist.dslog"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestLogNotFound(t *testing.T) {
	s := newTestServer(t)
	for _, path := range []string{"", "/telemetry", "/events", "/summary", "/chart"} {
		rec, resp := do(t, s, "GET", "/api/v1/logs/nope"+path, "")
		assert.Equal(t, http.StatusNotFound, rec.Code, path)
		assert.Equal(t, "log not found", resp.Error)
	}
}

func TestLogTelemetry(t *testing.T) {
	s := newTestServer(t)
	id, _ := ingestPair(t, s, 20)

	rec, resp := do(t, s, "GET", "/api/v1/logs/"+id+"/telemetry?limit=5&offset=2", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var recs []models.TelemetryRecord
	require.NoError(t, json.Unmarshal(resp.Data, &recs))
	require.Len(t, recs, 5)
	assert.True(t, start.Add(40*time.Millisecond).Equal(recs[0].Timestamp))
	assert.Equal(t, 5, resp.Meta.Limit)
	assert.Equal(t, 2, resp.Meta.Offset)

	q := "?start_time=" + start.Add(100*time.Millisecond).Format(time.RFC3339Nano) +
		"&end_time=" + start.Add(140*time.Millisecond).Format(time.RFC3339Nano)
	rec, resp = do(t, s, "GET", "/api/v1/logs/"+id+"/telemetry"+q, "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(resp.Data, &recs))
	assert.Len(t, recs, 3)

	rec, resp = do(t, s, "GET", "/api/v1/logs/"+id+"/telemetry?brownout=true", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(resp.Data, &recs))
	assert.Len(t, recs, 1)

	rec, _ = do(t, s, "GET", "/api/v1/logs/"+id+"/telemetry?start_time=yesterday", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = do(t, s, "GET", "/api/v1/logs/"+id+"/telemetry?limit=-1", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLogEvents(t *testing.T) {
	s := newTestServer(t)
	_, evID := ingestPair(t, s, 3)

	rec, resp := do(t, s, "GET", "/api/v1/logs/"+evID+"/events", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var events []models.EventRecord
	require.NoError(t, json.Unmarshal(resp.Data, &events))
	require.Len(t, events, 2)
	assert.Equal(t, "FMS Connected: Match Q5", events[0].Message)
}

func TestLogSummary(t *testing.T) {
	s := newTestServer(t)
	id, _ := ingestPair(t, s, 8)

	rec, resp := do(t, s, "GET", "/api/v1/logs/"+id+"/summary", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var summary models.LogSummary
	require.NoError(t, json.Unmarshal(resp.Data, &summary))
	assert.Equal(t, id, summary.LogID)
	assert.Equal(t, 8, summary.TotalRecords)
	assert.Equal(t, 1, summary.BrownoutRecords)
	assert.Equal(t, 7.0, summary.TotalCurrentPeak)
	assert.Equal(t, 11.25, summary.VoltageMin)
}

func TestLogChart(t *testing.T) {
	s := newTestServer(t)
	id, _ := ingestPair(t, s, 30)

	rec, _ := do(t, s, "GET", "/api/v1/logs/"+id+"/chart?smooth=5", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/html; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), "total current")
	assert.Contains(t, rec.Body.String(), "Match Q5")

	for _, smooth := range []string{"0", "-1", "1001", "100000000", "x"} {
		rec, _ = do(t, s, "GET", "/api/v1/logs/"+id+"/chart?smooth="+smooth, "")
		assert.Equal(t, http.StatusBadRequest, rec.Code, "smooth=%s", smooth)
	}

	rec, _ = do(t, s, "GET", "/api/v1/logs/"+id+"/chart?smooth=1000", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestBrownoutsAndStats(t *testing.T) {
	s := newTestServer(t)
	id, _ := ingestPair(t, s, 10)

	rec, resp := do(t, s, "GET", "/api/v1/brownouts?log_id="+id, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var brownouts []models.BrownoutSample
	require.NoError(t, json.Unmarshal(resp.Data, &brownouts))
	require.Len(t, brownouts, 1)
	assert.True(t, start.Add(140*time.Millisecond).Equal(brownouts[0].Timestamp))

	rec, resp = do(t, s, "GET", "/api/v1/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var stats map[string]int64
	require.NoError(t, json.Unmarshal(resp.Data, &stats))
	assert.Equal(t, int64(2), stats["total_logs"])
	assert.Equal(t, int64(10), stats["total_telemetry_records"])
	assert.Equal(t, int64(2), stats["match_logs"])
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t)
	do(t, s, "GET", "/health", "")

	rec, _ := do(t, s, "GET", "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `dslog_http_requests_total{code="200",route="/health"}`)
}

func TestBuildSeries(t *testing.T) {
	recs := make([]models.TelemetryRecord, 10)
	for i := range recs {
		recs[i] = models.TelemetryRecord{
			Timestamp:       start.Add(time.Duration(i) * 20 * time.Millisecond),
			Voltage:         float64(i),
			PDPTotalCurrent: float64(2 * i),
		}
	}

	cs, err := buildSeries(recs, time.Time{}, time.Time{}, 3, 0)
	require.NoError(t, err)
	require.Len(t, cs.Times, 8)
	assert.Equal(t, recs[1].Timestamp, cs.Times[0])
	assert.InDelta(t, 1.0, cs.Voltage[0], 1e-9)
	assert.InDelta(t, 2.0, cs.Current[0], 1e-9)
	assert.InDelta(t, 8.0, cs.Voltage[7], 1e-9)

	cs, err = buildSeries(recs, recs[2].Timestamp, recs[5].Timestamp, 1, 0)
	require.NoError(t, err)
	assert.Equal(t, []float64{2, 3, 4, 5}, cs.Voltage)

	cs, err = buildSeries(recs, time.Time{}, time.Time{}, 1, 4)
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 3, 6, 9}, cs.Voltage)

	_, err = buildSeries(recs, time.Time{}, time.Time{}, 0, 0)
	assert.Error(t, err)
}
