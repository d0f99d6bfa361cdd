package api

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"time"

	"dslog-monitor/internal/models"
	"dslog-monitor/internal/stream"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
	"gonum.org/v1/gonum/stat"
)

// maxChartPoints caps the number of samples drawn per series.
const maxChartPoints = 2000

// maxSmooth is the widest moving average accepted, 20 s of records.
const maxSmooth = 1000

type chartSeries struct {
	Times   []time.Time
	Voltage []float64
	Current []float64
}

// buildSeries smooths voltage and total current with a moving average of
// smooth records over the part of recs within [start, end], then thins the
// result to at most maxPoints samples.
func buildSeries(recs []models.TelemetryRecord, start, end time.Time, smooth, maxPoints int) (chartSeries, error) {
	var cs chartSeries
	src := stream.Slice[models.TelemetryRecord](stream.FromSlice(recs), start, end)
	windows, err := stream.Window[models.TelemetryRecord](src, smooth, start, end)
	if err != nil {
		return cs, err
	}

	v := make([]float64, smooth)
	c := make([]float64, smooth)
	for {
		win, err := windows.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return cs, err
		}
		for i, r := range win {
			v[i] = r.Voltage
			c[i] = r.PDPTotalCurrent
		}
		cs.Times = append(cs.Times, win[smooth/2].Timestamp)
		cs.Voltage = append(cs.Voltage, stat.Mean(v, nil))
		cs.Current = append(cs.Current, stat.Mean(c, nil))
	}

	if n := len(cs.Times); maxPoints > 0 && n > maxPoints {
		step := (n + maxPoints - 1) / maxPoints
		thin := chartSeries{}
		for i := 0; i < n; i += step {
			thin.Times = append(thin.Times, cs.Times[i])
			thin.Voltage = append(thin.Voltage, cs.Voltage[i])
			thin.Current = append(thin.Current, cs.Current[i])
		}
		cs = thin
	}
	return cs, nil
}

// handleLogChart renders battery voltage and total PDP current for a log as
// an HTML line chart.
func (s *Server) handleLogChart(w http.ResponseWriter, r *http.Request) {
	l := s.lookupLog(w, r)
	if l == nil {
		return
	}

	start, err := timeParam(r, "start_time")
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	end, err := timeParam(r, "end_time")
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	smooth, err := intParam(r, "smooth", 1)
	if err != nil || smooth == 0 || smooth > maxSmooth {
		respondError(w, http.StatusBadRequest, fmt.Sprintf("invalid smooth (1 to %d)", maxSmooth))
		return
	}

	recs, err := s.db.QueryTelemetry(models.TelemetryQuery{LogID: l.ID})
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	cs, err := buildSeries(recs, start, end, smooth, maxChartPoints)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	title := l.MatchName
	if title == "" {
		title = filepath.Base(l.Path)
	}

	xs := make([]string, len(cs.Times))
	voltage := make([]opts.LineData, len(cs.Times))
	current := make([]opts.LineData, len(cs.Times))
	for i := range cs.Times {
		xs[i] = cs.Times[i].Format("15:04:05.000")
		voltage[i] = opts.LineData{Value: cs.Voltage[i]}
		current[i] = opts.LineData{Value: cs.Current[i]}
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "DS Log " + title, Width: "100%", Height: "640px"}),
		charts.WithTitleOpts(opts.Title{Title: title, Subtitle: fmt.Sprintf("start=%s samples=%d smooth=%d", l.StartTime.Format(time.RFC3339), len(xs), smooth)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "slider", Start: 0, End: 100}),
		charts.WithYAxisOpts(opts.YAxis{Name: "Voltage (V)"}),
	)
	line.ExtendYAxis(opts.YAxis{Name: "Current (A)"})
	line.SetXAxis(xs).
		AddSeries("voltage", voltage).
		AddSeries("total current", current, charts.WithLineChartOpts(opts.LineChart{YAxisIndex: 1}))

	var buf bytes.Buffer
	if err := line.Render(&buf); err != nil {
		respondError(w, http.StatusInternalServerError, fmt.Sprintf("failed to render chart: %v", err))
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}
