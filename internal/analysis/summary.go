// Package analysis computes per-log statistics over decoded telemetry.
package analysis

import (
	"time"

	"dslog-monitor/internal/models"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// sampleInterval is the time one telemetry record stands for.
const sampleInterval = 20 * time.Millisecond

// Summarize aggregates a run of telemetry records. Records are assumed to be
// in time order. An empty input yields a zero summary.
func Summarize(recs []models.TelemetryRecord) models.LogSummary {
	var s models.LogSummary
	n := len(recs)
	if n == 0 {
		return s
	}

	s.TotalRecords = n
	s.Start = recs[0].Timestamp
	s.End = recs[n-1].Timestamp
	s.Duration = s.End.Sub(s.Start) + sampleInterval

	voltage := make([]float64, n)
	current := make([]float64, n)
	loss := make([]float64, n)
	rtt := make([]float64, n)

	var auto, teleop, disabled int
	for i, r := range recs {
		voltage[i] = r.Voltage
		current[i] = r.PDPTotalCurrent
		loss[i] = r.PacketLossPct
		rtt[i] = r.RoundTripTimeMS

		for ch, c := range r.PDPCurrents {
			if c > s.ChannelPeak[ch] {
				s.ChannelPeak[ch] = c
			}
		}
		if r.Brownout {
			s.BrownoutRecords++
		}
		if r.Watchdog {
			s.WatchdogRecords++
		}
		switch {
		case r.RobotDisabled:
			disabled++
		case r.RobotAuto:
			auto++
		case r.RobotTeleop:
			teleop++
		}
	}

	s.VoltageMean, s.VoltageStdDev = stat.MeanStdDev(voltage, nil)
	if n == 1 {
		// MeanStdDev is NaN for a single sample.
		s.VoltageStdDev = 0
	}
	s.VoltageMin = floats.Min(voltage)
	s.VoltageMax = floats.Max(voltage)
	s.TotalCurrentMean = stat.Mean(current, nil)
	s.TotalCurrentPeak = floats.Max(current)
	s.PacketLossMean = stat.Mean(loss, nil)
	s.RoundTripMean = stat.Mean(rtt, nil)

	s.AutoDuration = time.Duration(auto) * sampleInterval
	s.TeleopDuration = time.Duration(teleop) * sampleInterval
	s.DisabledDuration = time.Duration(disabled) * sampleInterval
	return s
}

// BrownoutSpans groups consecutive brownout records into [start, end] spans.
func BrownoutSpans(recs []models.TelemetryRecord) [][2]time.Time {
	var spans [][2]time.Time
	open := false
	for _, r := range recs {
		switch {
		case r.Brownout && !open:
			spans = append(spans, [2]time.Time{r.Timestamp, r.Timestamp})
			open = true
		case r.Brownout:
			spans[len(spans)-1][1] = r.Timestamp
		default:
			open = false
		}
	}
	return spans
}
