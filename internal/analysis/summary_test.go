package analysis

import (
	"math"
	"testing"
	"time"

	"dslog-monitor/internal/models"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
)

var start = time.Date(2019, time.March, 9, 14, 25, 30, 0, time.UTC)

func record(i int, voltage float64) models.TelemetryRecord {
	return models.TelemetryRecord{
		Timestamp:       start.Add(time.Duration(i) * sampleInterval),
		Voltage:         voltage,
		PacketLossPct:   float64(i),
		RoundTripTimeMS: 4,
	}
}

func TestSummarize(t *testing.T) {
	recs := []models.TelemetryRecord{
		record(0, 12), record(1, 11), record(2, 7), record(3, 10),
	}
	recs[0].RobotDisabled = true
	recs[1].RobotAuto = true
	recs[2].RobotAuto = true
	recs[2].Brownout = true
	recs[3].RobotTeleop = true
	recs[3].Watchdog = true
	recs[1].PDPCurrents[0] = 30
	recs[1].PDPTotalCurrent = 30
	recs[2].PDPCurrents[0] = 20
	recs[2].PDPCurrents[15] = 50
	recs[2].PDPTotalCurrent = 70

	s := Summarize(recs)

	assert.Equal(t, 4, s.TotalRecords)
	assert.Equal(t, start, s.Start)
	assert.Equal(t, start.Add(60*time.Millisecond), s.End)
	assert.Equal(t, 80*time.Millisecond, s.Duration)

	assert.InDelta(t, 10.0, s.VoltageMean, 1e-9)
	assert.InDelta(t, math.Sqrt(14.0/3), s.VoltageStdDev, 1e-9)
	assert.Equal(t, 7.0, s.VoltageMin)
	assert.Equal(t, 12.0, s.VoltageMax)

	assert.InDelta(t, 25.0, s.TotalCurrentMean, 1e-9)
	assert.Equal(t, 70.0, s.TotalCurrentPeak)
	assert.Equal(t, 30.0, s.ChannelPeak[0])
	assert.Equal(t, 50.0, s.ChannelPeak[15])
	assert.Zero(t, s.ChannelPeak[7])

	assert.InDelta(t, 1.5, s.PacketLossMean, 1e-9)
	assert.InDelta(t, 4.0, s.RoundTripMean, 1e-9)

	assert.Equal(t, 1, s.BrownoutRecords)
	assert.Equal(t, 1, s.WatchdogRecords)
	assert.Equal(t, 40*time.Millisecond, s.AutoDuration)
	assert.Equal(t, 20*time.Millisecond, s.TeleopDuration)
	assert.Equal(t, 20*time.Millisecond, s.DisabledDuration)
}

func TestSummarize_Empty(t *testing.T) {
	if diff := cmp.Diff(models.LogSummary{}, Summarize(nil)); diff != "" {
		t.Errorf("summary mismatch (-want +got):\n%s", diff)
	}
}

func TestSummarize_SingleRecord(t *testing.T) {
	s := Summarize([]models.TelemetryRecord{record(0, 12.5)})
	assert.Equal(t, 1, s.TotalRecords)
	assert.Equal(t, 12.5, s.VoltageMean)
	assert.Zero(t, s.VoltageStdDev)
	assert.Equal(t, sampleInterval, s.Duration)
}

func TestBrownoutSpans(t *testing.T) {
	recs := make([]models.TelemetryRecord, 8)
	for i := range recs {
		recs[i] = record(i, 12)
	}
	for _, i := range []int{1, 2, 3, 6} {
		recs[i].Brownout = true
	}

	want := [][2]time.Time{
		{recs[1].Timestamp, recs[3].Timestamp},
		{recs[6].Timestamp, recs[6].Timestamp},
	}
	if diff := cmp.Diff(want, BrownoutSpans(recs)); diff != "" {
		t.Errorf("spans mismatch (-want +got):\n%s", diff)
	}
	assert.Empty(t, BrownoutSpans(recs[4:6]))
}
