package main

import (
	"bytes"
	"math/rand/v2"
	"testing"
	"time"

	"dslog-monitor/internal/models"
	"dslog-monitor/internal/parser"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSimulateMatch(t *testing.T) {
	start := time.Date(2019, time.March, 9, 14, 25, 30, 0, time.UTC)
	recs := simulateMatch(rand.New(rand.NewPCG(1, 2)), start)
	require.Len(t, recs, int(160*time.Second/parser.RecordInterval))

	var buf bytes.Buffer
	w, err := parser.NewTelemetryWriter(&buf, start)
	require.NoError(t, err)
	for _, r := range recs {
		require.NoError(t, w.Write(r))
	}

	r, err := parser.NewTelemetryReader(&buf)
	require.NoError(t, err)
	decoded, err := parser.ReadAllTelemetry(r)
	require.NoError(t, err)
	require.Len(t, decoded, len(recs))

	var auto int
	for i, d := range decoded {
		require.Empty(t, parser.ValidateTelemetry(&d), "record %d", i)
		assert.InDelta(t, recs[i].PDPTotalCurrent, d.PDPTotalCurrent, 1e-9, "record %d", i)
		assert.Equal(t, recs[i].RobotAuto, d.RobotAuto)
		if d.DSAuto {
			auto++
		}
	}
	assert.Equal(t, int(15*time.Second/parser.RecordInterval), auto)
	assert.True(t, decoded[int(5*time.Second/parser.RecordInterval)].DSAuto)
}

func TestSetMode(t *testing.T) {
	var rec models.TelemetryRecord
	setMode(&rec, "disabled")
	assert.True(t, rec.RobotDisabled)
	assert.True(t, rec.DSDisabled)
	assert.False(t, rec.RobotAuto)
}
