package main

import (
	"fmt"
	"math"
	"math/rand/v2"
	"os"
	"path/filepath"
	"time"

	"dslog-monitor/internal/models"
	"dslog-monitor/internal/parser"
	"dslog-monitor/internal/stream"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"
)

// Match phases of a simulated log, in order.
var phases = []struct {
	name     string
	duration time.Duration
}{
	{"disabled", 5 * time.Second},
	{"auto", 15 * time.Second},
	{"disabled", 2 * time.Second},
	{"teleop", 135 * time.Second},
	{"disabled", 3 * time.Second},
}

// generateCmd writes a synthetic .dslog/.dsevents pair for one match
func generateCmd() *cobra.Command {
	var output string
	var matchName string
	var seed uint64
	var duration time.Duration

	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate a sample .dslog/.dsevents pair",
		RunE: func(cmd *cobra.Command, args []string) error {
			rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
			start := time.Now().UTC().Truncate(time.Second)
			base := filepath.Join(output, start.Format("2006_01_02 15_04_05 Mon"))

			recs := simulateMatch(rng, start)
			if n := int(duration / parser.RecordInterval); n > len(recs) {
				// Hold the final disabled state until the requested length.
				padded, err := stream.Take[models.TelemetryRecord](
					stream.Continuous[models.TelemetryRecord](stream.FromSlice(recs), parser.RecordInterval), n)
				if err != nil {
					return err
				}
				recs = padded
			}

			genStart := time.Now()
			if err := writeTelemetryFile(base+".dslog", start, recs); err != nil {
				return err
			}
			fieldTime := start.Add(phases[0].duration - time.Second)
			events := []models.EventRecord{
				{Timestamp: start.Add(200 * time.Millisecond), Message: "Info Joystick 0: (Controller (Xbox One For Windows)) 6 axes, 16 buttons, 1 POVs."},
				{Timestamp: fieldTime, Message: fmt.Sprintf("FMS Connected: %s, Field Time: %s", matchName, fieldTime.Format("06/1/2 15:04:05"))},
			}
			for _, r := range recs {
				if r.Brownout {
					events = append(events, models.EventRecord{Timestamp: r.Timestamp, Message: "Warning <Code> 44004 <Details> Brownout detected"})
					break
				}
			}
			events = append(events, models.EventRecord{Timestamp: recs[len(recs)-1].Timestamp, Message: "Info FMS Disconnect"})
			if err := writeEventFile(base+".dsevents", start, events); err != nil {
				return err
			}

			elapsed := time.Since(genStart)
			fmt.Printf("Generated %d telemetry records and %d events in %v\n", len(recs), len(events), elapsed)
			fmt.Printf("  %s.dslog\n  %s.dsevents\n", base, base)
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", ".", "Output directory")
	cmd.Flags().StringVarP(&matchName, "match", "m", "Qualification - 1:1", "Match name for the FMS event")
	cmd.Flags().Uint64Var(&seed, "seed", 1, "Random seed")
	cmd.Flags().DurationVarP(&duration, "duration", "d", 0, "Minimum log length; the final state is held to reach it")
	return cmd
}

func simulateMatch(rng *rand.Rand, start time.Time) []models.TelemetryRecord {
	var recs []models.TelemetryRecord
	var draw float64
	var stall int // records left in a drivetrain stall
	for _, ph := range phases {
		n := int(ph.duration / parser.RecordInterval)
		for i := 0; i < n; i++ {
			var target float64
			switch ph.name {
			case "auto":
				target = 40 + 80*rng.Float64()
			case "teleop":
				target = 20 + 160*rng.Float64()
				if stall == 0 && rng.IntN(1500) == 0 {
					stall = 25
				}
				if stall > 0 {
					stall--
					target = 540
				}
			default:
				target = 1 + rng.Float64()
			}
			draw += (target - draw) * 0.3

			rec := models.TelemetryRecord{
				Timestamp:       start.Add(time.Duration(len(recs)) * parser.RecordInterval),
				RoundTripTimeMS: 2 + 10*rng.Float64(),
				PacketLossPct:   math.Max(0, rng.NormFloat64()*1.5),
				RioCPUPct:       0.2 + 0.4*rng.Float64(),
				CANUsagePct:     0.3 + 0.4*rng.Float64(),
				WifiSignalDB:    30 + 15*rng.Float64(),
				BandwidthMbps:   0.5 + 2.5*rng.Float64(),
				PDPID:           1,
				PDPTemp:         uint8(30 + rng.IntN(10)),
			}
			setMode(&rec, ph.name)
			spreadCurrent(&rec, draw, rng)
			rec.Voltage = 12.8 - 0.012*rec.PDPTotalCurrent + rng.NormFloat64()*0.05
			rec.Brownout = rec.Voltage < 6.8
			recs = append(recs, rec)
		}
	}
	return recs
}

func setMode(rec *models.TelemetryRecord, phase string) {
	switch phase {
	case "auto":
		rec.RobotAuto, rec.DSAuto = true, true
	case "teleop":
		rec.RobotTeleop, rec.DSTeleop = true, true
	default:
		rec.RobotDisabled, rec.DSDisabled, rec.Watchdog = true, true, true
	}
}

// spreadCurrent splits a total draw over the channels, most of it on the
// drive motors at channels 0-3 and 12-15. Values are rounded to the 1/8 A
// resolution of the log so the total stays equal to the channel sum.
func spreadCurrent(rec *models.TelemetryRecord, total float64, rng *rand.Rand) {
	weights := [models.PDPChannels]float64{4, 4, 4, 4, 0.5, 0.5, 0.5, 0.5, 0.2, 0.2, 0.2, 0.2, 4, 4, 4, 4}
	var sum float64
	for _, w := range weights {
		sum += w
	}
	rec.PDPTotalCurrent = 0
	for ch, w := range weights {
		c := total * w / sum * (0.9 + 0.2*rng.Float64())
		c = math.Min(math.Round(c*8)/8, 1023.0/8)
		rec.PDPCurrents[ch] = c
		rec.PDPTotalCurrent += c
	}
}

func writeTelemetryFile(path string, start time.Time, recs []models.TelemetryRecord) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("error creating output file: %w", err)
	}
	defer func() { err = multierr.Append(err, f.Close()) }()

	w, err := parser.NewTelemetryWriter(f, start)
	if err != nil {
		return err
	}
	for _, r := range recs {
		if err := w.Write(r); err != nil {
			return err
		}
	}
	return nil
}

func writeEventFile(path string, start time.Time, events []models.EventRecord) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("error creating output file: %w", err)
	}
	defer func() { err = multierr.Append(err, f.Close()) }()

	w, err := parser.NewEventWriter(f, start)
	if err != nil {
		return err
	}
	for _, ev := range events {
		if err := w.Write(ev); err != nil {
			return err
		}
	}
	return nil
}
