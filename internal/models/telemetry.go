package models

import "time"

// PDPChannels is the number of current channels on the power distribution panel.
const PDPChannels = 16

// TelemetryRecord is one 20 ms sample of robot, link and power state decoded
// from a .dslog file.
type TelemetryRecord struct {
	Timestamp       time.Time `json:"time"`
	RoundTripTimeMS float64   `json:"round_trip_time_ms"`
	PacketLossPct   float64   `json:"packet_loss_pct"`
	Voltage         float64   `json:"voltage"`
	RioCPUPct       float64   `json:"rio_cpu_pct"`
	CANUsagePct     float64   `json:"can_usage_pct"`
	WifiSignalDB    float64   `json:"wifi_signal_db"`
	BandwidthMbps   float64   `json:"bandwidth_mbps"`

	RobotDisabled bool `json:"robot_disabled"`
	RobotAuto     bool `json:"robot_auto"`
	RobotTeleop   bool `json:"robot_teleop"`
	DSDisabled    bool `json:"ds_disabled"`
	DSAuto        bool `json:"ds_auto"`
	DSTeleop      bool `json:"ds_teleop"`
	Watchdog      bool `json:"watchdog"`
	Brownout      bool `json:"brownout"`

	PDPID       uint8                `json:"pdp_id"`
	PDPCurrents [PDPChannels]float64 `json:"pdp_currents"` // amperes, channel 0 first

	// The scale of these three raw bytes has never been verified against
	// hardware. They are exposed as read from the frame.
	PDPResistance uint8 `json:"pdp_resistance_unverified"`
	PDPVoltage    uint8 `json:"pdp_voltage_unverified"`
	PDPTemp       uint8 `json:"pdp_temp_unverified"`

	PDPTotalCurrent float64 `json:"pdp_total_current"`
}

// Time returns the record's timestamp.
func (r TelemetryRecord) Time() time.Time { return r.Timestamp }

// Shift returns a copy of the record moved d later in time.
func (r TelemetryRecord) Shift(d time.Duration) TelemetryRecord {
	r.Timestamp = r.Timestamp.Add(d)
	return r
}

// EventRecord is one timestamped text message decoded from a .dsevents file.
type EventRecord struct {
	Timestamp time.Time `json:"time"`
	Message   string    `json:"message"`
}

// Time returns the event's timestamp.
func (e EventRecord) Time() time.Time { return e.Timestamp }

// Shift returns a copy of the event moved d later in time.
func (e EventRecord) Shift(d time.Duration) EventRecord {
	e.Timestamp = e.Timestamp.Add(d)
	return e
}

// MatchInfo is extracted from the "FMS Connected: ..." event of a match.
type MatchInfo struct {
	// Info is the full text after "FMS Connected:", field time included.
	Info      string    `json:"info"`
	MatchName string    `json:"match_name"`
	FieldTime time.Time `json:"field_time"`
}

// LogFile describes one ingested log or event file.
type LogFile struct {
	ID          string     `json:"id"`
	Path        string     `json:"path"`
	Kind        string     `json:"kind"` // "dslog" or "dsevents"
	Version     int32      `json:"version"`
	StartTime   time.Time  `json:"start_time"`
	MatchName   string     `json:"match_name,omitempty"`
	FieldTime   *time.Time `json:"field_time,omitempty"`
	MatchStart  *time.Time `json:"match_start,omitempty"`
	RecordCount int64      `json:"record_count"`
	Truncated   bool       `json:"truncated"`
	IngestedAt  time.Time  `json:"ingested_at"`
}

// TelemetryQuery represents query parameters for telemetry searches
type TelemetryQuery struct {
	LogID        string
	StartTime    time.Time
	EndTime      time.Time
	BrownoutOnly bool
	Limit        int
	Offset       int
}

// LogSummary provides aggregated statistics for one telemetry log
type LogSummary struct {
	LogID            string               `json:"log_id,omitempty"`
	TotalRecords     int                  `json:"total_records"`
	Start            time.Time            `json:"start"`
	End              time.Time            `json:"end"`
	Duration         time.Duration        `json:"duration_ns"`
	VoltageMean      float64              `json:"voltage_mean"`
	VoltageStdDev    float64              `json:"voltage_stddev"`
	VoltageMin       float64              `json:"voltage_min"`
	VoltageMax       float64              `json:"voltage_max"`
	TotalCurrentMean float64              `json:"total_current_mean"`
	TotalCurrentPeak float64              `json:"total_current_peak"`
	ChannelPeak      [PDPChannels]float64 `json:"channel_peak"`
	PacketLossMean   float64              `json:"packet_loss_mean"`
	RoundTripMean    float64              `json:"round_trip_mean"`
	BrownoutRecords  int                  `json:"brownout_records"`
	WatchdogRecords  int                  `json:"watchdog_records"`
	AutoDuration     time.Duration        `json:"auto_duration_ns"`
	TeleopDuration   time.Duration        `json:"teleop_duration_ns"`
	DisabledDuration time.Duration        `json:"disabled_duration_ns"`
}

// BrownoutSample is a telemetry record flagged as a brownout, tagged with the
// log it came from.
type BrownoutSample struct {
	LogID        string    `json:"log_id"`
	Timestamp    time.Time `json:"time"`
	Voltage      float64   `json:"voltage"`
	TotalCurrent float64   `json:"pdp_total_current"`
}
