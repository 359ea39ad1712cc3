package models

// DirectionStatsResponse represents the decision counters of one hook
type DirectionStatsResponse struct {
	Direction      string  `json:"direction"`
	BPS            uint64  `json:"bps"`
	TotalPackets   uint64  `json:"total_packets"`
	PassedPackets  uint64  `json:"passed_packets"`
	DroppedPackets uint64  `json:"dropped_packets"`
	PassedBytes    uint64  `json:"passed_bytes"`
	DroppedBytes   uint64  `json:"dropped_bytes"`
	Faults         uint64  `json:"faults"`
	PassRate       float64 `json:"pass_rate"`
	DropRate       float64 `json:"drop_rate"`

	// TelemetryLost counts decision events dropped before the collector
	TelemetryLost uint64 `json:"telemetry_lost"`
}

// StatisticsResponse represents the statistics of every attached hook
type StatisticsResponse struct {
	Directions []DirectionStatsResponse `json:"directions"`
}
