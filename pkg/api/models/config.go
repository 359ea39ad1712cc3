package models

// ConfigResponse represents the current agent configuration
type ConfigResponse struct {
	CgroupPath    string `json:"cgroup_path"`
	Direction     string `json:"direction"`
	EgressBPS     uint64 `json:"egress_bps"`
	IngressBPS    uint64 `json:"ingress_bps"`
	Capacity      int    `json:"capacity"`
	LogLevel      string `json:"log_level"`
	StatsInterval string `json:"stats_interval"`
	JournalPath   string `json:"journal_path,omitempty"`
	APIHost       string `json:"api_host"`
	APIPort       int    `json:"api_port"`
}
