package models

// HealthResponse represents the health check response
type HealthResponse struct {
	Status  string `json:"status"` // "ok", "degraded", "down"
	Message string `json:"message"`
}

// StatusResponse represents detailed system status
type StatusResponse struct {
	Status     string                   `json:"status"` // "ok", "degraded", "down"
	Version    string                   `json:"version"`
	CgroupPath string                   `json:"cgroup_path"`
	DataPlane  DataPlaneStatus          `json:"data_plane"`
	API        APIStatus                `json:"api"`
	Hooks      []DirectionStatsResponse `json:"hooks"`
	Uptime     int64                    `json:"uptime_seconds"`
}

// DataPlaneStatus represents data plane status
type DataPlaneStatus struct {
	Status  string `json:"status"` // "running", "idle", "faulted"
	Message string `json:"message"`
}

// APIStatus represents API server status
type APIStatus struct {
	Status  string `json:"status"` // "running", "stopped", "error"
	Message string `json:"message"`
}
