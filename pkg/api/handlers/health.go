package handlers

import (
	"net/http"
	"time"

	"github.com/ebpf-bandwidth/agent/pkg/api/models"
	"github.com/ebpf-bandwidth/agent/pkg/dataplane"
	"github.com/gin-gonic/gin"
)

// Version is reported by the status endpoint, set with -ldflags at build time
var Version = "0.1.0"

var startTime = time.Now()

// HealthHandler handles health check requests
type HealthHandler struct {
	dataPlane  dataplane.DataPlaneInterface
	cgroupPath string
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(dp dataplane.DataPlaneInterface, cgroupPath string) *HealthHandler {
	return &HealthHandler{
		dataPlane:  dp,
		cgroupPath: cgroupPath,
	}
}

// GetHealth handles GET /api/v1/health
// Simple health check endpoint
func (h *HealthHandler) GetHealth(c *gin.Context) {
	response := models.HealthResponse{
		Status:  "ok",
		Message: "API server is healthy",
	}

	c.JSON(http.StatusOK, response)
}

// GetStatus handles GET /api/v1/status
// Detailed status endpoint with per-hook counters
func (h *HealthHandler) GetStatus(c *gin.Context) {
	hooks := directionStats(h.dataPlane)

	var total, faults uint64
	for _, s := range hooks {
		total += s.TotalPackets
		faults += s.Faults
	}

	dataPlaneStatus := models.DataPlaneStatus{
		Status:  "running",
		Message: "Data plane is operational",
	}
	overallStatus := "ok"

	switch {
	case len(hooks) == 0:
		dataPlaneStatus.Status = "stopped"
		dataPlaneStatus.Message = "No hook is attached"
		overallStatus = "down"
	case faults > 0:
		dataPlaneStatus.Status = "faulted"
		dataPlaneStatus.Message = "Rate state store reported faults"
		overallStatus = "degraded"
	case total == 0:
		dataPlaneStatus.Status = "idle"
		dataPlaneStatus.Message = "Data plane is idle (no packets evaluated)"
	}

	response := models.StatusResponse{
		Status:     overallStatus,
		Version:    Version,
		CgroupPath: h.cgroupPath,
		DataPlane:  dataPlaneStatus,
		API: models.APIStatus{
			Status:  "running",
			Message: "API server is operational",
		},
		Hooks:  hooks,
		Uptime: int64(time.Since(startTime).Seconds()),
	}

	c.JSON(http.StatusOK, response)
}
