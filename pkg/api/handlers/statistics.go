package handlers

import (
	"net/http"

	"github.com/ebpf-bandwidth/agent/pkg/api/models"
	"github.com/ebpf-bandwidth/agent/pkg/dataplane"
	"github.com/ebpf-bandwidth/agent/pkg/ratelimit"
	"github.com/gin-gonic/gin"
)

// StatisticsHandler handles statistics requests
type StatisticsHandler struct {
	dataPlane dataplane.DataPlaneInterface
}

// NewStatisticsHandler creates a new statistics handler
func NewStatisticsHandler(dp dataplane.DataPlaneInterface) *StatisticsHandler {
	return &StatisticsHandler{
		dataPlane: dp,
	}
}

// GetAllStats handles GET /api/v1/stats
func (h *StatisticsHandler) GetAllStats(c *gin.Context) {
	response := models.StatisticsResponse{
		Directions: directionStats(h.dataPlane),
	}

	c.JSON(http.StatusOK, response)
}

// GetDirectionStats handles GET /api/v1/stats/:direction
func (h *StatisticsHandler) GetDirectionStats(c *gin.Context) {
	dir, ok := attachedDirection(c, h.dataPlane)
	if !ok {
		return
	}

	c.JSON(http.StatusOK, toDirectionStats(h.dataPlane, dir))
}

func directionStats(dp dataplane.DataPlaneInterface) []models.DirectionStatsResponse {
	dirs := dp.Directions()
	out := make([]models.DirectionStatsResponse, 0, len(dirs))
	for _, dir := range dirs {
		out = append(out, toDirectionStats(dp, dir))
	}
	return out
}

func toDirectionStats(dp dataplane.DataPlaneInterface, dir ratelimit.Direction) models.DirectionStatsResponse {
	stats := dp.GetStatistics(dir)

	// Calculate rates
	var passRate, dropRate float64
	if stats.TotalPackets > 0 {
		passRate = float64(stats.PassedPackets) / float64(stats.TotalPackets) * 100
		dropRate = float64(stats.DroppedPackets) / float64(stats.TotalPackets) * 100
	}

	return models.DirectionStatsResponse{
		Direction:      dir.String(),
		BPS:            dp.BPS(dir),
		TotalPackets:   stats.TotalPackets,
		PassedPackets:  stats.PassedPackets,
		DroppedPackets: stats.DroppedPackets,
		PassedBytes:    stats.PassedBytes,
		DroppedBytes:   stats.DroppedBytes,
		Faults:         stats.Faults,
		PassRate:       passRate,
		DropRate:       dropRate,
		TelemetryLost:  dp.Lost(dir),
	}
}

// attachedDirection parses the :direction parameter and writes an error
// response when it does not name an attached hook
func attachedDirection(c *gin.Context, dp dataplane.DataPlaneInterface) (ratelimit.Direction, bool) {
	dir, err := ratelimit.ParseDirection(c.Param("direction"))
	if err != nil {
		respondError(c, http.StatusBadRequest, models.ErrCodeInvalidDirection,
			"Direction must be egress or ingress", err)
		return 0, false
	}

	for _, d := range dp.Directions() {
		if d == dir {
			return dir, true
		}
	}

	respondError(c, http.StatusNotFound, models.ErrCodeNotAttached,
		"No hook is attached for "+dir.String(), nil)
	return 0, false
}
