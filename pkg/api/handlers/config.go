package handlers

import (
	"net/http"

	"github.com/ebpf-bandwidth/agent/pkg/api/models"
	"github.com/ebpf-bandwidth/agent/pkg/config"
	"github.com/gin-gonic/gin"
)

// ConfigHandler serves the effective agent configuration
type ConfigHandler struct {
	config *config.Config
}

// NewConfigHandler creates a new configuration handler
func NewConfigHandler(cfg *config.Config) *ConfigHandler {
	return &ConfigHandler{config: cfg}
}

// GetConfig handles GET /api/v1/config
func (h *ConfigHandler) GetConfig(c *gin.Context) {
	cfg := h.config
	c.JSON(http.StatusOK, models.ConfigResponse{
		CgroupPath:    cfg.CgroupPath,
		Direction:     cfg.Direction,
		EgressBPS:     cfg.EgressBPS,
		IngressBPS:    cfg.IngressBPS,
		Capacity:      cfg.Capacity,
		LogLevel:      cfg.LogLevel,
		StatsInterval: cfg.StatsInterval.String(),
		JournalPath:   cfg.Journal.Path,
		APIHost:       cfg.API.Host,
		APIPort:       cfg.API.Port,
	})
}
