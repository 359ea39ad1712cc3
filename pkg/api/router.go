package api

import (
	"github.com/ebpf-bandwidth/agent/pkg/api/handlers"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// setupRoutes configures all API routes
func (s *Server) setupRoutes() {
	// Create handlers
	healthHandler := handlers.NewHealthHandler(s.dataPlane, s.config.CgroupPath)
	statsHandler := handlers.NewStatisticsHandler(s.dataPlane)
	entityHandler := handlers.NewEntityHandler(s.dataPlane, s.clock)
	configHandler := handlers.NewConfigHandler(s.config)

	// API v1 group
	v1 := s.router.Group("/api/v1")
	{
		// Health and status endpoints
		v1.GET("/health", healthHandler.GetHealth)
		v1.GET("/status", healthHandler.GetStatus)

		// Statistics endpoints
		stats := v1.Group("/stats")
		{
			stats.GET("", statsHandler.GetAllStats)
			stats.GET("/:direction", statsHandler.GetDirectionStats)
		}

		// Rate state endpoints
		entities := v1.Group("/entities")
		{
			entities.GET("/:direction", entityHandler.ListEntities)
			entities.GET("/:direction/:id", entityHandler.GetEntity)
		}

		v1.GET("/config", configHandler.GetConfig)
	}

	s.router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))
}
