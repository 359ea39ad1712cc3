package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

// setupMiddleware configures middleware for the API server
func (s *Server) setupMiddleware() {
	level, err := log.ParseLevel(s.config.API.LogLevel)
	if err != nil {
		level = log.InfoLevel
	}

	s.router.Use(gin.Recovery())
	s.router.Use(requestLogger(log.WithField("component", "api"), level))

	if s.config.API.EnableCORS {
		s.router.Use(corsMiddleware())
	}
}

// requestLogger logs every request at a level derived from its outcome and
// drops entries less severe than minLevel. The direction and entity id of
// the stats and entity routes are logged as separate fields.
func requestLogger(entry *log.Entry, minLevel log.Level) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		status := c.Writer.Status()
		level := requestLevel(c.FullPath(), status)
		if level > minLevel {
			return
		}

		fields := log.Fields{
			"status":     status,
			"method":     c.Request.Method,
			"path":       c.Request.URL.Path,
			"latency_ms": time.Since(start).Milliseconds(),
		}
		if route := c.FullPath(); route != "" {
			fields["route"] = route
		}
		if dir := c.Param("direction"); dir != "" {
			fields["direction"] = dir
		}
		if id := c.Param("id"); id != "" {
			fields["entity_id"] = id
		}
		if len(c.Errors) > 0 {
			fields["error"] = c.Errors.String()
		}

		entry.WithFields(fields).Log(level, "API request")
	}
}

func requestLevel(route string, status int) log.Level {
	switch {
	case status >= http.StatusInternalServerError:
		return log.ErrorLevel
	case status >= http.StatusBadRequest:
		return log.WarnLevel
	case route == "/metrics":
		// scrapes are periodic
		return log.DebugLevel
	default:
		return log.InfoLevel
	}
}

// corsMiddleware allows read-only cross-origin requests
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Accept, Content-Type, Cache-Control")
		h.Set("Access-Control-Max-Age", "600")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
