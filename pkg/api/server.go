package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/ebpf-bandwidth/agent/pkg/config"
	"github.com/ebpf-bandwidth/agent/pkg/dataplane"
	"github.com/ebpf-bandwidth/agent/pkg/ratelimit"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
)

// Server represents the HTTP API server that provides RESTful endpoints
// for querying statistics, inspecting rate state and monitoring health.
// It uses the Gin framework and reads from a data plane.
type Server struct {
	config     *config.Config
	dataPlane  dataplane.DataPlaneInterface
	gatherer   prometheus.Gatherer
	clock      ratelimit.Clock
	httpServer *http.Server
	router     *gin.Engine
}

// Option customizes a Server
type Option func(*Server)

// WithGatherer serves the metrics of g on /metrics
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) {
		s.gatherer = g
	}
}

// WithClock sets the clock used to report entity backlogs. It must match
// the clock of the data plane.
func WithClock(c ratelimit.Clock) Option {
	return func(s *Server) {
		s.clock = c
	}
}

// NewAPIServer creates and initializes a new API server instance.
// It sets up the Gin router, configures middleware, and registers all routes.
//
// Parameters:
//   - cfg: agent configuration (nil uses defaults)
//   - dp: data plane to report on
//   - opts: metrics gatherer and clock overrides
//
// Returns:
//   - *Server: Initialized server instance
//   - error: Error if initialization fails
func NewAPIServer(cfg *config.Config, dp dataplane.DataPlaneInterface, opts ...Option) (*Server, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if dp == nil {
		return nil, fmt.Errorf("data plane is required")
	}

	// Set Gin mode based on log level
	if cfg.API.LogLevel == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	// Create router
	router := gin.New()

	server := &Server{
		config:    cfg,
		dataPlane: dp,
		gatherer:  prometheus.DefaultGatherer,
		clock:     ratelimit.MonotonicNow,
		router:    router,
	}
	for _, opt := range opts {
		opt(server)
	}

	// Setup routes and middleware
	server.setupMiddleware()
	server.setupRoutes()

	return server, nil
}

// Start starts the HTTP server in a background goroutine.
// The server will listen on the configured host and port.
// This method returns immediately; the server runs asynchronously.
//
// Returns:
//   - error: Error if server fails to start
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.API.Host, s.config.API.Port)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.config.API.ReadTimeout,
		WriteTimeout: s.config.API.WriteTimeout,
		IdleTimeout:  s.config.API.IdleTimeout,
	}

	log.Infof("Starting API server on %s", addr)

	// Start server in goroutine
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Errorf("API server failed: %v", err)
		}
	}()

	return nil
}

// Stop gracefully shuts down the HTTP server.
// It waits for in-flight requests to complete (up to 30 seconds).
// After the timeout, the server will forcefully shutdown.
//
// Returns:
//   - error: Error if shutdown fails or times out
func (s *Server) Stop() error {
	if s.httpServer == nil {
		return nil
	}

	log.Info("Shutting down API server...")

	// Create context with timeout for shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Attempt graceful shutdown
	if err := s.httpServer.Shutdown(ctx); err != nil {
		log.Errorf("API server forced to shutdown: %v", err)
		return err
	}

	log.Info("API server stopped gracefully")
	return nil
}

// GetRouter returns the underlying Gin router instance.
// This is primarily useful for testing purposes to inject
// test HTTP requests without starting the full HTTP server.
//
// Returns:
//   - *gin.Engine: The Gin router instance
func (s *Server) GetRouter() *gin.Engine {
	return s.router
}
