// Package api provides a RESTful HTTP API server for observing the
// cgroup bandwidth limiter.
//
// The API server exposes endpoints for:
//   - Health checks and system status monitoring
//   - Per-hook decision statistics
//   - Per-entity rate state
//   - The effective configuration
//   - Prometheus metrics
//
// # Example Usage
//
//	server, err := api.NewAPIServer(cfg, dataPlane, api.WithGatherer(registry))
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	if err := server.Start(); err != nil {
//	    log.Fatal(err)
//	}
//	defer server.Stop()
//
// # Endpoints
//
// Health check:
//   - GET /api/v1/health  - Simple health check
//   - GET /api/v1/status  - Detailed system status
//
// Statistics:
//   - GET /api/v1/stats            - All attached hooks
//   - GET /api/v1/stats/:direction - One hook (egress or ingress)
//
// Rate state:
//   - GET /api/v1/entities/:direction     - All tracked entities
//   - GET /api/v1/entities/:direction/:id - One entity
//
// Other:
//   - GET /api/v1/config - Effective configuration
//   - GET /metrics       - Prometheus exposition
//
// # Middleware
//
// The server includes the following middleware:
//   - Recovery: Catches panics and prevents server crashes
//   - Logger: Logs all HTTP requests with timing information
//   - CORS: Enables cross-origin resource sharing for web UIs
//
// # Thread Safety
//
// The API server is designed to handle concurrent requests safely.
// All reads from the data plane are thread-safe.
package api
