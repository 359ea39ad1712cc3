// SPDX-License-Identifier: GPL-2.0 OR BSD-3-Clause
package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ebpf-bandwidth/agent/pkg/api/models"
	"github.com/ebpf-bandwidth/agent/pkg/collector"
	"github.com/ebpf-bandwidth/agent/pkg/config"
	"github.com/ebpf-bandwidth/agent/pkg/dataplane"
	"github.com/ebpf-bandwidth/agent/pkg/ratelimit"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testEnv wires the API to a user-space data plane
type testEnv struct {
	Server    *Server
	DataPlane *dataplane.Userspace
	Registry  *prometheus.Registry
	now       uint64
}

func newTestEnv(t *testing.T) *testEnv {
	cfg := config.Default()
	cfg.API.LogLevel = "error"

	dp, err := dataplane.NewUserspace(dataplane.UserspaceOptions{
		Directions: []ratelimit.Direction{ratelimit.Egress},
		EgressBPS:  64 * 1024,
		IngressBPS: ratelimit.DefaultBPS,
		CPUs:       1,
	})
	require.NoError(t, err)

	env := &testEnv{DataPlane: dp, Registry: prometheus.NewRegistry(), now: 5 * ratelimit.NsecPerSec}

	srv, err := NewAPIServer(cfg, dp,
		WithGatherer(env.Registry),
		WithClock(func() uint64 { return env.now }),
	)
	require.NoError(t, err)
	env.Server = srv

	return env
}

func (e *testEnv) get(t *testing.T, path string) *httptest.ResponseRecorder {
	req, err := http.NewRequest(http.MethodGet, path, nil)
	require.NoError(t, err)
	w := httptest.NewRecorder()
	e.Server.GetRouter().ServeHTTP(w, req)
	return w
}

// TestNewAPIServer_RequiresDataPlane tests constructor validation
func TestNewAPIServer_RequiresDataPlane(t *testing.T) {
	_, err := NewAPIServer(nil, nil)
	assert.Error(t, err)
}

// TestServer_Routes tests that every route is registered
func TestServer_Routes(t *testing.T) {
	env := newTestEnv(t)

	for _, path := range []string{
		"/api/v1/health",
		"/api/v1/status",
		"/api/v1/stats",
		"/api/v1/stats/egress",
		"/api/v1/entities/egress",
		"/api/v1/config",
		"/metrics",
	} {
		w := env.get(t, path)
		assert.Equal(t, http.StatusOK, w.Code, path)
	}

	assert.Equal(t, http.StatusNotFound, env.get(t, "/api/v1/policies").Code)
}

// TestServer_CORS tests the CORS middleware
func TestServer_CORS(t *testing.T) {
	env := newTestEnv(t)

	req, _ := http.NewRequest(http.MethodOptions, "/api/v1/stats", nil)
	w := httptest.NewRecorder()
	env.Server.GetRouter().ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "GET, OPTIONS", w.Header().Get("Access-Control-Allow-Methods"))
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Credentials"))
}

// TestServer_DecisionFlow evaluates packets and reads them back through the API
func TestServer_DecisionFlow(t *testing.T) {
	env := newTestEnv(t)

	hook, ok := env.DataPlane.Hook(ratelimit.Egress)
	require.True(t, ok)

	// at 64 KiB/s two 32 KiB packets fill the one second backlog
	var passed int
	for i := uint64(0); i < 4; i++ {
		res := hook.Evaluate(ratelimit.Packet{EntityID: 42, Length: 32 * 1024, Now: env.now + i})
		if res.Verdict == ratelimit.Allow {
			passed++
		}
	}
	assert.Equal(t, 2, passed)

	sink := collector.NewMetricsSink(env.Registry)
	c, err := collector.New(env.DataPlane.TelemetrySources(), sink)
	require.NoError(t, err)
	require.NoError(t, env.DataPlane.Close())
	require.NoError(t, c.Run(context.Background()))

	// Statistics
	w := env.get(t, "/api/v1/stats/egress")
	require.Equal(t, http.StatusOK, w.Code)
	var stats models.DirectionStatsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stats))
	assert.Equal(t, uint64(4), stats.TotalPackets)
	assert.Equal(t, uint64(2), stats.PassedPackets)
	assert.Equal(t, uint64(2), stats.DroppedPackets)
	assert.Equal(t, uint64(64*1024), stats.BPS)

	// Entity state
	w = env.get(t, "/api/v1/entities/egress/42")
	require.Equal(t, http.StatusOK, w.Code)
	var entity models.EntityResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &entity))
	assert.Equal(t, env.now+3, entity.LastSeen)
	assert.Greater(t, entity.BacklogSeconds, 0.0)
	assert.LessOrEqual(t, entity.BacklogSeconds, 1.0)

	// Metrics
	w = env.get(t, "/metrics")
	require.Equal(t, http.StatusOK, w.Code)
	body, err := io.ReadAll(w.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `bandwidth_collector_decisions_total{action="PASS",direction="egress"} 2`)
	assert.Contains(t, string(body), `bandwidth_collector_decisions_total{action="DROP",direction="egress"} 2`)
}
