// SPDX-License-Identifier: GPL-2.0 OR BSD-3-Clause

// Package e2e provides the end-to-end testing framework for the bandwidth
// limiter. It attaches the real BPF programs to a throwaway cgroup, pushes
// traffic through an isolated network namespace and observes the result
// through the data plane, the collector, the journal and the REST API.
package e2e

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ebpf-bandwidth/agent/pkg/api"
	"github.com/ebpf-bandwidth/agent/pkg/collector"
	"github.com/ebpf-bandwidth/agent/pkg/config"
	"github.com/ebpf-bandwidth/agent/pkg/dataplane"
	"github.com/ebpf-bandwidth/agent/pkg/journal"
	"github.com/ebpf-bandwidth/agent/pkg/ratelimit"
	"github.com/ebpf-bandwidth/agent/pkg/testutil"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"
)

// objectPath locates the compiled BPF object, BANDWIDTH_OBJECT overrides
func objectPath() string {
	if p := os.Getenv("BANDWIDTH_OBJECT"); p != "" {
		return p
	}
	return filepath.Join("..", "..", "bpf", "bandwidth.bpf.o")
}

// skipUnlessE2E skips tests that cannot run in the current environment
func skipUnlessE2E(t *testing.T) {
	t.Helper()
	if msg := testutil.CheckE2ERequirements(); msg != "" {
		t.Skip(msg)
	}
	if _, err := os.Stat(objectPath()); err != nil {
		t.Skipf("BPF object not built (make bpf): %v", err)
	}
}

// E2ETestEnv represents a complete end-to-end test environment.
type E2ETestEnv struct {
	T         *testing.T
	Sandbox   *testutil.Sandbox
	Cgroup    *testutil.TestCgroup
	DataPlane *dataplane.DataPlane
	Collector *collector.Collector
	Journal   *journal.SQLiteStorage
	Registry  *prometheus.Registry

	HTTPClient *http.Client
	APIBaseURL string

	cancel       context.CancelFunc
	group        *errgroup.Group
	cleanupFuncs []func()
}

// NewE2ETestEnv creates a new end-to-end test environment.
//
// The environment includes:
//   - A network namespace with loopback up
//   - A cgroup with the programs of dirs attached, capped at bps
//   - A collector feeding metrics and a SQLite journal
//   - An API server on a local httptest listener
func NewE2ETestEnv(t *testing.T, bps uint64, dirs ...ratelimit.Direction) (*E2ETestEnv, error) {
	env := &E2ETestEnv{
		T:            t,
		Registry:     prometheus.NewRegistry(),
		HTTPClient:   &http.Client{Timeout: 5 * time.Second},
		cleanupFuncs: make([]func(), 0),
	}

	sandbox, err := testutil.NewSandbox()
	if err != nil {
		return nil, fmt.Errorf("failed to create sandbox: %w", err)
	}
	env.Sandbox = sandbox
	env.addCleanup(sandbox.Cleanup)

	cg, err := testutil.NewTestCgroup(fmt.Sprintf("bandwidth-e2e-%d", time.Now().UnixNano()))
	if err != nil {
		env.Cleanup()
		return nil, err
	}
	env.Cgroup = cg
	env.addCleanup(func() { _ = cg.Cleanup() })

	dp, err := dataplane.New(dataplane.Options{
		CgroupPath: cg.Path,
		ObjectPath: objectPath(),
		Directions: dirs,
		EgressBPS:  bps,
		IngressBPS: bps,
	})
	if err != nil {
		env.Cleanup()
		return nil, fmt.Errorf("failed to load eBPF program: %w", err)
	}
	env.DataPlane = dp
	env.addCleanup(func() { dp.Close() })

	storage, err := journal.NewSQLiteStorage(filepath.Join(t.TempDir(), "decisions.db"))
	if err != nil {
		env.Cleanup()
		return nil, fmt.Errorf("failed to create journal: %w", err)
	}
	env.Journal = storage
	env.addCleanup(func() { storage.Close() })

	js := journal.NewSink(storage, 0)
	c, err := collector.New(dp.TelemetrySources(), collector.NewMetricsSink(env.Registry), js)
	if err != nil {
		env.Cleanup()
		return nil, err
	}
	env.Collector = c

	ctx, cancel := context.WithCancel(context.Background())
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return c.Run(gctx) })
	g.Go(func() error { return js.Run(gctx) })
	env.cancel = cancel
	env.group = g
	env.addCleanup(func() { env.StopCollector() })

	cfg := config.Default()
	cfg.CgroupPath = cg.Path
	cfg.EgressBPS = bps
	cfg.IngressBPS = bps
	cfg.API.LogLevel = "error"

	server, err := api.NewAPIServer(cfg, dp, api.WithGatherer(env.Registry))
	if err != nil {
		env.Cleanup()
		return nil, err
	}
	ts := httptest.NewServer(server.GetRouter())
	env.APIBaseURL = ts.URL
	env.addCleanup(ts.Close)

	return env, nil
}

// addCleanup adds a cleanup function to be called on test teardown.
func (env *E2ETestEnv) addCleanup(fn func()) {
	env.cleanupFuncs = append(env.cleanupFuncs, fn)
}

// Cleanup releases all resources created by the test environment.
// It should be called with defer after creating the environment.
func (env *E2ETestEnv) Cleanup() {
	// Call cleanup functions in reverse order
	for i := len(env.cleanupFuncs) - 1; i >= 0; i-- {
		env.cleanupFuncs[i]()
	}
	env.cleanupFuncs = nil
}

// StopCollector stops the collector and flushes the journal. It is safe
// to call more than once.
func (env *E2ETestEnv) StopCollector() error {
	if env.cancel == nil {
		return nil
	}
	env.cancel()
	env.cancel = nil
	return env.group.Wait()
}

// StartSink starts a discarding TCP server inside the sandbox.
func (env *E2ETestEnv) StartSink() (*testutil.SinkServer, error) {
	server, err := testutil.StartSinkServer(env.Sandbox.NS)
	if err != nil {
		return nil, err
	}
	env.addCleanup(server.Stop)
	return server, nil
}

// SendFromCgroup pushes bulk traffic from a socket charged to the test cgroup.
func (env *E2ETestEnv) SendFromCgroup(addr string, duration time.Duration) (testutil.BulkResult, error) {
	return testutil.SendBulk(env.Sandbox.NS, env.Cgroup, addr, 16*1024, duration)
}

// SendUncharged pushes bulk traffic from a socket outside the test cgroup.
func (env *E2ETestEnv) SendUncharged(addr string, duration time.Duration) (testutil.BulkResult, error) {
	return testutil.SendBulk(env.Sandbox.NS, nil, addr, 16*1024, duration)
}

// GetJSON performs a GET request against the API and decodes the body into out.
func (env *E2ETestEnv) GetJSON(path string, out interface{}) (int, error) {
	resp, err := env.HTTPClient.Get(env.APIBaseURL + path)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if out == nil || resp.StatusCode != http.StatusOK {
		return resp.StatusCode, nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return resp.StatusCode, fmt.Errorf("failed to decode response: %w", err)
	}
	return resp.StatusCode, nil
}
