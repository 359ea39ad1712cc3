// SPDX-License-Identifier: GPL-2.0 OR BSD-3-Clause
package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ebpf-bandwidth/agent/pkg/ratelimit"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(viper.New(), "")
	require.NoError(t, err)

	assert.Equal(t, "/sys/fs/cgroup/test", cfg.CgroupPath)
	assert.Equal(t, DirectionEgress, cfg.Direction)
	assert.Equal(t, ratelimit.DefaultBPS, cfg.EgressBPS)
	assert.Equal(t, ratelimit.DefaultBPS, cfg.IngressBPS)
	assert.Equal(t, ratelimit.DefaultCapacity, cfg.Capacity)
	assert.Equal(t, 5*time.Second, cfg.StatsInterval)
	assert.Equal(t, DefaultAPIConfig(), cfg.API)
	assert.Empty(t, cfg.Journal.Path)
}

func TestLoad_Environment(t *testing.T) {
	t.Setenv("BANDWIDTH_EGRESS_BPS", "65536")
	t.Setenv("BANDWIDTH_DIRECTION", "both")
	t.Setenv("BANDWIDTH_API_PORT", "9090")
	t.Setenv("BANDWIDTH_STATS_INTERVAL", "2s")

	cfg, err := Load(viper.New(), "")
	require.NoError(t, err)

	assert.Equal(t, uint64(65536), cfg.EgressBPS)
	assert.Equal(t, 9090, cfg.API.Port)
	assert.Equal(t, 2*time.Second, cfg.StatsInterval)

	dirs, err := cfg.Directions()
	require.NoError(t, err)
	assert.Equal(t, []ratelimit.Direction{ratelimit.Egress, ratelimit.Ingress}, dirs)
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agent.yaml")
	content := `
cgroup_path: /sys/fs/cgroup/web
direction: ingress
ingress_bps: 1000
journal:
  path: /tmp/decisions.db
api:
  enabled: false
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(viper.New(), path)
	require.NoError(t, err)

	assert.Equal(t, "/sys/fs/cgroup/web", cfg.CgroupPath)
	assert.Equal(t, uint64(1000), cfg.IngressBPS)
	assert.Equal(t, "/tmp/decisions.db", cfg.Journal.Path)
	assert.False(t, cfg.API.Enabled)

	dirs, err := cfg.Directions()
	require.NoError(t, err)
	assert.Equal(t, []ratelimit.Direction{ratelimit.Ingress}, dirs)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(viper.New(), filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLoad_FlagsOverrideEnvironment(t *testing.T) {
	t.Setenv("BANDWIDTH_CGROUP_PATH", "/from/env")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("cgroup-path", "", "")
	require.NoError(t, flags.Parse([]string{"--cgroup-path=/from/flag"}))

	v := viper.New()
	require.NoError(t, v.BindPFlag("cgroup_path", flags.Lookup("cgroup-path")))

	cfg, err := Load(v, "")
	require.NoError(t, err)
	assert.Equal(t, "/from/flag", cfg.CgroupPath)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(c *Config)
	}{
		{"empty cgroup", func(c *Config) { c.CgroupPath = "" }},
		{"unknown direction", func(c *Config) { c.Direction = "sideways" }},
		{"zero egress rate", func(c *Config) { c.EgressBPS = 0 }},
		{"zero ingress rate", func(c *Config) { c.IngressBPS = 0 }},
		{"negative capacity", func(c *Config) { c.Capacity = -1 }},
		{"negative perf pages", func(c *Config) { c.PerfBufferPages = -1 }},
		{"bad log level", func(c *Config) { c.LogLevel = "loud" }},
		{"zero stats interval", func(c *Config) { c.StatsInterval = 0 }},
		{"api port", func(c *Config) { c.API.Port = 70000 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
		})
	}

	assert.NoError(t, Default().Validate())

	cfg := Default()
	cfg.API.Enabled = false
	cfg.API.Port = 0
	assert.NoError(t, cfg.Validate(), "port is ignored when the API is disabled")
}

func TestValidate_ZeroRateWrapsSentinel(t *testing.T) {
	cfg := Default()
	cfg.EgressBPS = 0
	assert.ErrorIs(t, cfg.Validate(), ratelimit.ErrInvalidRate)
}
