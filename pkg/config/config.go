// SPDX-License-Identifier: GPL-2.0 OR BSD-3-Clause
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ebpf-bandwidth/agent/pkg/ratelimit"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g.
// BANDWIDTH_EGRESS_BPS or BANDWIDTH_API_PORT.
const EnvPrefix = "BANDWIDTH"

// Direction values accepted by the direction setting
const (
	DirectionEgress  = "egress"
	DirectionIngress = "ingress"
	DirectionBoth    = "both"
)

var ErrInvalidConfig = errors.New("invalid configuration")

// Config holds the agent configuration
type Config struct {
	// CgroupPath is the cgroup v2 directory the hooks are attached to
	CgroupPath string `mapstructure:"cgroup_path" json:"cgroup_path"`

	// Direction is egress, ingress or both
	Direction string `mapstructure:"direction" json:"direction"`

	// ObjectPath is the compiled BPF object
	ObjectPath string `mapstructure:"object" json:"object"`

	EgressBPS  uint64 `mapstructure:"egress_bps" json:"egress_bps"`
	IngressBPS uint64 `mapstructure:"ingress_bps" json:"ingress_bps"`

	// Capacity bounds the number of tracked entities per direction in
	// user-space stores. The kernel maps are sized by the object.
	Capacity int `mapstructure:"capacity" json:"capacity"`

	PerfBufferPages int `mapstructure:"perf_buffer_pages" json:"perf_buffer_pages"`
	ChannelDepth    int `mapstructure:"channel_depth" json:"channel_depth"`

	LogLevel      string        `mapstructure:"log_level" json:"log_level"`
	StatsInterval time.Duration `mapstructure:"stats_interval" json:"stats_interval"`

	Journal JournalConfig `mapstructure:"journal" json:"journal"`
	API     APIConfig     `mapstructure:"api" json:"api"`
}

// JournalConfig controls the optional SQLite decision journal
type JournalConfig struct {
	// Path of the database file; empty disables the journal
	Path       string `mapstructure:"path" json:"path"`
	QueueDepth int    `mapstructure:"queue_depth" json:"queue_depth"`
}

// APIConfig holds API server configuration
type APIConfig struct {
	// Enabled starts the REST API server
	Enabled bool `mapstructure:"enabled" json:"enabled"`

	// Host is the address to bind the API server to
	Host string `mapstructure:"host" json:"host"`

	// Port is the HTTP port to listen on
	Port int `mapstructure:"port" json:"port"`

	// ReadTimeout is the maximum duration for reading the entire request
	ReadTimeout time.Duration `mapstructure:"read_timeout" json:"read_timeout"`

	// WriteTimeout is the maximum duration before timing out writes
	WriteTimeout time.Duration `mapstructure:"write_timeout" json:"write_timeout"`

	// IdleTimeout is the maximum amount of time to wait for the next request
	IdleTimeout time.Duration `mapstructure:"idle_timeout" json:"idle_timeout"`

	// EnableCORS enables Cross-Origin Resource Sharing
	EnableCORS bool `mapstructure:"enable_cors" json:"enable_cors"`

	// LogLevel sets the log level for API server (debug, info, warn, error)
	LogLevel string `mapstructure:"log_level" json:"log_level"`
}

// DefaultAPIConfig returns default API configuration
func DefaultAPIConfig() APIConfig {
	return APIConfig{
		Enabled:      true,
		Host:         "127.0.0.1",
		Port:         8080,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
		EnableCORS:   true,
		LogLevel:     "info",
	}
}

// Default returns the configuration used when nothing is overridden
func Default() *Config {
	return &Config{
		CgroupPath:      "/sys/fs/cgroup/test",
		Direction:       DirectionEgress,
		ObjectPath:      "bpf/bandwidth.bpf.o",
		EgressBPS:       ratelimit.DefaultBPS,
		IngressBPS:      ratelimit.DefaultBPS,
		Capacity:        ratelimit.DefaultCapacity,
		PerfBufferPages: 64,
		ChannelDepth:    1024,
		LogLevel:        "info",
		StatsInterval:   5 * time.Second,
		Journal:         JournalConfig{QueueDepth: 4096},
		API:             DefaultAPIConfig(),
	}
}

// SetDefaults registers the default values on v
func SetDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("cgroup_path", d.CgroupPath)
	v.SetDefault("direction", d.Direction)
	v.SetDefault("object", d.ObjectPath)
	v.SetDefault("egress_bps", d.EgressBPS)
	v.SetDefault("ingress_bps", d.IngressBPS)
	v.SetDefault("capacity", d.Capacity)
	v.SetDefault("perf_buffer_pages", d.PerfBufferPages)
	v.SetDefault("channel_depth", d.ChannelDepth)
	v.SetDefault("log_level", d.LogLevel)
	v.SetDefault("stats_interval", d.StatsInterval)

	v.SetDefault("journal.path", d.Journal.Path)
	v.SetDefault("journal.queue_depth", d.Journal.QueueDepth)

	v.SetDefault("api.enabled", d.API.Enabled)
	v.SetDefault("api.host", d.API.Host)
	v.SetDefault("api.port", d.API.Port)
	v.SetDefault("api.read_timeout", d.API.ReadTimeout)
	v.SetDefault("api.write_timeout", d.API.WriteTimeout)
	v.SetDefault("api.idle_timeout", d.API.IdleTimeout)
	v.SetDefault("api.enable_cors", d.API.EnableCORS)
	v.SetDefault("api.log_level", d.API.LogLevel)
}

// Load reads the configuration from defaults, an optional YAML file and
// BANDWIDTH_* environment variables. Flags bound to v with BindPFlag take
// precedence over all of them.
func Load(v *viper.Viper, cfgFile string) (*Config, error) {
	SetDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", cfgFile, err)
		}
		log.Debugf("Using config file %s", v.ConfigFileUsed())
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decoding configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects values the agent cannot run with
func (c *Config) Validate() error {
	var errs []error

	if c.CgroupPath == "" {
		errs = append(errs, errors.New("cgroup path is required"))
	}
	if _, err := c.Directions(); err != nil {
		errs = append(errs, err)
	}
	if c.EgressBPS == 0 {
		errs = append(errs, fmt.Errorf("egress: %w", ratelimit.ErrInvalidRate))
	}
	if c.IngressBPS == 0 {
		errs = append(errs, fmt.Errorf("ingress: %w", ratelimit.ErrInvalidRate))
	}
	if c.Capacity < 0 {
		errs = append(errs, fmt.Errorf("capacity must not be negative, got %d", c.Capacity))
	}
	if c.PerfBufferPages < 0 {
		errs = append(errs, fmt.Errorf("perf buffer pages must not be negative, got %d", c.PerfBufferPages))
	}
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	if c.StatsInterval <= 0 {
		errs = append(errs, fmt.Errorf("stats interval must be positive, got %s", c.StatsInterval))
	}
	if c.API.Enabled && (c.API.Port <= 0 || c.API.Port > 65535) {
		errs = append(errs, fmt.Errorf("api port out of range: %d", c.API.Port))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}

// Directions expands the direction setting
func (c *Config) Directions() ([]ratelimit.Direction, error) {
	switch strings.ToLower(c.Direction) {
	case DirectionBoth:
		return []ratelimit.Direction{ratelimit.Egress, ratelimit.Ingress}, nil
	case DirectionEgress, DirectionIngress:
		dir, err := ratelimit.ParseDirection(c.Direction)
		if err != nil {
			return nil, err
		}
		return []ratelimit.Direction{dir}, nil
	default:
		return nil, fmt.Errorf("unknown direction %q (want egress, ingress or both)", c.Direction)
	}
}
