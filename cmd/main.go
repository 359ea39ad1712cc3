// SPDX-License-Identifier: GPL-2.0 OR BSD-3-Clause
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ebpf-bandwidth/agent/pkg/api"
	"github.com/ebpf-bandwidth/agent/pkg/config"
	"github.com/ebpf-bandwidth/agent/pkg/dataplane"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"
)

var (
	cfgFile string
	v       = viper.New()
)

var rootCmd = &cobra.Command{
	Use:          "bandwidth-agent",
	Short:        "eBPF cgroup bandwidth limiter",
	Long:         `Caps the byte rate of a cgroup with cgroup_skb programs and logs every enforcement decision`,
	RunE:         runAgent,
	SilenceUsage: true,
}

// flag name -> configuration key
var flagKeys = map[string]string{
	"cgroup-path":       "cgroup_path",
	"direction":         "direction",
	"object":            "object",
	"egress-bps":        "egress_bps",
	"ingress-bps":       "ingress_bps",
	"capacity":          "capacity",
	"perf-buffer-pages": "perf_buffer_pages",
	"log-level":         "log_level",
	"stats-interval":    "stats_interval",
	"journal":           "journal.path",
	"enable-api":        "api.enabled",
	"api-host":          "api.host",
	"api-port":          "api.port",
}

func init() {
	d := config.Default()

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "YAML config file")
	rootCmd.PersistentFlags().StringP("log-level", "l", d.LogLevel, "Log level (debug, info, warn, error)")

	flags := rootCmd.Flags()
	flags.StringP("cgroup-path", "c", d.CgroupPath, "cgroup v2 directory to attach the programs to")
	flags.StringP("direction", "d", d.Direction, "Hooks to attach (egress, ingress, both)")
	flags.String("object", d.ObjectPath, "Compiled BPF object")
	flags.Uint64("egress-bps", d.EgressBPS, "Egress cap in bytes per second")
	flags.Uint64("ingress-bps", d.IngressBPS, "Ingress cap in bytes per second")
	flags.Int("capacity", d.Capacity, "Tracked entities per direction for user-space stores")
	flags.Int("perf-buffer-pages", d.PerfBufferPages, "Per-CPU perf buffer size in pages")
	flags.DurationP("stats-interval", "s", d.StatsInterval, "Statistics print interval")
	flags.String("journal", d.Journal.Path, "SQLite file to journal decisions to (disabled when empty)")
	flags.BoolP("enable-api", "a", d.API.Enabled, "Enable REST API server")
	flags.String("api-host", d.API.Host, "API server host")
	flags.Int("api-port", d.API.Port, "API server port")

	for name, key := range flagKeys {
		flag := flags.Lookup(name)
		if flag == nil {
			flag = rootCmd.PersistentFlags().Lookup(name)
		}
		_ = v.BindPFlag(key, flag)
	}

	rootCmd.AddCommand(journalCmd)
}

func setupLogging(level string) error {
	lvl, err := log.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}
	log.SetLevel(lvl)
	log.SetFormatter(&log.TextFormatter{
		FullTimestamp: true,
	})
	return nil
}

func runAgent(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(v, cfgFile)
	if err != nil {
		return err
	}
	if err := setupLogging(cfg.LogLevel); err != nil {
		return err
	}

	dirs, err := cfg.Directions()
	if err != nil {
		return err
	}

	log.Infof("Starting bandwidth agent on %s (%s)", cfg.CgroupPath, cfg.Direction)

	// Create data plane
	dp, err := dataplane.New(dataplane.Options{
		CgroupPath:      cfg.CgroupPath,
		ObjectPath:      cfg.ObjectPath,
		Directions:      dirs,
		EgressBPS:       cfg.EgressBPS,
		IngressBPS:      cfg.IngressBPS,
		PerfBufferPages: cfg.PerfBufferPages,
		ChannelDepth:    cfg.ChannelDepth,
	})
	if err != nil {
		return fmt.Errorf("failed to create data plane: %w", err)
	}
	defer dp.Close()

	log.Info("✓ Data plane initialized")

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	p, err := newPipeline(cfg, dp, registry)
	if err != nil {
		return err
	}
	defer p.Close()

	if cfg.Journal.Path != "" {
		log.Infof("✓ Journaling decisions to %s", cfg.Journal.Path)
	}

	var apiServer *api.Server
	if cfg.API.Enabled {
		apiServer, err = api.NewAPIServer(cfg, dp, api.WithGatherer(registry))
		if err != nil {
			return fmt.Errorf("failed to create API server: %w", err)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	p.start(ctx, g)

	if apiServer != nil {
		if err := apiServer.Start(); err != nil {
			stop()
			_ = g.Wait()
			return fmt.Errorf("failed to start API server: %w", err)
		}
		log.Infof("✓ API server started on http://%s:%d", cfg.API.Host, cfg.API.Port)
	}

	// Print statistics periodically
	g.Go(func() error {
		ticker := time.NewTicker(cfg.StatsInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				p.logStatistics()
			}
		}
	})

	log.Info("✓ Agent running. Press Ctrl+C to exit")

	<-ctx.Done()
	log.Info("Shutting down...")

	// Stop API server if running
	if apiServer != nil {
		if err := apiServer.Stop(); err != nil {
			log.Errorf("Error stopping API server: %v", err)
		}
	}

	return g.Wait()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
