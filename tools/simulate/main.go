// SPDX-License-Identifier: GPL-2.0 OR BSD-3-Clause
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ebpf-bandwidth/agent/pkg/collector"
	"github.com/ebpf-bandwidth/agent/pkg/journal"
	"github.com/ebpf-bandwidth/agent/pkg/ratelimit"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	opts         options
	logDecisions bool
	journalPath  string
)

var rootCmd = &cobra.Command{
	Use:          "simulate",
	Short:        "Drive the rate limiter with a synthetic burst on a virtual clock",
	RunE:         run,
	SilenceUsage: true,
}

func init() {
	flags := rootCmd.Flags()
	flags.Uint64Var(&opts.BPS, "bps", ratelimit.DefaultBPS, "Cap in bytes per second")
	flags.IntVar(&opts.Entities, "entities", 4, "Number of cgroups sending concurrently")
	flags.Uint32Var(&opts.PacketSize, "packet-size", 1500, "Packet length in bytes")
	flags.Float64Var(&opts.Load, "load", 2, "Offered rate as a multiple of the cap")
	flags.DurationVar(&opts.Duration, "duration", 10*time.Second, "Virtual duration")
	flags.IntVar(&opts.CPUs, "cpus", 4, "Number of simulated CPUs")
	flags.IntVar(&opts.Capacity, "capacity", ratelimit.DefaultCapacity, "Tracked entity capacity")
	flags.BoolVar(&opts.FailOpen, "fail-open", false, "Pass packets whose state cannot be read or kept")
	flags.BoolVar(&logDecisions, "log-decisions", false, "Log every decision")
	flags.StringVar(&journalPath, "journal", "", "SQLite file to journal decisions to")
}

func run(cmd *cobra.Command, args []string) error {
	log.SetFormatter(&log.TextFormatter{
		FullTimestamp: true,
	})
	log.SetOutput(os.Stdout)
	log.SetLevel(log.InfoLevel)

	log.Info("=== Bandwidth Limiter Simulation ===")
	log.Infof("Cap: %d B/s, Entities: %d, Packet: %d B", opts.BPS, opts.Entities, opts.PacketSize)
	log.Infof("Offered load: %.2fx, Duration: %s", opts.Load, opts.Duration)
	log.Info("====================================")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if logDecisions {
		opts.Sinks = append(opts.Sinks, collector.NewLogSink(nil))
	}

	var journalRun func() error
	if journalPath != "" {
		storage, err := journal.NewSQLiteStorage(journalPath)
		if err != nil {
			return err
		}
		defer storage.Close()

		js := journal.NewSink(storage, 0)
		opts.Sinks = append(opts.Sinks, js)

		jctx, cancel := context.WithCancel(ctx)
		defer cancel()
		done := make(chan error, 1)
		go func() { done <- js.Run(jctx) }()
		journalRun = func() error {
			cancel()
			return <-done
		}
	}

	rep, err := simulate(ctx, opts)
	if err != nil {
		return err
	}
	if journalRun != nil {
		if err := journalRun(); err != nil {
			return err
		}
	}

	printReport(rep)
	return nil
}

func printReport(rep *report) {
	log.Info("=== Per-second Throughput (bytes) ===")
	for e, secs := range rep.PassedPerSecond {
		log.Infof("  entity %d: %v", e+1, secs)
	}

	s := rep.Stats
	log.Info("=== Decisions ===")
	log.Infof("  Total Packets:     %d", s.TotalPackets)
	log.Infof("  Passed Packets:    %d", s.PassedPackets)
	log.Infof("  Dropped Packets:   %d", s.DroppedPackets)
	log.Infof("  Passed Bytes:      %d", s.PassedBytes)
	log.Infof("  Faults:            %d", s.Faults)

	if s.TotalPackets > 0 {
		log.Infof("Pass Rate: %.2f%%", float64(s.PassedPackets)/float64(s.TotalPackets)*100)
	}

	log.Info("=== Telemetry ===")
	log.Infof("  Decoded:  %d", rep.Collected.Decoded)
	log.Infof("  Lost:     %d", rep.Lost)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
