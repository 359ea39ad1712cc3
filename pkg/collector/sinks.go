// SPDX-License-Identifier: GPL-2.0 OR BSD-3-Clause
package collector

import (
	"github.com/ebpf-bandwidth/agent/pkg/ratelimit"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"
)

// LogSink writes one line per decision, e.g.
//
//	egress: 0.000143s - 1500 bytes PASS
type LogSink struct {
	logger log.FieldLogger
}

// NewLogSink creates a LogSink. A nil logger uses the standard logrus logger.
func NewLogSink(logger log.FieldLogger) *LogSink {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &LogSink{logger: logger}
}

// HandleDecision logs d.
func (s *LogSink) HandleDecision(d Decision) {
	s.logger.Infof("%s: %.6fs - %d bytes %s",
		d.Direction, d.Event.OffsetSeconds(), d.Event.Length, d.Event.ActionString())
}

// HandleLost is a no-op, the collector already logs lost samples.
func (s *LogSink) HandleLost(ratelimit.Direction, int, uint64) {}

// MetricsSink exports decisions as Prometheus metrics.
type MetricsSink struct {
	decisions *prometheus.CounterVec
	bytes     *prometheus.CounterVec
	offsets   *prometheus.HistogramVec
	lost      *prometheus.CounterVec
}

// NewMetricsSink registers the collector metrics with reg.
func NewMetricsSink(reg prometheus.Registerer) *MetricsSink {
	factory := promauto.With(reg)

	return &MetricsSink{
		decisions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "bandwidth",
				Subsystem: "collector",
				Name:      "decisions_total",
				Help:      "Total number of enforcement decisions received",
			},
			[]string{"direction", "action"},
		),
		bytes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "bandwidth",
				Subsystem: "collector",
				Name:      "bytes_total",
				Help:      "Total packet bytes covered by received decisions",
			},
			[]string{"direction", "action"},
		),
		offsets: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "bandwidth",
				Subsystem: "collector",
				Name:      "departure_offset_seconds",
				Help:      "Candidate departure minus now for passed packets",
				Buckets:   []float64{0.0001, 0.001, 0.01, 0.05, 0.1, 0.25, 0.5, 0.75, 1},
			},
			[]string{"direction"},
		),
		lost: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "bandwidth",
				Subsystem: "collector",
				Name:      "lost_samples_total",
				Help:      "Total number of telemetry samples lost before reaching user space",
			},
			[]string{"direction"},
		),
	}
}

// HandleDecision updates the decision metrics.
func (s *MetricsSink) HandleDecision(d Decision) {
	dir := d.Direction.String()
	action := d.Event.ActionString()

	s.decisions.WithLabelValues(dir, action).Inc()
	s.bytes.WithLabelValues(dir, action).Add(float64(d.Event.Length))
	if d.Event.Passed() {
		s.offsets.WithLabelValues(dir).Observe(d.Event.OffsetSeconds())
	}
}

// HandleLost counts lost samples.
func (s *MetricsSink) HandleLost(direction ratelimit.Direction, _ int, count uint64) {
	s.lost.WithLabelValues(direction.String()).Add(float64(count))
}

// RegisterDropped exposes, per direction, the decision events that were
// dropped on a full channel before any reader saw them. lost is read on
// every scrape.
func RegisterDropped(reg prometheus.Registerer, dirs []ratelimit.Direction, lost func(ratelimit.Direction) uint64) {
	factory := promauto.With(reg)
	for _, dir := range dirs {
		dir := dir
		factory.NewCounterFunc(
			prometheus.CounterOpts{
				Namespace:   "bandwidth",
				Subsystem:   "collector",
				Name:        "dropped_events_total",
				Help:        "Total number of decision events dropped on full per-CPU channels",
				ConstLabels: prometheus.Labels{"direction": dir.String()},
			},
			func() float64 { return float64(lost(dir)) },
		)
	}
}

var (
	_ Sink = (*LogSink)(nil)
	_ Sink = (*MetricsSink)(nil)
)
