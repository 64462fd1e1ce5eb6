package middleware

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/rembraille/rembraille/pkg/protocol"
	"github.com/rembraille/rembraille/pkg/transport"
)

// MetricsConfig configures the Prometheus metrics middleware.
type MetricsConfig struct {
	// Namespace is the metrics namespace (default: "rembraille").
	Namespace string

	// Subsystem is the metrics subsystem (default: "").
	Subsystem string

	// ConstLabels are constant labels added to all metrics.
	ConstLabels prometheus.Labels

	// Buckets are the histogram buckets for dispatch duration.
	// Default: prometheus.DefBuckets
	Buckets []float64

	// Registry is the Prometheus registry to use.
	// Default: prometheus.DefaultRegisterer
	Registry prometheus.Registerer
}

// MetricsOption configures the Prometheus metrics middleware.
type MetricsOption func(*MetricsConfig)

// WithNamespace sets the metrics namespace.
func WithNamespace(namespace string) MetricsOption {
	return func(c *MetricsConfig) {
		c.Namespace = namespace
	}
}

// WithSubsystem sets the metrics subsystem.
func WithSubsystem(subsystem string) MetricsOption {
	return func(c *MetricsConfig) {
		c.Subsystem = subsystem
	}
}

// WithConstLabels sets constant labels for all metrics.
func WithConstLabels(labels prometheus.Labels) MetricsOption {
	return func(c *MetricsConfig) {
		c.ConstLabels = labels
	}
}

// WithBuckets sets the histogram buckets.
func WithBuckets(buckets []float64) MetricsOption {
	return func(c *MetricsConfig) {
		c.Buckets = buckets
	}
}

// WithRegistry sets the Prometheus registry.
func WithRegistry(registry prometheus.Registerer) MetricsOption {
	return func(c *MetricsConfig) {
		c.Registry = registry
	}
}

func defaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		Namespace: "rembraille",
		Buckets:   prometheus.DefBuckets,
		Registry:  prometheus.DefaultRegisterer,
	}
}

// metrics holds the Prometheus metrics for a RemBraille endpoint.
type metrics struct {
	framesReceived    *prometheus.CounterVec
	framesSent        *prometheus.CounterVec
	bytesReceived     prometheus.Counter
	bytesSent         prometheus.Counter
	dispatchDuration  *prometheus.HistogramVec
	dispatchErrors    *prometheus.CounterVec
	keyEventsSent     prometheus.Counter
	cellsWritten      prometheus.Counter
	activeLinks       prometheus.Gauge
	reconnectsTotal   prometheus.Counter
	keepaliveTimeouts prometheus.Counter
}

// globalMetrics is the singleton metrics instance, created on first
// call to Prometheus().
var (
	globalMetrics   *metrics
	globalMetricsMu sync.Mutex
)

func initMetrics(config MetricsConfig) *metrics {
	factory := promauto.With(config.Registry)

	return &metrics{
		framesReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "frames_received_total",
			Help:        "Total number of frames dispatched, by message type and status",
			ConstLabels: config.ConstLabels,
		}, []string{"type", "status"}),

		framesSent: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "frames_sent_total",
			Help:        "Total number of frames sent, by message type",
			ConstLabels: config.ConstLabels,
		}, []string{"type"}),

		bytesReceived: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "bytes_received_total",
			Help:        "Total wire bytes received over finished sessions",
			ConstLabels: config.ConstLabels,
		}),

		bytesSent: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "bytes_sent_total",
			Help:        "Total wire bytes sent over finished sessions",
			ConstLabels: config.ConstLabels,
		}),

		dispatchDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "dispatch_duration_seconds",
			Help:        "Message dispatch duration in seconds, by message type",
			ConstLabels: config.ConstLabels,
			Buckets:     config.Buckets,
		}, []string{"type"}),

		dispatchErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "dispatch_errors_total",
			Help:        "Total number of handler errors, by message type",
			ConstLabels: config.ConstLabels,
		}, []string{"type"}),

		keyEventsSent: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "key_events_sent_total",
			Help:        "Total number of key events forwarded to guests",
			ConstLabels: config.ConstLabels,
		}),

		cellsWritten: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "cells_written_total",
			Help:        "Total number of braille cells written to the display",
			ConstLabels: config.ConstLabels,
		}),

		activeLinks: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "active_links",
			Help:        "Number of live protocol sessions",
			ConstLabels: config.ConstLabels,
		}),

		reconnectsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "reconnects_total",
			Help:        "Total number of link reconnections",
			ConstLabels: config.ConstLabels,
		}),

		keepaliveTimeouts: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "keepalive_timeouts_total",
			Help:        "Total number of sessions dropped by the keepalive monitor",
			ConstLabels: config.ConstLabels,
		}),
	}
}

// Prometheus creates dispatch middleware that collects Prometheus
// metrics for every inbound message.
//
// Metrics collected:
//   - rembraille_frames_received_total: Counter by message type and status
//   - rembraille_frames_sent_total: Counter by message type, fed by RecordFrameSent
//   - rembraille_bytes_received_total / _sent_total: Counters fed by RecordLinkTraffic
//   - rembraille_dispatch_duration_seconds: Histogram of handler latency
//   - rembraille_dispatch_errors_total: Counter of handler errors by type
//   - rembraille_key_events_sent_total: Counter fed by RecordKeyEvent
//   - rembraille_cells_written_total: Counter fed by RecordCells
//   - rembraille_active_links: Gauge fed by RecordLinkUp/RecordLinkDown
//   - rembraille_reconnects_total: Counter fed by RecordReconnect
//   - rembraille_keepalive_timeouts_total: Counter fed by RecordKeepaliveTimeout
//
// Example:
//
//	d := transport.NewDispatcher(logger)
//	d.Use(middleware.Prometheus())
//
//	http.Handle("/metrics", promhttp.Handler())
func Prometheus(opts ...MetricsOption) transport.Middleware {
	config := defaultMetricsConfig()
	for _, opt := range opts {
		opt(&config)
	}

	globalMetricsMu.Lock()
	if globalMetrics == nil {
		globalMetrics = initMetrics(config)
	}
	m := globalMetrics
	globalMetricsMu.Unlock()

	return func(next transport.Handler) transport.Handler {
		return func(msg protocol.Message) error {
			mt := msg.MessageType().String()

			start := time.Now()
			err := next(msg)
			m.dispatchDuration.WithLabelValues(mt).Observe(time.Since(start).Seconds())

			status := "success"
			if err != nil {
				status = "error"
				m.dispatchErrors.WithLabelValues(mt).Inc()
			}
			m.framesReceived.WithLabelValues(mt, status).Inc()

			return err
		}
	}
}

// RecordFrameSent records one outbound frame of the given type.
func RecordFrameSent(t protocol.MessageType) {
	if globalMetrics != nil {
		globalMetrics.framesSent.WithLabelValues(t.String()).Inc()
	}
}

// RecordLinkTraffic folds a finished session's wire byte counts into
// the totals.
func RecordLinkTraffic(sent, received int64) {
	if globalMetrics != nil {
		globalMetrics.bytesSent.Add(float64(sent))
		globalMetrics.bytesReceived.Add(float64(received))
	}
}

// RecordKeyEvent records a key event forwarded to the guest.
func RecordKeyEvent() {
	if globalMetrics != nil {
		globalMetrics.keyEventsSent.Inc()
	}
}

// RecordCells records cells written to the physical display.
func RecordCells(count int) {
	if globalMetrics != nil {
		globalMetrics.cellsWritten.Add(float64(count))
	}
}

// RecordLinkUp records a session becoming live.
func RecordLinkUp() {
	if globalMetrics != nil {
		globalMetrics.activeLinks.Inc()
	}
}

// RecordLinkDown records a session ending.
func RecordLinkDown() {
	if globalMetrics != nil {
		globalMetrics.activeLinks.Dec()
	}
}

// RecordReconnect records a successful link reconnection.
func RecordReconnect() {
	if globalMetrics != nil {
		globalMetrics.reconnectsTotal.Inc()
	}
}

// RecordKeepaliveTimeout records a session dropped for an unanswered
// ping.
func RecordKeepaliveTimeout() {
	if globalMetrics != nil {
		globalMetrics.keepaliveTimeouts.Inc()
	}
}
