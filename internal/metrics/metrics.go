// Package metrics holds the Prometheus collectors of the sync server.
//
// Every method is safe on a nil *Metrics so components can run without
// instrumentation in tests.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Config configures the collectors.
type Config struct {
	// Namespace is the metrics namespace (default: "lattice").
	Namespace string

	// Registry is the Prometheus registry to use.
	// Default: prometheus.DefaultRegisterer
	Registry prometheus.Registerer
}

type Metrics struct {
	connections       prometheus.Gauge
	rooms             prometheus.Gauge
	framesTotal       *prometheus.CounterVec
	framesDropped     *prometheus.CounterVec
	updatesAppended   prometheus.Counter
	broadcastFailures prometheus.Counter
	handshakeRejects  *prometheus.CounterVec
	flushesTotal      *prometheus.CounterVec
	flushDuration     prometheus.Histogram
	presenceEntries   prometheus.Gauge
}

func New(cfg Config) *Metrics {
	if cfg.Namespace == "" {
		cfg.Namespace = "lattice"
	}
	if cfg.Registry == nil {
		cfg.Registry = prometheus.DefaultRegisterer
	}
	factory := promauto.With(cfg.Registry)

	return &Metrics{
		connections: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Name:      "connections",
			Help:      "Number of open collaboration connections",
		}),
		rooms: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Name:      "rooms",
			Help:      "Number of rooms held in memory",
		}),
		framesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Name:      "frames_total",
			Help:      "Inbound frames by message type",
		}, []string{"type"}),
		framesDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Name:      "frames_dropped_total",
			Help:      "Inbound frames ignored, by reason",
		}, []string{"reason"}),
		updatesAppended: factory.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Name:      "updates_appended_total",
			Help:      "Updates accepted into document logs",
		}),
		broadcastFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Name:      "broadcast_failures_total",
			Help:      "Frames that could not be queued for a recipient",
		}),
		handshakeRejects: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Name:      "handshake_rejects_total",
			Help:      "Connections closed at handshake, by reason",
		}, []string{"reason"}),
		flushesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Name:      "flushes_total",
			Help:      "Persistence flushes by result",
		}, []string{"result"}),
		flushDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: cfg.Namespace,
			Name:      "flush_duration_seconds",
			Help:      "Time spent writing one room to the content store",
			Buckets:   prometheus.DefBuckets,
		}),
		presenceEntries: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Name:      "presence_entries",
			Help:      "Editors currently tracked across rooms",
		}),
	}
}

func (m *Metrics) ConnectionOpened() {
	if m == nil {
		return
	}
	m.connections.Inc()
}

func (m *Metrics) ConnectionClosed() {
	if m == nil {
		return
	}
	m.connections.Dec()
}

func (m *Metrics) SetRooms(n int) {
	if m == nil {
		return
	}
	m.rooms.Set(float64(n))
}

func (m *Metrics) Frame(msgType string) {
	if m == nil {
		return
	}
	m.framesTotal.WithLabelValues(msgType).Inc()
}

func (m *Metrics) FrameDropped(reason string) {
	if m == nil {
		return
	}
	m.framesDropped.WithLabelValues(reason).Inc()
}

func (m *Metrics) UpdateAppended() {
	if m == nil {
		return
	}
	m.updatesAppended.Inc()
}

func (m *Metrics) BroadcastFailed(n int) {
	if m == nil || n == 0 {
		return
	}
	m.broadcastFailures.Add(float64(n))
}

func (m *Metrics) HandshakeRejected(reason string) {
	if m == nil {
		return
	}
	m.handshakeRejects.WithLabelValues(reason).Inc()
}

// Flush records one flush attempt. result is "ok", "error", "skipped" or
// "dropped"; only "ok" and "error" observe a duration.
func (m *Metrics) Flush(result string, seconds float64) {
	if m == nil {
		return
	}
	m.flushesTotal.WithLabelValues(result).Inc()
	if result == "ok" || result == "error" {
		m.flushDuration.Observe(seconds)
	}
}

func (m *Metrics) SetPresenceEntries(n int) {
	if m == nil {
		return
	}
	m.presenceEntries.Set(float64(n))
}
