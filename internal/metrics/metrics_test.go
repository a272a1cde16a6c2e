package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// gathered returns the value of the series name{label=value}. Pass empty
// label for unlabeled series.
func gathered(t *testing.T, reg *prometheus.Registry, name, label, value string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
		for _, m := range f.GetMetric() {
			if label != "" {
				matched := false
				for _, lp := range m.GetLabel() {
					if lp.GetName() == label && lp.GetValue() == value {
						matched = true
					}
				}
				if !matched {
					continue
				}
			}
			switch {
			case m.GetCounter() != nil:
				return m.GetCounter().GetValue()
			case m.GetGauge() != nil:
				return m.GetGauge().GetValue()
			case m.GetHistogram() != nil:
				return float64(m.GetHistogram().GetSampleCount())
			}
		}
	}
	t.Fatalf("series %s{%s=%q} not found", name, label, value)
	return 0
}

func TestCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(Config{Registry: reg})

	m.ConnectionOpened()
	m.ConnectionOpened()
	m.ConnectionClosed()
	m.Frame("sync")
	m.Frame("sync")
	m.FrameDropped("short_sync")
	m.UpdateAppended()
	m.BroadcastFailed(2)
	m.BroadcastFailed(0)
	m.Flush("ok", 0.01)
	m.Flush("skipped", 0)
	m.Flush("dropped", 0)
	m.SetRooms(3)

	assert.Equal(t, 1.0, gathered(t, reg, "lattice_connections", "", ""))
	assert.Equal(t, 3.0, gathered(t, reg, "lattice_rooms", "", ""))
	assert.Equal(t, 2.0, gathered(t, reg, "lattice_frames_total", "type", "sync"))
	assert.Equal(t, 1.0, gathered(t, reg, "lattice_frames_dropped_total", "reason", "short_sync"))
	assert.Equal(t, 2.0, gathered(t, reg, "lattice_broadcast_failures_total", "", ""))
	assert.Equal(t, 1.0, gathered(t, reg, "lattice_flushes_total", "result", "skipped"))
	assert.Equal(t, 1.0, gathered(t, reg, "lattice_flushes_total", "result", "dropped"))
	assert.Equal(t, 1.0, gathered(t, reg, "lattice_flush_duration_seconds", "", ""))
}

func TestNamespace(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(Config{Namespace: "wiki", Registry: reg})
	m.UpdateAppended()

	assert.Equal(t, 1.0, gathered(t, reg, "wiki_updates_appended_total", "", ""))
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.ConnectionOpened()
	m.Frame("sync")
	m.Flush("error", 1)
	m.SetPresenceEntries(1)
	m.HandshakeRejected("missing_room")
}
