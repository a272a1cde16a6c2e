package ws

import (
	"encoding/json"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/manpreetbhatti/lattice-sync/internal/metrics"
	"github.com/manpreetbhatti/lattice-sync/internal/presence"
	"github.com/manpreetbhatti/lattice-sync/internal/room"
)

type handlerFixture struct {
	handler *Handler
	tracker *presence.Tracker
	reg     *prometheus.Registry
	rm      *room.Room
	a, b    *mockConn
}

func newHandlerFixture(t *testing.T) *handlerFixture {
	t.Helper()
	tracker := presence.NewTracker()
	reg := prometheus.NewRegistry()
	m := metrics.New(metrics.Config{Registry: reg})
	registry := room.NewRegistry()

	f := &handlerFixture{
		handler: NewHandler(tracker, m),
		tracker: tracker,
		reg:     reg,
		a:       newMockConn("a"),
		b:       newMockConn("b"),
	}
	f.rm = registry.Join("42", f.a)
	registry.Join("42", f.b)
	return f
}

func TestHandleUpdateFansOutToOthers(t *testing.T) {
	f := newHandlerFixture(t)

	f.handler.Handle(f.rm, f.a, []byte{0x00, 0x02, 0x01, 0x02})

	assert.Equal(t, [][]byte{{0x00, 0x02, 0x01, 0x02}}, f.b.Frames())
	assert.Empty(t, f.a.Frames())
	assert.Equal(t, uint64(1), f.rm.Document().Version())
	assert.True(t, f.rm.Dirty())
}

func (f *handlerFixture) counter(t *testing.T, name string) float64 {
	t.Helper()
	families, err := f.reg.Gather()
	require.NoError(t, err)
	for _, family := range families {
		if family.GetName() == name {
			return family.GetMetric()[0].GetCounter().GetValue()
		}
	}
	return 0
}

func TestHandleCountsBroadcastFailures(t *testing.T) {
	f := newHandlerFixture(t)
	f.b.mu.Lock()
	f.b.fail = true
	f.b.mu.Unlock()

	f.handler.Handle(f.rm, f.a, []byte{0x00, 0x02, 0x01})
	assert.Equal(t, 1.0, f.counter(t, "lattice_broadcast_failures_total"))

	f.handler.Handle(f.rm, f.a, []byte{0x01, 0x10})
	assert.Equal(t, 2.0, f.counter(t, "lattice_broadcast_failures_total"))
	assert.Equal(t, uint64(1), f.rm.Document().Version())
}

func TestHandleIgnoresBadFrames(t *testing.T) {
	frames := map[string][]byte{
		"empty":             {},
		"one byte sync":     {0x00},
		"empty update":      {0x00, 0x02},
		"unknown type":      {0x09, 0x01},
		"unknown sync step": {0x00, 0x07, 0x01},
		"client step2":      {0x00, 0x01, 0x05},
		"empty awareness":   {0x01},
		"auth":              {0x02, 0x01},
	}

	for name, frame := range frames {
		t.Run(name, func(t *testing.T) {
			f := newHandlerFixture(t)

			f.handler.Handle(f.rm, f.a, frame)

			assert.Empty(t, f.a.Frames())
			assert.Empty(t, f.b.Frames())
			assert.True(t, f.a.Open())
			assert.Zero(t, f.rm.Document().Version())
			assert.False(t, f.rm.Dirty())
		})
	}
}

func TestHandleStep1SendsHistory(t *testing.T) {
	f := newHandlerFixture(t)
	f.handler.Handle(f.rm, f.a, []byte{0x00, 0x02, 0x01})
	f.handler.Handle(f.rm, f.a, []byte{0x00, 0x02, 0x02})
	f.handler.Handle(f.rm, f.b, []byte{0x00, 0x02, 0x03})

	late := newMockConn("c")
	f.handler.Handle(f.rm, late, []byte{0x00, 0x00, 0xAA})

	assert.Equal(t, [][]byte{
		{0x00, 0x01},
		{0x00, 0x02, 0x01},
		{0x00, 0x02, 0x02},
		{0x00, 0x02, 0x03},
	}, late.Frames())
	assert.Equal(t, []byte{0xAA}, f.rm.Document().StateVector())
}

func TestHandleAwarenessRelaysFrame(t *testing.T) {
	f := newHandlerFixture(t)

	f.handler.Handle(f.rm, f.a, []byte{0x01, 0x10, 0x20})

	assert.Equal(t, [][]byte{{0x01, 0x10, 0x20}}, f.b.Frames())
	assert.Empty(t, f.a.Frames())
	assert.Zero(t, f.rm.Document().Version())
	assert.False(t, f.rm.Dirty())
}

func TestHandleQueryAwarenessReturnsRoster(t *testing.T) {
	f := newHandlerFixture(t)
	f.tracker.StartEditing("42", "a", "user-a", "User a")
	f.tracker.StartEditing("42", "b", "user-b", "User b")
	f.tracker.StartEditing("7", "c", "user-c", "User c")

	f.handler.Handle(f.rm, f.a, []byte{0x03})

	frames := f.a.Frames()
	require.Len(t, frames, 1)
	assert.Equal(t, byte(0x03), frames[0][0])

	var roster []presence.Entry
	require.NoError(t, json.Unmarshal(frames[0][1:], &roster))
	require.Len(t, roster, 2)
	assert.Equal(t, "user-a", roster[0].UserID)
	assert.Equal(t, "user-b", roster[1].UserID)
	assert.Empty(t, f.b.Frames())
}
