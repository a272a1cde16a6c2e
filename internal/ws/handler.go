package ws

import (
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/manpreetbhatti/lattice-sync/internal/metrics"
	"github.com/manpreetbhatti/lattice-sync/internal/presence"
	"github.com/manpreetbhatti/lattice-sync/internal/protocol"
	"github.com/manpreetbhatti/lattice-sync/internal/room"
)

// Handler applies one inbound frame to a room. Malformed and unknown
// frames are dropped; the connection stays open.
type Handler struct {
	tracker *presence.Tracker
	metrics *metrics.Metrics
}

func NewHandler(tracker *presence.Tracker, m *metrics.Metrics) *Handler {
	return &Handler{tracker: tracker, metrics: m}
}

func (h *Handler) Handle(rm *room.Room, c room.Conn, frame []byte) {
	msg, err := protocol.Decode(frame)
	if err != nil {
		h.drop(rm, c, err)
		return
	}
	h.metrics.Frame(msg.Type.String())

	switch msg.Type {
	case protocol.MessageTypeSync:
		h.handleSync(rm, c, msg)
	case protocol.MessageTypeAwareness:
		if len(msg.Payload) == 0 {
			h.metrics.FrameDropped("empty")
			return
		}
		// relayed as received, awareness state is never stored
		_, failed := rm.Broadcast(c, frame)
		h.metrics.BroadcastFailed(failed)
	case protocol.MessageTypeAuth:
		slog.Debug("auth message", "room", rm.ID, "conn", c.ID(), "user", c.UserID(), "bytes", len(msg.Payload))
	case protocol.MessageTypeQueryAwareness:
		h.sendRoster(rm, c)
	}
}

func (h *Handler) handleSync(rm *room.Room, c room.Conn, msg protocol.Message) {
	switch msg.SyncStep {
	case protocol.SyncStep1:
		sent, err := rm.CatchUp(c, msg.Payload)
		if err != nil {
			slog.Warn("catch-up failed", "room", rm.ID, "conn", c.ID(), "sent", sent, "error", err)
			return
		}
		slog.Debug("sent catch-up", "room", rm.ID, "conn", c.ID(), "updates", sent)
	case protocol.SyncStep2:
		// server to client only
		slog.Debug("ignoring client step2", "room", rm.ID, "conn", c.ID())
	case protocol.SyncUpdate:
		if len(msg.Payload) == 0 {
			h.metrics.FrameDropped("empty")
			return
		}
		version, delivered, failed := rm.ApplyUpdate(c, msg.Payload)
		h.metrics.UpdateAppended()
		h.metrics.BroadcastFailed(failed)
		slog.Debug("update applied", "room", rm.ID, "conn", c.ID(), "version", version, "delivered", delivered)
	}
}

func (h *Handler) sendRoster(rm *room.Room, c room.Conn) {
	payload, err := json.Marshal(h.tracker.Roster(rm.ID))
	if err != nil {
		slog.Error("encode roster", "room", rm.ID, "error", err)
		return
	}
	frame := protocol.Encode(protocol.Message{Type: protocol.MessageTypeQueryAwareness, Payload: payload})
	if err := c.Send(frame); err != nil {
		slog.Warn("send roster failed", "room", rm.ID, "conn", c.ID(), "error", err)
	}
}

func (h *Handler) drop(rm *room.Room, c room.Conn, err error) {
	switch {
	case errors.Is(err, protocol.ErrUnknownType), errors.Is(err, protocol.ErrUnknownSyncStep):
		h.metrics.FrameDropped("unknown")
		slog.Warn("ignoring unknown message", "room", rm.ID, "conn", c.ID(), "error", err)
	default:
		h.metrics.FrameDropped("malformed")
		slog.Debug("ignoring malformed frame", "room", rm.ID, "conn", c.ID(), "error", err)
	}
}
