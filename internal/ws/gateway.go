// Package ws accepts y-websocket connections and routes their frames into
// rooms.
package ws

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/manpreetbhatti/lattice-sync/internal/metrics"
	"github.com/manpreetbhatti/lattice-sync/internal/presence"
	"github.com/manpreetbhatti/lattice-sync/internal/ratelimit"
	"github.com/manpreetbhatti/lattice-sync/internal/room"
)

type Config struct {
	// ReservedSegments are path segments that never name a room.
	ReservedSegments []string
	// AllowedOrigins holds host patterns in path.Match syntax, such as
	// "localhost:*". Empty allows every origin.
	AllowedOrigins    []string
	MaxMessageSize    int64
	MessagesPerSecond float64
	MessageBurst      int
}

func DefaultConfig() Config {
	return Config{
		ReservedSegments:  []string{"yjs", "ws", "collaborative"},
		MaxMessageSize:    1024 * 1024,
		MessagesPerSecond: 100,
		MessageBurst:      200,
	}
}

// Gateway is the http.Handler for websocket upgrades.
type Gateway struct {
	upgrader websocket.Upgrader
	rooms    *room.Registry
	tracker  *presence.Tracker
	handler  *Handler
	limiters *ratelimit.ClientLimiters
	metrics  *metrics.Metrics
	config   Config

	// clients counts registered clients until they unregister.
	clients sync.WaitGroup
}

func NewGateway(rooms *room.Registry, tracker *presence.Tracker, m *metrics.Metrics, config Config) *Gateway {
	g := &Gateway{
		rooms:    rooms,
		tracker:  tracker,
		handler:  NewHandler(tracker, m),
		limiters: ratelimit.NewClientLimiters(config.MessagesPerSecond, config.MessageBurst),
		metrics:  m,
		config:   config,
	}
	g.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     g.checkOrigin,
	}
	return g
}

func (g *Gateway) checkOrigin(r *http.Request) bool {
	if len(g.config.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	for _, pattern := range g.config.AllowedOrigins {
		if ok, _ := path.Match(pattern, u.Host); ok {
			return true
		}
	}
	slog.Warn("rejecting websocket origin", "origin", origin)
	return false
}

func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.metrics.HandshakeRejected("upgrade")
		slog.Warn("upgrade error", "remote", r.RemoteAddr, "error", err)
		return
	}

	hs, err := ParseTarget(r.URL, g.config.ReservedSegments)
	if err != nil {
		g.reject(conn, hs, err)
		return
	}

	c := newClient(g, conn, hs)
	g.register(c)

	go c.writePump()
	go c.readPump()
}

func (g *Gateway) reject(conn *websocket.Conn, hs Handshake, err error) {
	reason := "missing_user"
	if errors.Is(err, ErrMissingRoom) {
		reason = "missing_room"
	}
	g.metrics.HandshakeRejected(reason)
	slog.Warn("rejecting websocket handshake", "room", hs.RoomID, "user", hs.UserID, "error", err)

	msg := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, err.Error())
	conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
	conn.Close()
}

// Wait blocks until every registered client has unregistered, and so left
// its room, or ctx is done.
func (g *Gateway) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		g.clients.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (g *Gateway) register(c *Client) {
	g.clients.Add(1)
	c.limiter = g.limiters.Acquire(c.userID)
	c.room = g.rooms.Join(c.roomID, c)
	g.tracker.StartEditing(c.roomID, c.id, c.userID, c.userName)

	g.metrics.ConnectionOpened()
	g.updateGauges()
}

func (g *Gateway) unregister(c *Client) {
	c.Close()
	g.rooms.Leave(c.roomID, c)
	g.tracker.RemoveSession(c.id)
	g.limiters.Release(c.userID)

	g.metrics.ConnectionClosed()
	g.updateGauges()
	slog.Debug("client disconnected", "conn", c.id, "room", c.roomID, "user", c.userID, "duration", time.Since(c.connectedAt))
	g.clients.Done()
}

func (g *Gateway) updateGauges() {
	rooms, _ := g.rooms.Stats()
	g.metrics.SetRooms(rooms)
	g.metrics.SetPresenceEntries(g.tracker.Count())
}
