package ws

import (
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/manpreetbhatti/lattice-sync/internal/ratelimit"
	"github.com/manpreetbhatti/lattice-sync/internal/room"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	sendBuffer = 512

	// violations before a flooding client is disconnected
	maxRateViolations = 1000
)

var (
	ErrSendBufferFull = errors.New("send buffer full")
	ErrClosed         = errors.New("connection closed")
)

// Client is one websocket session. Frames are queued on send and written
// by writePump; readPump hands inbound frames to the gateway's handler.
type Client struct {
	gateway *Gateway
	conn    *websocket.Conn
	room    *room.Room
	limiter *ratelimit.Limiter

	id          string
	roomID      string
	userID      string
	userName    string
	connectedAt time.Time

	send      chan []byte
	done      chan struct{}
	open      atomic.Bool
	closeOnce sync.Once
	closeMsg  []byte
}

func newClient(g *Gateway, conn *websocket.Conn, hs Handshake) *Client {
	c := &Client{
		gateway:     g,
		conn:        conn,
		id:          uuid.New().String(),
		roomID:      hs.RoomID,
		userID:      hs.UserID,
		userName:    hs.UserName,
		connectedAt: time.Now(),
		send:        make(chan []byte, sendBuffer),
		done:        make(chan struct{}),
	}
	c.open.Store(true)
	return c
}

func (c *Client) ID() string       { return c.id }
func (c *Client) UserID() string   { return c.userID }
func (c *Client) UserName() string { return c.userName }
func (c *Client) Open() bool       { return c.open.Load() }

// Send queues a frame. A client whose buffer is full is too slow to keep
// up with the room and is disconnected.
func (c *Client) Send(frame []byte) error {
	if !c.open.Load() {
		return ErrClosed
	}
	select {
	case c.send <- frame:
		return nil
	default:
		c.closeWith(websocket.CloseTryAgainLater, "send buffer full")
		return ErrSendBufferFull
	}
}

// Close stops the write loop, which sends a close frame and tears down the
// socket. The read loop then exits and the gateway unregisters the client.
func (c *Client) Close() error {
	c.closeWith(websocket.CloseNormalClosure, "")
	return nil
}

func (c *Client) closeWith(code int, text string) {
	c.closeOnce.Do(func() {
		c.closeMsg = websocket.FormatCloseMessage(code, text)
		c.open.Store(false)
		close(c.done)
	})
}

func (c *Client) readPump() {
	// unregister closes the client; writePump then closes the socket.
	defer c.gateway.unregister(c)

	c.conn.SetReadLimit(c.gateway.config.MaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		c.gateway.tracker.Heartbeat(c.id, c.userID)
		return nil
	})

	rateLimitWarnings := 0

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				slog.Warn("websocket read error", "conn", c.id, "room", c.roomID, "error", err)
			}
			return
		}

		if !c.limiter.Allow() {
			rateLimitWarnings++
			c.gateway.metrics.FrameDropped("rate_limited")
			if rateLimitWarnings%100 == 1 {
				slog.Warn("rate limit exceeded", "conn", c.id, "room", c.roomID, "user", c.userID, "warnings", rateLimitWarnings)
			}
			if rateLimitWarnings > maxRateViolations {
				slog.Warn("disconnecting client for excessive rate limit violations", "conn", c.id, "user", c.userID)
				c.closeWith(websocket.ClosePolicyViolation, "rate limit exceeded")
				return
			}
			continue
		}

		c.gateway.tracker.Heartbeat(c.id, c.userID)
		c.gateway.handler.Handle(c.room, c, message)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			w, err := c.conn.NextWriter(websocket.BinaryMessage)
			if err != nil {
				c.closeWith(websocket.CloseAbnormalClosure, "")
				return
			}
			w.Write(message)

			if err := w.Close(); err != nil {
				c.closeWith(websocket.CloseAbnormalClosure, "")
				return
			}

		case <-c.done:
			c.conn.WriteControl(websocket.CloseMessage, c.closeMsg, time.Now().Add(writeWait))
			return

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.closeWith(websocket.CloseAbnormalClosure, "")
				return
			}
		}
	}
}
