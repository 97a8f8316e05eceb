package server

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/tecu23/scoreboard/pkg/transport"
)

// Connection is one slave attached to the hub
type Connection struct {
	ID          uuid.UUID
	RemoteAddr  string
	ConnectedAt time.Time

	ws   *websocket.Conn // The underlying Websocket connection
	hub  *Hub
	send chan []byte // Buffered channel of outbound messages.

	closed    chan struct{} // closed once the connection is done
	closeOnce sync.Once
	missed    atomic.Int32 // consecutive skipped updates
	lastSeen  atomic.Int64 // unix nanos of the last frame from the peer

	logger *zap.Logger
}

func NewConnection(ws *websocket.Conn, hub *Hub, logger *zap.Logger) *Connection {
	c := &Connection{
		ID:          uuid.New(),
		ConnectedAt: time.Now(),
		ws:          ws,
		hub:         hub,
		send:        make(chan []byte, hub.config.SendBuffer),
		closed:      make(chan struct{}),
		logger:      logger,
	}
	if ws != nil {
		c.RemoteAddr = ws.RemoteAddr().String()
	}
	c.touch()
	return c
}

// LastSeen returns when the peer last sent a frame or pong.
func (c *Connection) LastSeen() time.Time {
	return time.Unix(0, c.lastSeen.Load())
}

// Dead reports whether the connection has been closed.
func (c *Connection) Dead() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

func (c *Connection) touch() {
	c.lastSeen.Store(time.Now().UnixNano())
}

// enqueue hands msg to the write pump without blocking.
func (c *Connection) enqueue(msg []byte) bool {
	if c.Dead() {
		return false
	}
	select {
	case c.send <- msg:
		c.missed.Store(0)
		return true
	default:
		return false
	}
}

// shutdown asks the write pump to send a close frame and stop.
func (c *Connection) shutdown() {
	c.closeOnce.Do(func() { close(c.closed) })
}

// kill marks the connection dead and tears down the socket.
func (c *Connection) kill() {
	c.shutdown()
	if c.ws != nil {
		c.ws.Close()
	}
}

// ReadPump handles inbound frames from the slave. Slaves never send
// updates, so reading only keeps the deadline and liveness current.
func (c *Connection) ReadPump() {
	defer func() {
		c.hub.Unregister(c)
		c.kill()
	}()

	cfg := c.hub.config
	c.ws.SetReadLimit(cfg.MaxMessageSize)
	c.ws.SetReadDeadline(time.Now().Add(cfg.ReadTimeout))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(cfg.ReadTimeout))
		c.touch()
		return nil
	})

	for {
		_, msg, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) && !c.Dead() {
				c.logger.Warn("peer read failed",
					zap.String("connection_id", c.ID.String()),
					zap.Error(&transport.Error{Op: "receive", Addr: c.RemoteAddr, Err: err}),
				)
			}
			return
		}

		c.touch()
		c.ws.SetReadDeadline(time.Now().Add(cfg.ReadTimeout))
		c.logger.Debug("ignoring frame from slave",
			zap.String("connection_id", c.ID.String()),
			zap.Int("bytes", len(msg)),
		)
	}
}

// WritePump handles outbound messages to the slave
func (c *Connection) WritePump() {
	cfg := c.hub.config
	ticker := time.NewTicker(cfg.PingInterval)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case <-c.closed:
			c.ws.SetWriteDeadline(time.Now().Add(cfg.WriteTimeout))
			c.ws.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "master shutting down"))
			return

		case msg := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(cfg.WriteTimeout))
			if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.logger.Warn("peer write failed, marking dead",
					zap.String("connection_id", c.ID.String()),
					zap.Error(&transport.Error{Op: "send", Addr: c.RemoteAddr, Err: err}),
				)
				c.kill()
				return
			}

		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(cfg.WriteTimeout))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.logger.Debug("ping failed",
					zap.String("connection_id", c.ID.String()),
					zap.Error(err),
				)
				c.kill()
				return
			}
		}
	}
}
