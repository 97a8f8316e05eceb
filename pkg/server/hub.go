package server

import (
	"context"
	"errors"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sasha-s/go-deadlock"
	"go.uber.org/zap"

	"github.com/tecu23/scoreboard/pkg/events"
)

// ErrHubClosed is returned when registering with a hub that has shut down.
var ErrHubClosed = errors.New("hub closed")

// Config holds the per-connection limits of the hub
type Config struct {
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	PingInterval   time.Duration
	MaxMessageSize int64
	SendBuffer     int // queued updates per peer
	MaxMissedSends int // consecutive full-buffer skips before a peer is dropped
	ReapInterval   time.Duration
}

// DefaultConfig returns the limits used when none are configured.
func DefaultConfig() Config {
	return Config{
		ReadTimeout:    60 * time.Second,
		WriteTimeout:   10 * time.Second,
		PingInterval:   30 * time.Second,
		MaxMessageSize: 4096,
		SendBuffer:     32,
		MaxMissedSends: 3,
		ReapInterval:   5 * time.Second,
	}
}

// SnapshotFunc returns the serialized full state pushed to every new peer.
type SnapshotFunc func() ([]byte, error)

// Hub keeps track of all slave connections of a unicast master. Every
// update is fanned out to all of them; a new connection first receives a
// full snapshot.
type Hub struct {
	mu          deadlock.RWMutex     // protects connections
	connections map[*Connection]bool // registered connections

	register   chan *Connection
	unregister chan *Connection
	done       chan struct{}

	snapshot  SnapshotFunc
	config    Config
	publisher *events.Publisher
	logger    *zap.Logger
}

// NewHub creates a new hub
func NewHub(config Config, snapshot SnapshotFunc, publisher *events.Publisher, logger *zap.Logger) *Hub {
	if config.SendBuffer <= 0 {
		config.SendBuffer = 1
	}
	if config.MaxMissedSends <= 0 {
		config.MaxMissedSends = 1
	}
	if config.ReapInterval <= 0 {
		config.ReapInterval = DefaultConfig().ReapInterval
	}

	return &Hub{
		connections: make(map[*Connection]bool),
		register:    make(chan *Connection),
		unregister:  make(chan *Connection),
		done:        make(chan struct{}),
		snapshot:    snapshot,
		config:      config,
		publisher:   publisher,
		logger:      logger,
	}
}

// Run is the main execution of the hub. It returns after ctx is done and
// every connection has been asked to close.
func (h *Hub) Run(ctx context.Context) error {
	reap := time.NewTicker(h.config.ReapInterval)
	defer reap.Stop()

	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			close(h.done)
			return nil

		case conn := <-h.register:
			h.registerConnection(conn)

		case conn := <-h.unregister:
			h.unregisterConnection(conn)

		case <-reap.C:
			h.reap()
		}
	}
}

// Accept registers an upgraded websocket and starts its pumps.
func (h *Hub) Accept(ws *websocket.Conn) (*Connection, error) {
	conn := NewConnection(ws, h, h.logger)
	if err := h.Register(conn); err != nil {
		ws.Close()
		return nil, err
	}

	go conn.WritePump()
	go conn.ReadPump()
	return conn, nil
}

func (h *Hub) Register(conn *Connection) error {
	select {
	case h.register <- conn:
		return nil
	case <-h.done:
		return ErrHubClosed
	}
}

func (h *Hub) Unregister(conn *Connection) {
	select {
	case h.unregister <- conn:
	case <-h.done:
	}
}

// Broadcast queues msg on every live connection without blocking. A peer
// whose buffer is full skips this message; one that stays full for
// MaxMissedSends messages in a row is dropped.
func (h *Hub) Broadcast(msg []byte) {
	// Copy the set so a slow peer never holds the lock
	h.mu.RLock()
	targets := make([]*Connection, 0, len(h.connections))
	for conn := range h.connections {
		targets = append(targets, conn)
	}
	h.mu.RUnlock()

	for _, conn := range targets {
		if conn.enqueue(msg) || conn.Dead() {
			continue
		}

		missed := int(conn.missed.Add(1))
		if missed >= h.config.MaxMissedSends {
			h.logger.Warn("peer too slow, dropping connection",
				zap.String("connection_id", conn.ID.String()),
				zap.String("remote_addr", conn.RemoteAddr),
				zap.Int("missed", missed),
			)
			conn.kill()
			continue
		}
		h.logger.Debug("peer send buffer full, skipping update",
			zap.String("connection_id", conn.ID.String()),
			zap.Int("missed", missed),
		)
	}
}

// Count returns the number of registered connections.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connections)
}

// PeerInfo describes one connected slave
type PeerInfo struct {
	ID          string    `json:"id"`
	RemoteAddr  string    `json:"remote_addr"`
	ConnectedAt time.Time `json:"connected_at"`
	LastSeen    time.Time `json:"last_seen"`
}

// Peers lists the registered connections.
func (h *Hub) Peers() []PeerInfo {
	h.mu.RLock()
	defer h.mu.RUnlock()

	peers := make([]PeerInfo, 0, len(h.connections))
	for conn := range h.connections {
		peers = append(peers, PeerInfo{
			ID:          conn.ID.String(),
			RemoteAddr:  conn.RemoteAddr,
			ConnectedAt: conn.ConnectedAt,
			LastSeen:    conn.LastSeen(),
		})
	}
	return peers
}

func (h *Hub) registerConnection(conn *Connection) {
	h.mu.Lock()
	// The snapshot is queued before the connection joins the live set, so
	// it always precedes any later broadcast.
	if data, err := h.snapshot(); err != nil {
		h.logger.Error("failed to build snapshot for new peer",
			zap.String("connection_id", conn.ID.String()),
			zap.Error(err),
		)
	} else {
		conn.enqueue(data)
	}
	h.connections[conn] = true
	count := len(h.connections)
	h.mu.Unlock()

	h.logger.Info("slave connected",
		zap.String("connection_id", conn.ID.String()),
		zap.String("remote_addr", conn.RemoteAddr),
		zap.Int("connections", count),
	)
	h.publishCount(count)
}

func (h *Hub) unregisterConnection(conn *Connection) {
	h.mu.Lock()
	_, ok := h.connections[conn]
	if ok {
		delete(h.connections, conn)
	}
	count := len(h.connections)
	h.mu.Unlock()

	if !ok {
		return
	}
	conn.kill()

	h.logger.Info("slave disconnected",
		zap.String("connection_id", conn.ID.String()),
		zap.String("remote_addr", conn.RemoteAddr),
		zap.Int("connections", count),
	)
	h.publishCount(count)
}

// reap removes connections that were marked dead but never unregistered.
func (h *Hub) reap() {
	h.mu.Lock()
	removed := 0
	for conn := range h.connections {
		if conn.Dead() {
			delete(h.connections, conn)
			removed++
		}
	}
	count := len(h.connections)
	h.mu.Unlock()

	if removed > 0 {
		h.logger.Info("reaped dead connections", zap.Int("removed", removed), zap.Int("connections", count))
		h.publishCount(count)
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	for conn := range h.connections {
		conn.shutdown()
		delete(h.connections, conn)
	}
	h.mu.Unlock()

	h.logger.Info("hub stopped")
	h.publishCount(0)
}

func (h *Hub) publishCount(count int) {
	h.publisher.Publish(events.Event{
		Type:    events.EventConnectionCountChanged,
		Payload: count,
	})
}
