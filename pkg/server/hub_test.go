package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/tecu23/scoreboard/pkg/events"
	"github.com/tecu23/scoreboard/pkg/game"
	"github.com/tecu23/scoreboard/pkg/messages"
)

type counter struct {
	mu     sync.Mutex
	counts []int
}

func (c *counter) handle(e events.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counts = append(c.counts, e.Payload.(int))
}

func (c *counter) last() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.counts) == 0 {
		return -1
	}
	return c.counts[len(c.counts)-1]
}

func startHub(t *testing.T, cfg Config, snapshot SnapshotFunc) (*Hub, *counter, context.CancelFunc) {
	t.Helper()

	publisher := events.NewPublisher()
	c := &counter{}
	publisher.Subscribe(events.EventConnectionCountChanged, c.handle)

	hub := NewHub(cfg, snapshot, publisher, zaptest.NewLogger(t))
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	t.Cleanup(cancel)
	return hub, c, cancel
}

func dial(t *testing.T, hub *Hub) *websocket.Conn {
	t.Helper()
	ws, _ := dialPeer(t, hub)
	return ws
}

// dialPeer connects a client and also returns the hub's side of it.
func dialPeer(t *testing.T, hub *Hub) (*websocket.Conn, *Connection) {
	t.Helper()

	accepted := make(chan *Connection, 1)
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conn, err := hub.Accept(ws)
		if err == nil {
			accepted <- conn
		}
	}))
	t.Cleanup(srv.Close)

	ws, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { ws.Close() })

	select {
	case conn := <-accepted:
		return ws, conn
	case <-time.After(2 * time.Second):
		t.Fatal("hub did not accept the peer")
	}
	return nil, nil
}

func TestLateJoinerReceivesFullSnapshot(t *testing.T) {
	st := game.NewState(game.DefaultLimits(), nil, zaptest.NewLogger(t))
	st.Set(game.FieldHomeScore, 3)
	st.Set(game.FieldGuestScore, 1)
	st.SetPeriod(2)

	snapshot := func() ([]byte, error) {
		return messages.Serialize(messages.NewFull("s", 1, st.Snapshot()))
	}
	hub, counts, _ := startHub(t, DefaultConfig(), snapshot)

	ws := dial(t, hub)
	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := ws.ReadMessage()
	require.NoError(t, err)

	u, err := messages.NewDecoder(game.DefaultLimits(), zaptest.NewLogger(t)).Deserialize(data)
	require.NoError(t, err)
	assert.Equal(t, messages.Full, u.Type)
	assert.Equal(t, 3, u.Snapshot.HomeScore)
	assert.Equal(t, 1, u.Snapshot.GuestScore)
	assert.Equal(t, 2, u.Snapshot.Period)

	assert.Eventually(t, func() bool { return counts.last() == 1 }, time.Second, 10*time.Millisecond)
}

func TestBroadcastReachesEveryPeer(t *testing.T) {
	snapshot := func() ([]byte, error) { return []byte("snap"), nil }
	hub, _, _ := startHub(t, DefaultConfig(), snapshot)

	peers := []*websocket.Conn{dial(t, hub), dial(t, hub)}
	for _, ws := range peers {
		ws.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, data, err := ws.ReadMessage()
		require.NoError(t, err)
		assert.Equal(t, "snap", string(data))
	}
	require.Eventually(t, func() bool { return hub.Count() == 2 }, time.Second, 10*time.Millisecond)

	hub.Broadcast([]byte("update"))

	for _, ws := range peers {
		_, data, err := ws.ReadMessage()
		require.NoError(t, err)
		assert.Equal(t, "update", string(data))
	}
}

func TestDisconnectUpdatesCount(t *testing.T) {
	snapshot := func() ([]byte, error) { return []byte("snap"), nil }
	hub, counts, _ := startHub(t, DefaultConfig(), snapshot)

	ws := dial(t, hub)
	require.Eventually(t, func() bool { return hub.Count() == 1 }, time.Second, 10*time.Millisecond)

	ws.Close()
	assert.Eventually(t, func() bool { return hub.Count() == 0 && counts.last() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestSlowPeerDoesNotAffectOthers(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SendBuffer = 1
	cfg.MaxMissedSends = 2

	hub := NewHub(cfg, func() ([]byte, error) { return []byte("snap"), nil }, events.NewPublisher(), zaptest.NewLogger(t))

	// No pumps run here: the test plays the write side for the healthy peer.
	slow := NewConnection(nil, hub, zaptest.NewLogger(t))
	healthy := NewConnection(nil, hub, zaptest.NewLogger(t))
	hub.registerConnection(slow)
	hub.registerConnection(healthy)

	assert.Equal(t, "snap", string(<-healthy.send))

	hub.Broadcast([]byte("first"))
	assert.Equal(t, "first", string(<-healthy.send))
	assert.False(t, slow.Dead(), "one missed update is tolerated")

	hub.Broadcast([]byte("second"))
	assert.Equal(t, "second", string(<-healthy.send))
	assert.True(t, slow.Dead())

	hub.reap()
	assert.Equal(t, 1, hub.Count())

	hub.Broadcast([]byte("third"))
	assert.Equal(t, "third", string(<-healthy.send))
}

func TestBrokenPeerDoesNotAffectOthers(t *testing.T) {
	snapshot := func() ([]byte, error) { return []byte("snap"), nil }
	hub, counts, _ := startHub(t, DefaultConfig(), snapshot)

	brokenWS, broken := dialPeer(t, hub)
	healthy := dial(t, hub)
	for _, ws := range []*websocket.Conn{brokenWS, healthy} {
		ws.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, _, err := ws.ReadMessage()
		require.NoError(t, err)
	}
	require.Eventually(t, func() bool { return hub.Count() == 2 }, time.Second, 10*time.Millisecond)

	// Writes to this peer now fail at the socket.
	require.NoError(t, broken.ws.UnderlyingConn().Close())

	hub.Broadcast([]byte("update"))

	healthy.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := healthy.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, "update", string(data))

	assert.Eventually(t, func() bool { return hub.Count() == 1 && counts.last() == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.True(t, broken.Dead())
}

func TestShutdownClosesPeers(t *testing.T) {
	snapshot := func() ([]byte, error) { return []byte("snap"), nil }
	hub, _, cancel := startHub(t, DefaultConfig(), snapshot)

	ws := dial(t, hub)
	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := ws.ReadMessage()
	require.NoError(t, err)
	require.Eventually(t, func() bool { return hub.Count() == 1 }, time.Second, 10*time.Millisecond)

	cancel()

	_, _, err = ws.ReadMessage()
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway))

	assert.ErrorIs(t, hub.Register(NewConnection(nil, hub, zaptest.NewLogger(t))), ErrHubClosed)
}
