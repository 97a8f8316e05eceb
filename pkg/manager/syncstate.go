// Package manager runs the sync engine: the master side that turns state
// changes into wire updates, and the replica side that applies them.
package manager

import (
	"github.com/sasha-s/go-deadlock"
	"go.uber.org/zap"

	"github.com/tecu23/scoreboard/pkg/events"
)

// SyncState is the connection state of a master or slave
type SyncState string

// Possible sync states
const (
	Disconnected SyncState = "DISCONNECTED"
	Syncing      SyncState = "SYNCING"
	Synced       SyncState = "SYNCED"
	Stale        SyncState = "STALE"
)

func (s SyncState) String() string {
	return string(s)
}

var transitions = map[SyncState][]SyncState{
	Disconnected: {Syncing},
	Syncing:      {Synced, Disconnected},
	Synced:       {Stale, Disconnected},
	Stale:        {Synced, Disconnected},
}

// machine tracks one SyncState and publishes every transition.
type machine struct {
	mu      deadlock.Mutex
	current SyncState

	publisher *events.Publisher
	logger    *zap.Logger
}

func newMachine(publisher *events.Publisher, logger *zap.Logger) *machine {
	return &machine{
		current:   Disconnected,
		publisher: publisher,
		logger:    logger,
	}
}

func (m *machine) get() SyncState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// to moves to next if the transition is allowed. It reports whether the
// state changed.
func (m *machine) to(next SyncState) bool {
	m.mu.Lock()
	prev := m.current
	if prev == next {
		m.mu.Unlock()
		return false
	}

	allowed := false
	for _, s := range transitions[prev] {
		if s == next {
			allowed = true
			break
		}
	}
	if !allowed {
		m.mu.Unlock()
		m.logger.Debug("ignoring sync transition",
			zap.Stringer("from", prev),
			zap.Stringer("to", next),
		)
		return false
	}
	m.current = next
	m.mu.Unlock()

	m.logger.Info("sync state changed", zap.Stringer("from", prev), zap.Stringer("to", next))
	m.publisher.Publish(events.Event{Type: events.EventSyncStateChanged, Payload: next})
	return true
}

// synced reaches Synced from any state, passing through Syncing when
// starting out disconnected.
func (m *machine) synced() {
	if m.get() == Disconnected {
		m.to(Syncing)
	}
	m.to(Synced)
}
