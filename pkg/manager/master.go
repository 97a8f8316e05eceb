package manager

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/sasha-s/go-deadlock"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/tecu23/scoreboard/pkg/events"
	"github.com/tecu23/scoreboard/pkg/game"
	"github.com/tecu23/scoreboard/pkg/messages"
	"github.com/tecu23/scoreboard/pkg/transport"
)

// MasterConfig tunes how often the master emits updates
type MasterConfig struct {
	BroadcastInterval time.Duration // period of the full snapshot
	MaxUpdateRate     float64       // deltas per second; zero disables the limit
	UpdateBurst       int
}

// Master owns the authoritative state. It sends a delta for every batch of
// local changes and a full snapshot every BroadcastInterval so that peers
// which missed updates converge.
type Master struct {
	state  *game.State
	timer  *game.Timer
	out    transport.Broadcaster
	clock  clockwork.Clock
	config MasterConfig

	session string
	emitMu  deadlock.Mutex // orders snapshot capture with seq assignment
	seq     uint64

	pendingMu deadlock.Mutex
	pending   map[game.FieldID]bool
	dirty     chan struct{}

	limiter   *rate.Limiter
	status    *machine
	publisher *events.Publisher
	logger    *zap.Logger
}

// NewMaster creates a master for state that publishes through out.
func NewMaster(
	state *game.State,
	timer *game.Timer,
	out transport.Broadcaster,
	publisher *events.Publisher,
	config MasterConfig,
	clock clockwork.Clock,
	logger *zap.Logger,
) *Master {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	m := &Master{
		state:     state,
		timer:     timer,
		out:       out,
		clock:     clock,
		config:    config,
		session:   uuid.NewString(),
		pending:   make(map[game.FieldID]bool),
		dirty:     make(chan struct{}, 1),
		status:    newMachine(publisher, logger.With(zap.String("role", "master"))),
		publisher: publisher,
		logger:    logger,
	}
	if config.MaxUpdateRate > 0 {
		burst := config.UpdateBurst
		if burst <= 0 {
			burst = 1
		}
		m.limiter = rate.NewLimiter(rate.Limit(config.MaxUpdateRate), burst)
	}

	m.setupEventHandlers()
	return m
}

func (m *Master) setupEventHandlers() {
	m.publisher.Subscribe(events.EventStateChanged, func(event events.Event) {
		change, ok := event.Payload.(game.Change)
		if !ok {
			m.logger.Error("Invalid state change payload type")
			return
		}

		m.pendingMu.Lock()
		m.pending[change.Field] = true
		m.pendingMu.Unlock()

		select {
		case m.dirty <- struct{}{}:
		default:
		}
	})
}

// Session returns the identifier stamped on every update of this run.
func (m *Master) Session() string {
	return m.session
}

// SyncState returns the master's current sync state.
func (m *Master) SyncState() SyncState {
	return m.status.get()
}

// State returns the authoritative state.
func (m *Master) State() *game.State {
	return m.state
}

// ListenerReady records that the transport is bound and peers can be
// served.
func (m *Master) ListenerReady(addr string) {
	m.status.synced()
	m.logger.Info("accepting slaves", zap.String("addr", addr))
	m.publisher.Publish(events.Event{Type: events.EventListenerReady, Payload: addr})
}

// Run emits updates until ctx is done.
func (m *Master) Run(ctx context.Context) error {
	if m.status.get() == Disconnected {
		m.status.to(Syncing)
	}

	ticker := m.clock.NewTicker(m.config.BroadcastInterval)
	defer ticker.Stop()

	m.broadcastFull()

	for {
		select {
		case <-ctx.Done():
			m.status.to(Disconnected)
			return nil

		case <-m.dirty:
			if m.limiter != nil {
				if err := m.limiter.Wait(ctx); err != nil {
					continue
				}
			}
			m.broadcastDelta()

		case <-ticker.Chan():
			m.broadcastFull()
		}
	}
}

// FullSnapshot encodes the current state as a full update. The hub pushes
// it to every newly connected slave.
func (m *Master) FullSnapshot() ([]byte, error) {
	return m.encode(func(seq uint64, snap game.Snapshot) messages.Update {
		return messages.NewFull(m.session, seq, snap)
	})
}

func (m *Master) encode(build func(seq uint64, snap game.Snapshot) messages.Update) ([]byte, error) {
	m.emitMu.Lock()
	defer m.emitMu.Unlock()

	snap := m.state.Snapshot()
	m.seq++
	return messages.Serialize(build(m.seq, snap))
}

func (m *Master) takePending() []game.FieldID {
	m.pendingMu.Lock()
	defer m.pendingMu.Unlock()

	var fields []game.FieldID
	for _, f := range game.Fields {
		if m.pending[f] {
			fields = append(fields, f)
		}
	}
	m.pending = make(map[game.FieldID]bool)
	return fields
}

func (m *Master) broadcastDelta() {
	fields := m.takePending()
	if len(fields) == 0 {
		return
	}

	data, err := m.encode(func(seq uint64, snap game.Snapshot) messages.Update {
		return messages.NewDelta(m.session, seq, snap.Patch(fields))
	})
	if err != nil {
		m.logger.Error("failed to encode delta", zap.Error(err))
		return
	}
	m.out.Broadcast(data)
}

func (m *Master) broadcastFull() {
	// The snapshot covers anything still pending
	m.takePending()

	data, err := m.FullSnapshot()
	if err != nil {
		m.logger.Error("failed to encode snapshot", zap.Error(err))
		return
	}
	m.out.Broadcast(data)
}

// OnLocalUserAction sets field to value on the authoritative state. The
// running flag is routed through the timer.
func (m *Master) OnLocalUserAction(field game.FieldID, value int) bool {
	if field == game.FieldRunning {
		if value != 0 {
			return m.timer.Start()
		}
		running := m.state.Running()
		m.timer.Stop()
		return running
	}
	return m.state.Set(field, value)
}

// Apply performs an operator action. It reports whether the state changed;
// an error means the action itself was malformed.
func (m *Master) Apply(a Action) (bool, error) {
	m.logger.Debug("operator action", zap.String("action", string(a.Kind)))

	switch a.Kind {
	case ActionSet:
		field, err := a.field()
		if err != nil {
			return false, err
		}
		if field == game.FieldHomePenalties || field == game.FieldGuestPenalties {
			return false, &ActionError{Action: a, Reason: "penalties are changed with add_penalty and clear_penalty"}
		}
		return m.OnLocalUserAction(field, a.Value), nil

	case ActionAdd:
		field, err := a.field()
		if err != nil {
			return false, err
		}
		return m.state.Add(field, a.Value), nil

	case ActionIncrementScore, ActionDecrementScore, ActionShotOnGoal, ActionAddPenalty, ActionClearPenalty:
		side, err := a.side()
		if err != nil {
			return false, err
		}
		switch a.Kind {
		case ActionIncrementScore:
			return m.state.IncrementScore(side), nil
		case ActionDecrementScore:
			return m.state.DecrementScore(side), nil
		case ActionShotOnGoal:
			return m.state.IncrementShotsOnGoal(side), nil
		case ActionAddPenalty:
			return m.state.AddPenalty(side, a.Player, a.Seconds), nil
		default:
			return m.state.ClearPenalty(side, a.Index), nil
		}

	case ActionStartClock:
		return m.OnLocalUserAction(game.FieldRunning, 1), nil

	case ActionStopClock:
		return m.OnLocalUserAction(game.FieldRunning, 0), nil

	case ActionSetClock:
		return m.state.SetClock(a.Value), nil

	case ActionSetPeriod:
		return m.state.SetPeriod(a.Value), nil

	case ActionNextPeriod:
		m.timer.Stop()
		return m.state.NextPeriod(), nil

	case ActionReset:
		m.timer.Stop()
		return m.state.Reset(), nil
	}

	return false, &ActionError{Action: a, Reason: "unknown action"}
}
