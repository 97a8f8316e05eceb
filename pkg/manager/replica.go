package manager

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sasha-s/go-deadlock"
	"go.uber.org/zap"

	"github.com/tecu23/scoreboard/pkg/events"
	"github.com/tecu23/scoreboard/pkg/game"
	"github.com/tecu23/scoreboard/pkg/messages"
	"github.com/tecu23/scoreboard/pkg/transport"
)

// ReplicaConfig tunes a slave's sync engine
type ReplicaConfig struct {
	StaleTimeout   time.Duration // silence after which the display is marked stale
	ReconnectDelay time.Duration
	Extrapolate    bool // tick a running clock locally between updates
	TickInterval   time.Duration
}

// Replica mirrors the master's state on a slave. The state is only ever
// written by applying received updates, plus local clock ticks when
// extrapolation is enabled.
type Replica struct {
	state   *game.State
	decoder *messages.Decoder
	clock   clockwork.Clock
	config  ReplicaConfig

	mu       deadlock.Mutex // guards the fields below
	session  string
	lastSeq  uint64
	haveFull bool
	watchdog clockwork.Timer

	status *machine
	logger *zap.Logger
}

// NewReplica creates a replica that applies updates to state.
func NewReplica(
	state *game.State,
	decoder *messages.Decoder,
	publisher *events.Publisher,
	config ReplicaConfig,
	clock clockwork.Clock,
	logger *zap.Logger,
) *Replica {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Replica{
		state:   state,
		decoder: decoder,
		clock:   clock,
		config:  config,
		status:  newMachine(publisher, logger.With(zap.String("role", "slave"))),
		logger:  logger,
	}
}

// SyncState returns the replica's current sync state.
func (r *Replica) SyncState() SyncState {
	return r.status.get()
}

// State returns the mirrored state.
func (r *Replica) State() *game.State {
	return r.state
}

// HandleMessage decodes and applies one update from the master. Malformed
// messages, deltas that arrive before any full snapshot, and updates older
// than the last applied one are dropped. It reports whether the update was
// applied.
func (r *Replica) HandleMessage(data []byte) bool {
	u, err := r.decoder.Deserialize(data)
	if err != nil {
		r.logger.Warn("dropping malformed update", zap.Error(err))
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	sameSession := r.haveFull && u.Session == r.session
	switch {
	case u.Type == messages.Delta && !sameSession:
		r.logger.Debug("discarding delta received before a full snapshot",
			zap.String("session", u.Session),
			zap.Uint64("seq", u.Seq),
		)
		return false
	case sameSession && u.Seq <= r.lastSeq:
		r.logger.Debug("discarding out-of-date update",
			zap.Uint64("seq", u.Seq),
			zap.Uint64("last_seq", r.lastSeq),
		)
		return false
	}

	if u.Type == messages.Full {
		r.state.Replace(u.Snapshot)
		r.haveFull = true
	} else {
		r.state.ApplyPatch(u.Patch)
	}

	if u.Session != r.session {
		r.logger.Info("following master session", zap.String("session", u.Session))
	}
	r.session = u.Session
	r.lastSeq = u.Seq

	r.armWatchdog()
	r.status.synced()
	return true
}

// armWatchdog restarts the silence timer. Callers hold r.mu.
func (r *Replica) armWatchdog() {
	if r.config.StaleTimeout <= 0 {
		return
	}
	if r.watchdog != nil {
		r.watchdog.Reset(r.config.StaleTimeout)
		return
	}
	r.watchdog = r.clock.AfterFunc(r.config.StaleTimeout, func() {
		if r.status.to(Stale) {
			r.logger.Warn("no update from master, display is stale",
				zap.Duration("silence", r.config.StaleTimeout))
		}
	})
}

// lost forgets the link to the master. The last known state stays on
// display.
func (r *Replica) lost() {
	r.mu.Lock()
	if r.watchdog != nil {
		r.watchdog.Stop()
		r.watchdog = nil
	}
	r.haveFull = false
	r.mu.Unlock()

	r.status.to(Disconnected)
}

// Run receives updates until ctx is done, reconnecting after
// ReconnectDelay whenever the receiver fails.
func (r *Replica) Run(ctx context.Context, receiver transport.Receiver) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if r.config.Extrapolate {
		go r.extrapolate(ctx)
	}

	for {
		err := receiver.Receive(ctx, func() {
			r.status.to(Syncing)
		}, func(msg []byte) {
			r.HandleMessage(msg)
		})
		r.lost()

		if ctx.Err() != nil {
			return nil
		}

		r.logger.Warn("lost connection to master, retrying",
			zap.Error(err),
			zap.Duration("delay", r.config.ReconnectDelay),
		)
		select {
		case <-ctx.Done():
			return nil
		case <-r.clock.After(r.config.ReconnectDelay):
		}
	}
}

// extrapolate ticks a running clock locally so the display keeps counting
// between updates. The next update from the master overwrites it.
func (r *Replica) extrapolate(ctx context.Context) {
	ticker := r.clock.NewTicker(r.config.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			if r.SyncState() == Synced && r.state.Running() {
				r.state.Tick()
			}
		}
	}
}
