// Package render connects a display to the scoreboard's event stream. A
// renderer receives one call per changed field and never touches the state.
package render

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/tecu23/scoreboard/pkg/events"
	"github.com/tecu23/scoreboard/pkg/game"
)

// Renderer draws scoreboard fields. Calls arrive in the order the changes
// were made, on the goroutine that made them, so implementations must
// return quickly.
type Renderer interface {
	Score(side game.Side, score int)
	ShotsOnGoal(side game.Side, shots int)
	Period(period int)
	Clock(seconds int)
	Running(running bool)
	Penalties(side game.Side, penalties []game.Penalty)
	SyncState(state string)
	Connections(count int)
	Listening(addr string)
}

// New returns the renderer registered under name.
func New(name string, logger *zap.Logger) (Renderer, error) {
	switch name {
	case "", "log":
		return NewLogRenderer(logger), nil
	case "none":
		return NopRenderer{}, nil
	}
	return nil, fmt.Errorf("unknown renderer %q", name)
}

// Bind subscribes r to every event a display cares about.
func Bind(publisher *events.Publisher, r Renderer, logger *zap.Logger) {
	publisher.Subscribe(events.EventStateChanged, func(event events.Event) {
		change, ok := event.Payload.(game.Change)
		if !ok {
			logger.Error("Invalid state change payload type")
			return
		}
		dispatch(r, change)
	})

	publisher.Subscribe(events.EventConnectionCountChanged, func(event events.Event) {
		if count, ok := event.Payload.(int); ok {
			r.Connections(count)
		}
	})

	publisher.Subscribe(events.EventSyncStateChanged, func(event events.Event) {
		if state, ok := event.Payload.(fmt.Stringer); ok {
			r.SyncState(state.String())
		}
	})

	publisher.Subscribe(events.EventListenerReady, func(event events.Event) {
		if addr, ok := event.Payload.(string); ok {
			r.Listening(addr)
		}
	})
}

func dispatch(r Renderer, c game.Change) {
	switch c.Field {
	case game.FieldHomeScore:
		r.Score(game.Home, c.Value.(int))
	case game.FieldGuestScore:
		r.Score(game.Guest, c.Value.(int))
	case game.FieldHomeShotsOnGoal:
		r.ShotsOnGoal(game.Home, c.Value.(int))
	case game.FieldGuestShotsOnGoal:
		r.ShotsOnGoal(game.Guest, c.Value.(int))
	case game.FieldPeriod:
		r.Period(c.Value.(int))
	case game.FieldClock:
		r.Clock(c.Value.(int))
	case game.FieldRunning:
		r.Running(c.Value.(bool))
	case game.FieldHomePenalties:
		r.Penalties(game.Home, c.Value.([]game.Penalty))
	case game.FieldGuestPenalties:
		r.Penalties(game.Guest, c.Value.([]game.Penalty))
	}
}

// Draw pushes every field of snap to r, as a display does on startup.
func Draw(r Renderer, snap game.Snapshot) {
	for _, f := range game.Fields {
		dispatch(r, game.Change{Field: f, Value: snap.Value(f)})
	}
}

// LogRenderer writes every field change to a zap logger. It is the
// renderer of headless boards.
type LogRenderer struct {
	logger *zap.Logger
}

func NewLogRenderer(logger *zap.Logger) *LogRenderer {
	return &LogRenderer{logger: logger.Named("display")}
}

func (l *LogRenderer) Score(side game.Side, score int) {
	l.logger.Info("score", zap.String("side", string(side)), zap.Int("score", score))
}

func (l *LogRenderer) ShotsOnGoal(side game.Side, shots int) {
	l.logger.Info("shots on goal", zap.String("side", string(side)), zap.Int("shots", shots))
}

func (l *LogRenderer) Period(period int) {
	l.logger.Info("period", zap.Int("period", period))
}

// Clock logs at debug level since it changes every second.
func (l *LogRenderer) Clock(seconds int) {
	l.logger.Debug("clock", zap.String("clock", game.FormatClock(seconds)))
}

func (l *LogRenderer) Running(running bool) {
	l.logger.Info("clock running", zap.Bool("running", running))
}

func (l *LogRenderer) Penalties(side game.Side, penalties []game.Penalty) {
	fields := []zap.Field{zap.String("side", string(side)), zap.Int("count", len(penalties))}
	for i, p := range penalties {
		fields = append(fields, zap.String(fmt.Sprintf("penalty_%d", i),
			fmt.Sprintf("#%d %s", p.PlayerNumber, game.FormatClock(p.Remaining))))
	}
	l.logger.Info("penalties", fields...)
}

func (l *LogRenderer) SyncState(state string) {
	if state == "STALE" {
		l.logger.Warn("connection to master lost, showing last known state")
		return
	}
	l.logger.Info("sync state", zap.String("state", state))
}

func (l *LogRenderer) Connections(count int) {
	l.logger.Info("connected slaves", zap.Int("count", count))
}

func (l *LogRenderer) Listening(addr string) {
	l.logger.Info("listening", zap.String("addr", addr))
}

// NopRenderer discards everything.
type NopRenderer struct{}

func (NopRenderer) Score(game.Side, int) {}
func (NopRenderer) ShotsOnGoal(game.Side, int) {}
func (NopRenderer) Period(int) {}
func (NopRenderer) Clock(int) {}
func (NopRenderer) Running(bool) {}
func (NopRenderer) Penalties(game.Side, []game.Penalty) {}
func (NopRenderer) SyncState(string) {}
func (NopRenderer) Connections(int) {}
func (NopRenderer) Listening(string) {}
