package game

import (
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sasha-s/go-deadlock"
	"go.uber.org/zap"
)

// Timer ticks a State once per interval while the game clock runs. It does
// not own the state; it only calls State.Tick.
type Timer struct {
	state    *State
	interval time.Duration
	clock    clockwork.Clock

	mutex deadlock.Mutex
	stop  chan struct{}
	done  chan struct{}

	logger *zap.Logger
}

// NewTimer creates a stopped timer for state.
func NewTimer(state *State, interval time.Duration, clock clockwork.Clock, logger *zap.Logger) *Timer {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Timer{
		state:    state,
		interval: interval,
		clock:    clock,
		logger:   logger,
	}
}

// Start starts the game clock and the tick routine. It reports false if the
// timer was already running or the clock has expired.
func (t *Timer) Start() bool {
	t.mutex.Lock()
	if t.stop != nil && !t.state.Running() {
		// The tick routine is winding down on its own; retire it first.
		stop, done := t.stop, t.done
		t.stop, t.done = nil, nil
		t.mutex.Unlock()

		close(stop)
		<-done
		t.mutex.Lock()
	}
	defer t.mutex.Unlock()

	if t.stop != nil {
		return false
	}

	t.state.Start()
	if !t.state.Running() {
		return false
	}

	t.stop = make(chan struct{})
	t.done = make(chan struct{})

	go t.tickRoutine(t.clock.NewTicker(t.interval), t.stop, t.done)

	t.logger.Debug("timer started", zap.Duration("interval", t.interval))
	return true
}

// Stop stops the tick routine and the game clock. It waits for an in-flight
// tick to finish.
func (t *Timer) Stop() {
	t.mutex.Lock()
	stop, done := t.stop, t.done
	t.stop, t.done = nil, nil
	t.mutex.Unlock()

	if stop != nil {
		close(stop)
		<-done
		t.logger.Debug("timer stopped")
	}

	t.state.Stop()
}

// IsRunning reports whether the tick routine is active.
func (t *Timer) IsRunning() bool {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	return t.stop != nil
}

// tickRoutine advances the state on every tick until stopped or until the
// state's clock stops on its own (expiry or an external stop).
func (t *Timer) tickRoutine(ticker clockwork.Ticker, stop, done chan struct{}) {
	defer close(done)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.Chan():
			t.state.Tick()
			if t.state.Running() {
				continue
			}

			t.mutex.Lock()
			if t.stop == stop {
				t.stop, t.done = nil, nil
			}
			t.mutex.Unlock()

			t.logger.Info("game clock stopped", zap.String("clock", FormatClock(t.state.Snapshot().Clock)))
			return
		}
	}
}

// FormatClock formats seconds as the board shows them (e.g. "20:00").
func FormatClock(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}

	return fmt.Sprintf("%d:%02d", seconds/60, seconds%60)
}
