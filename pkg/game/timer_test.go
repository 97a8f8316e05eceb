package game

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/tecu23/scoreboard/pkg/events"
)

func advanceOneTick(t *testing.T, fc *clockwork.FakeClock, st *State, wantClock int) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, fc.BlockUntilContext(ctx, 1))

	fc.Advance(time.Second)
	require.Eventually(t, func() bool {
		return st.Snapshot().Clock == wantClock
	}, time.Second, time.Millisecond)
}

func TestTimerDrivesClock(t *testing.T) {
	st := NewState(DefaultLimits(), events.NewPublisher(), zaptest.NewLogger(t))
	fc := clockwork.NewFakeClock()
	timer := NewTimer(st, time.Second, fc, zaptest.NewLogger(t))

	require.True(t, st.SetClock(1200))
	require.True(t, timer.Start())
	assert.False(t, timer.Start(), "second start is a no-op")

	advanceOneTick(t, fc, st, 1199)
	advanceOneTick(t, fc, st, 1198)
	advanceOneTick(t, fc, st, 1197)

	timer.Stop()
	assert.False(t, timer.IsRunning())
	assert.False(t, st.Running())
	assert.Equal(t, 1197, st.Snapshot().Clock)
}

func TestTimerStopsWhenClockExpires(t *testing.T) {
	st := NewState(DefaultLimits(), events.NewPublisher(), zaptest.NewLogger(t))
	fc := clockwork.NewFakeClock()
	timer := NewTimer(st, time.Second, fc, zaptest.NewLogger(t))

	require.True(t, st.SetClock(1))
	require.True(t, timer.Start())

	advanceOneTick(t, fc, st, 0)

	require.Eventually(t, func() bool { return !timer.IsRunning() }, time.Second, time.Millisecond)
	assert.False(t, st.Running())

	assert.False(t, timer.Start(), "expired clock cannot restart")
	timer.Stop()
}

func TestTimerRestartsAfterClockStoppedUnderIt(t *testing.T) {
	st := NewState(DefaultLimits(), events.NewPublisher(), zaptest.NewLogger(t))
	fc := clockwork.NewFakeClock()
	timer := NewTimer(st, time.Second, fc, zaptest.NewLogger(t))

	require.True(t, st.SetClock(600))
	require.True(t, timer.Start())
	advanceOneTick(t, fc, st, 599)

	// The state stops before the tick routine notices.
	require.True(t, st.Stop())
	assert.True(t, timer.IsRunning())

	require.True(t, timer.Start(), "a start request must not be lost")
	assert.True(t, st.Running())
	advanceOneTick(t, fc, st, 598)

	timer.Stop()
	assert.Equal(t, 598, st.Snapshot().Clock)
}

func TestFormatClock(t *testing.T) {
	assert.Equal(t, "20:00", FormatClock(1200))
	assert.Equal(t, "0:09", FormatClock(9))
	assert.Equal(t, "0:00", FormatClock(-4))
}
