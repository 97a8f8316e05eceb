package game

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/tecu23/scoreboard/pkg/events"
)

func newTestState(t *testing.T) (*State, *[]Change) {
	t.Helper()

	var (
		mu      sync.Mutex
		changes []Change
	)
	publisher := events.NewPublisher()
	publisher.Subscribe(events.EventStateChanged, func(e events.Event) {
		mu.Lock()
		defer mu.Unlock()
		changes = append(changes, e.Payload.(Change))
	})

	return NewState(DefaultLimits(), publisher, zaptest.NewLogger(t)), &changes
}

func TestInitialState(t *testing.T) {
	st, _ := newTestState(t)

	snap := st.Snapshot()
	assert.Equal(t, 1, snap.Period)
	assert.Equal(t, 1200, snap.Clock)
	assert.False(t, snap.Running)
	assert.Nil(t, snap.HomePenalties)
}

func TestScoreNeverNegative(t *testing.T) {
	st, changes := newTestState(t)

	assert.False(t, st.DecrementScore(Home))
	assert.Equal(t, 0, st.Snapshot().HomeScore)
	assert.Empty(t, *changes)

	require.True(t, st.IncrementScore(Home))
	require.True(t, st.DecrementScore(Home))
	assert.False(t, st.DecrementScore(Home))
	assert.Equal(t, 0, st.Snapshot().HomeScore)

	assert.False(t, st.Set(FieldGuestScore, -5))
	assert.Equal(t, 0, st.Snapshot().GuestScore)
}

func TestSetClampsToLimits(t *testing.T) {
	st, _ := newTestState(t)

	require.True(t, st.Set(FieldHomeScore, 250))
	assert.Equal(t, 99, st.Snapshot().HomeScore)

	require.True(t, st.SetPeriod(9))
	assert.Equal(t, 4, st.Snapshot().Period)

	require.True(t, st.SetPeriod(0))
	assert.Equal(t, 1, st.Snapshot().Period)

	assert.False(t, st.Set(FieldHomePenalties, 3), "penalties are not settable as a number")
}

func TestChangeNotification(t *testing.T) {
	st, changes := newTestState(t)

	require.True(t, st.IncrementScore(Guest))
	require.True(t, st.SetClock(600))

	assert.Equal(t, []Change{
		{Field: FieldGuestScore, Value: 1},
		{Field: FieldClock, Value: 600},
	}, *changes)

	// Setting the same value again is not a change
	assert.False(t, st.SetClock(600))
	assert.Len(t, *changes, 2)
}

func TestPenaltyBoxHoldsTwo(t *testing.T) {
	st, _ := newTestState(t)

	require.True(t, st.AddPenalty(Home, 12, 120))
	require.True(t, st.AddPenalty(Home, 7, 300))
	assert.False(t, st.AddPenalty(Home, 3, 120), "third penalty must be rejected")

	snap := st.Snapshot()
	assert.Equal(t, []Penalty{
		{PlayerNumber: 12, Remaining: 120, Active: true},
		{PlayerNumber: 7, Remaining: 300, Active: true},
	}, snap.HomePenalties)
	assert.Nil(t, snap.GuestPenalties)

	assert.False(t, st.AddPenalty(Guest, -1, 120))
	assert.False(t, st.AddPenalty(Guest, 4, 0))

	require.True(t, st.ClearPenalty(Home, 0))
	assert.Equal(t, []Penalty{{PlayerNumber: 7, Remaining: 300, Active: true}}, st.Snapshot().HomePenalties)
	assert.False(t, st.ClearPenalty(Home, 5))
}

func TestTick(t *testing.T) {
	st, _ := newTestState(t)

	assert.False(t, st.Tick(), "stopped clock does not tick")

	require.True(t, st.AddPenalty(Guest, 4, 2))
	require.True(t, st.Start())

	for i := 0; i < 3; i++ {
		require.True(t, st.Tick())
	}

	snap := st.Snapshot()
	assert.Equal(t, 1197, snap.Clock)
	assert.Nil(t, snap.GuestPenalties, "expired penalty is removed")
	assert.True(t, snap.Running)
}

func TestTickStopsAtZero(t *testing.T) {
	st, changes := newTestState(t)

	require.True(t, st.SetClock(1))
	require.True(t, st.Start())
	require.True(t, st.Tick())

	snap := st.Snapshot()
	assert.Equal(t, 0, snap.Clock)
	assert.False(t, snap.Running)
	assert.Contains(t, *changes, Change{Field: FieldRunning, Value: false})

	assert.False(t, st.Start(), "an expired clock cannot be started")
	assert.False(t, st.Tick())
}

func TestNextPeriod(t *testing.T) {
	st, _ := newTestState(t)

	require.True(t, st.SetClock(12))
	require.True(t, st.Start())
	require.True(t, st.NextPeriod())

	snap := st.Snapshot()
	assert.Equal(t, 2, snap.Period)
	assert.Equal(t, 1200, snap.Clock)
	assert.False(t, snap.Running)

	require.True(t, st.SetPeriod(4))
	assert.False(t, st.NextPeriod())
}

func TestReplaceIsIdempotent(t *testing.T) {
	st, changes := newTestState(t)

	snap := Snapshot{
		HomeScore:      3,
		GuestScore:     1,
		Period:         2,
		Clock:          845,
		Running:        true,
		HomePenalties:  []Penalty{{PlayerNumber: 9, Remaining: 90, Active: true}},
		GuestPenalties: nil,
	}

	require.True(t, st.Replace(snap))
	first := st.Snapshot()
	notified := len(*changes)

	assert.False(t, st.Replace(snap))
	assert.Equal(t, first, st.Snapshot())
	assert.Equal(t, snap, st.Snapshot())
	assert.Len(t, *changes, notified)
}

func TestReplaceClampsOutOfRange(t *testing.T) {
	st, _ := newTestState(t)

	st.Replace(Snapshot{
		HomeScore: -3,
		Period:    12,
		Clock:     400,
		HomePenalties: []Penalty{
			{PlayerNumber: 1, Remaining: 10, Active: true},
			{PlayerNumber: 2, Remaining: 10, Active: true},
			{PlayerNumber: 3, Remaining: 10, Active: true},
		},
	})

	snap := st.Snapshot()
	assert.Equal(t, 0, snap.HomeScore)
	assert.Equal(t, 4, snap.Period)
	assert.Len(t, snap.HomePenalties, 2)
}

func TestApplyPatchOnlyTouchesPresentFields(t *testing.T) {
	st, changes := newTestState(t)
	require.True(t, st.Replace(Snapshot{HomeScore: 2, GuestScore: 2, Period: 1, Clock: 100}))
	*changes = nil

	clock := 99
	empty := []Penalty{}
	require.True(t, st.ApplyPatch(Patch{Clock: &clock, HomePenalties: &empty}))

	snap := st.Snapshot()
	assert.Equal(t, 99, snap.Clock)
	assert.Equal(t, 2, snap.HomeScore)
	assert.Equal(t, []Change{{Field: FieldClock, Value: 99}}, *changes)

	assert.False(t, st.ApplyPatch(Patch{}))
}

func TestSnapshotPatchRoundTrip(t *testing.T) {
	base := Snapshot{HomeScore: 1, Period: 1, Clock: 50}
	next := Snapshot{HomeScore: 2, Period: 1, Clock: 49, GuestPenalties: []Penalty{{PlayerNumber: 5, Remaining: 30, Active: true}}}

	fields := base.Diff(next)
	assert.Equal(t, []FieldID{FieldHomeScore, FieldClock, FieldGuestPenalties}, fields)
	assert.Equal(t, next, next.Patch(fields).ApplyTo(base))
}

func TestConcurrentMutationsStayConsistent(t *testing.T) {
	st, _ := newTestState(t)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			st.IncrementScore(Home)
		}()
		go func() {
			defer wg.Done()
			st.IncrementShotsOnGoal(Home)
		}()
	}
	wg.Wait()

	snap := st.Snapshot()
	assert.Equal(t, 50, snap.HomeScore)
	assert.Equal(t, 50, snap.HomeShotsOnGoal)
}
