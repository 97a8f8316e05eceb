package messages

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/tecu23/scoreboard/pkg/game"
)

func roundTrip(t *testing.T, before Update) Update {
	t.Helper()

	data, err := Serialize(before)
	require.NoError(t, err)

	after, err := NewDecoder(game.DefaultLimits(), zaptest.NewLogger(t)).Deserialize(data)
	require.NoError(t, err)
	return after
}

func TestFullSnapshotRoundTrip(t *testing.T) {
	snaps := []game.Snapshot{
		game.DefaultLimits().Initial(),
		{
			HomeScore:        3,
			GuestScore:       1,
			Period:           2,
			Clock:            1197,
			Running:          true,
			HomeShotsOnGoal:  14,
			GuestShotsOnGoal: 9,
			HomePenalties: []game.Penalty{
				{PlayerNumber: 12, Remaining: 95, Active: true},
				{PlayerNumber: 4, Remaining: 120, Active: false},
			},
			GuestPenalties: []game.Penalty{{PlayerNumber: 88, Remaining: 1, Active: true}},
		},
		{Period: 4, Clock: 0, HomeScore: 99, GuestScore: 99},
	}

	for _, snap := range snaps {
		after := roundTrip(t, NewFull("7c0e", 42, snap))
		assert.Equal(t, Full, after.Type)
		assert.Equal(t, "7c0e", after.Session)
		assert.Equal(t, uint64(42), after.Seq)
		assert.Equal(t, snap, after.Snapshot, "should yield same snapshot")
	}
}

func TestDeltaRoundTrip(t *testing.T) {
	snap := game.Snapshot{HomeScore: 5, Clock: 300, GuestPenalties: nil}
	patch := snap.Patch([]game.FieldID{game.FieldHomeScore, game.FieldClock, game.FieldGuestPenalties})

	after := roundTrip(t, NewDelta("s", 1, patch))
	assert.Equal(t, Delta, after.Type)
	assert.Equal(t, patch, after.Patch)
	assert.Equal(t, []game.FieldID{game.FieldHomeScore, game.FieldClock, game.FieldGuestPenalties}, after.Fields())
}

func TestSerializeIsDeterministic(t *testing.T) {
	u := NewFull("s", 3, game.Snapshot{HomeScore: 1, Period: 1, Clock: 60})

	a, err := Serialize(u)
	require.NoError(t, err)
	b, err := Serialize(u)
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Contains(t, string(a), `<scoreboard type="full" session="s" seq="3">`)
}

func TestUnknownElementsAreSkipped(t *testing.T) {
	data := `<scoreboard type="delta" seq="2">
		<homeScore>4</homeScore>
		<horn>on</horn>
		<sponsor><name>ACME</name></sponsor>
	</scoreboard>`

	u, err := NewDecoder(game.DefaultLimits(), zaptest.NewLogger(t)).Deserialize([]byte(data))
	require.NoError(t, err)
	require.NotNil(t, u.Patch.HomeScore)
	assert.Equal(t, 4, *u.Patch.HomeScore)
	assert.Equal(t, []game.FieldID{game.FieldHomeScore}, u.Patch.Fields())
}

func TestFullSnapshotDefaultsAbsentFields(t *testing.T) {
	data := `<scoreboard type="full" seq="1"><homeScore>2</homeScore></scoreboard>`

	u, err := NewDecoder(game.DefaultLimits(), zaptest.NewLogger(t)).Deserialize([]byte(data))
	require.NoError(t, err)

	want := game.DefaultLimits().Initial()
	want.HomeScore = 2
	assert.Equal(t, want, u.Snapshot)
}

func TestOutOfRangeValuesAreClamped(t *testing.T) {
	data := `<scoreboard type="full" seq="1">
		<homeScore>-4</homeScore>
		<period>7</period>
		<homePenalties>
			<penalty player="1" remaining="10" active="true"/>
			<penalty player="2" remaining="10" active="true"/>
			<penalty player="3" remaining="10" active="true"/>
		</homePenalties>
	</scoreboard>`

	u, err := NewDecoder(game.DefaultLimits(), zaptest.NewLogger(t)).Deserialize([]byte(data))
	require.NoError(t, err)
	assert.Equal(t, 0, u.Snapshot.HomeScore)
	assert.Equal(t, 4, u.Snapshot.Period)
	assert.Len(t, u.Snapshot.HomePenalties, 2)
}

func TestMalformedMessages(t *testing.T) {
	cases := map[string]string{
		"not xml":       "hello",
		"truncated":     `<scoreboard type="full" seq="1"><homeScore>3`,
		"bad number":    `<scoreboard type="full" seq="1"><homeScore>three</homeScore></scoreboard>`,
		"bad bool":      `<scoreboard type="delta" seq="1"><running>maybe</running></scoreboard>`,
		"wrong root":    `<game type="full" seq="1"/>`,
		"unknown type":  `<scoreboard type="partial" seq="1"><homeScore>3</homeScore></scoreboard>`,
		"missing type":  `<scoreboard seq="1"><homeScore>3</homeScore></scoreboard>`,
		"empty delta":   `<scoreboard type="delta" seq="1"/>`,
		"bad seq":       `<scoreboard type="full" seq="-1"/>`,
		"bad penalty":   `<scoreboard type="full" seq="1"><homePenalties><penalty player="x"/></homePenalties></scoreboard>`,
		"empty payload": "",
	}

	dec := NewDecoder(game.DefaultLimits(), zaptest.NewLogger(t))
	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := dec.Deserialize([]byte(data))
			require.Error(t, err)

			var perr *ParseError
			assert.True(t, errors.As(err, &perr))
		})
	}
}

func TestSerializeRejectsUnknownType(t *testing.T) {
	_, err := Serialize(Update{Type: "partial"})
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "partial"))
}
