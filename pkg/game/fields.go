// Package game holds the scoreboard's game state model and the timer that
// drives its countdowns.
package game

// FieldID names a renderable scoreboard field. The values double as the XML
// element names on the wire.
type FieldID string

// All the scoreboard fields
const (
	FieldHomeScore        FieldID = "homeScore"
	FieldGuestScore       FieldID = "guestScore"
	FieldPeriod           FieldID = "period"
	FieldClock            FieldID = "clock"
	FieldRunning          FieldID = "running"
	FieldHomeShotsOnGoal  FieldID = "homeShotsOnGoal"
	FieldGuestShotsOnGoal FieldID = "guestShotsOnGoal"
	FieldHomePenalties    FieldID = "homePenalties"
	FieldGuestPenalties   FieldID = "guestPenalties"
)

// Fields lists every field in wire order.
var Fields = []FieldID{
	FieldHomeScore,
	FieldGuestScore,
	FieldPeriod,
	FieldClock,
	FieldRunning,
	FieldHomeShotsOnGoal,
	FieldGuestShotsOnGoal,
	FieldHomePenalties,
	FieldGuestPenalties,
}

// Side is one of the two teams on the board
type Side string

// Possible sides
const (
	Home  Side = "home"
	Guest Side = "guest"
)

// ParseSide returns the side named by s.
func ParseSide(s string) (Side, bool) {
	switch Side(s) {
	case Home, Guest:
		return Side(s), true
	}
	return "", false
}

// ScoreField returns the score field of the side.
func (s Side) ScoreField() FieldID {
	if s == Home {
		return FieldHomeScore
	}
	return FieldGuestScore
}

// ShotsField returns the shots-on-goal field of the side.
func (s Side) ShotsField() FieldID {
	if s == Home {
		return FieldHomeShotsOnGoal
	}
	return FieldGuestShotsOnGoal
}

// PenaltiesField returns the penalty list field of the side.
func (s Side) PenaltiesField() FieldID {
	if s == Home {
		return FieldHomePenalties
	}
	return FieldGuestPenalties
}

// Change is the payload of a state change notification.
type Change struct {
	Field FieldID
	// Value is an int for numeric fields, a bool for FieldRunning and a
	// []Penalty copy for the penalty fields.
	Value interface{}
}
