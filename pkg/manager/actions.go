package manager

import (
	"fmt"

	"github.com/tecu23/scoreboard/pkg/game"
)

// ActionKind names an operator action
type ActionKind string

// Operator actions accepted by the master
const (
	ActionSet            ActionKind = "set"
	ActionAdd            ActionKind = "add"
	ActionIncrementScore ActionKind = "increment_score"
	ActionDecrementScore ActionKind = "decrement_score"
	ActionShotOnGoal     ActionKind = "shot_on_goal"
	ActionStartClock     ActionKind = "start_clock"
	ActionStopClock      ActionKind = "stop_clock"
	ActionSetClock       ActionKind = "set_clock"
	ActionSetPeriod      ActionKind = "set_period"
	ActionNextPeriod     ActionKind = "next_period"
	ActionAddPenalty     ActionKind = "add_penalty"
	ActionClearPenalty   ActionKind = "clear_penalty"
	ActionReset          ActionKind = "reset"
)

// Action is one operator input. Which of the optional fields are read
// depends on Kind.
type Action struct {
	Kind    ActionKind   `json:"action"`
	Field   game.FieldID `json:"field,omitempty"`
	Side    string       `json:"side,omitempty"`
	Value   int          `json:"value,omitempty"`
	Player  int          `json:"player,omitempty"`
	Seconds int          `json:"seconds,omitempty"`
	Index   int          `json:"index,omitempty"`
}

// ActionError reports an action that names no known operation, side or
// field. Well-formed actions that the state refuses are not errors.
type ActionError struct {
	Action Action
	Reason string
}

func (e *ActionError) Error() string {
	return fmt.Sprintf("invalid action %q: %s", e.Action.Kind, e.Reason)
}

func knownField(f game.FieldID) bool {
	for _, known := range game.Fields {
		if known == f {
			return true
		}
	}
	return false
}

func (a Action) side() (game.Side, error) {
	side, ok := game.ParseSide(a.Side)
	if !ok {
		return "", &ActionError{Action: a, Reason: fmt.Sprintf("unknown side %q", a.Side)}
	}
	return side, nil
}

func (a Action) field() (game.FieldID, error) {
	if !knownField(a.Field) {
		return "", &ActionError{Action: a, Reason: fmt.Sprintf("unknown field %q", a.Field)}
	}
	return a.Field, nil
}
