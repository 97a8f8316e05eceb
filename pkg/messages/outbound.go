// Package messages encodes scoreboard updates to and from their XML wire
// form.
package messages

import (
	"encoding/xml"
	"fmt"

	"github.com/tecu23/scoreboard/pkg/game"
)

// MessageType distinguishes a full snapshot from a delta on the wire
type MessageType string

// Possible message types
const (
	// Full carries every field; an absent element means the field's default.
	Full MessageType = "full"
	// Delta carries the changed fields; an absent element means unchanged.
	Delta MessageType = "delta"
)

// Update is one decoded or to-be-encoded wire message
type Update struct {
	Type    MessageType
	Session string // identifies the master run that produced the message
	Seq     uint64 // increases with every message of a session

	Snapshot game.Snapshot // set when Type is Full
	Patch    game.Patch    // set when Type is Delta
}

// NewFull wraps a snapshot in a full update.
func NewFull(session string, seq uint64, snap game.Snapshot) Update {
	return Update{Type: Full, Session: session, Seq: seq, Snapshot: snap.Clone()}
}

// NewDelta wraps a patch in a delta update.
func NewDelta(session string, seq uint64, patch game.Patch) Update {
	return Update{Type: Delta, Session: session, Seq: seq, Patch: patch}
}

// Fields lists the fields the update carries.
func (u Update) Fields() []game.FieldID {
	if u.Type == Full {
		return game.Fields
	}
	return u.Patch.Fields()
}

type penaltyElem struct {
	Player    int  `xml:"player,attr"`
	Remaining int  `xml:"remaining,attr"`
	Active    bool `xml:"active,attr"`
}

type penaltyList struct {
	Penalties []penaltyElem `xml:"penalty"`
}

// document is the XML shape of an update. Element names match game.FieldID.
type document struct {
	XMLName xml.Name    `xml:"scoreboard"`
	Type    MessageType `xml:"type,attr"`
	Session string      `xml:"session,attr,omitempty"`
	Seq     uint64      `xml:"seq,attr"`

	HomeScore        *int         `xml:"homeScore,omitempty"`
	GuestScore       *int         `xml:"guestScore,omitempty"`
	Period           *int         `xml:"period,omitempty"`
	Clock            *int         `xml:"clock,omitempty"`
	Running          *bool        `xml:"running,omitempty"`
	HomeShotsOnGoal  *int         `xml:"homeShotsOnGoal,omitempty"`
	GuestShotsOnGoal *int         `xml:"guestShotsOnGoal,omitempty"`
	HomePenalties    *penaltyList `xml:"homePenalties,omitempty"`
	GuestPenalties   *penaltyList `xml:"guestPenalties,omitempty"`
}

func toPenaltyList(ps *[]game.Penalty) *penaltyList {
	if ps == nil {
		return nil
	}
	list := &penaltyList{}
	for _, p := range *ps {
		list.Penalties = append(list.Penalties, penaltyElem{
			Player:    p.PlayerNumber,
			Remaining: p.Remaining,
			Active:    p.Active,
		})
	}
	return list
}

// Serialize encodes u. The output is deterministic: the same update always
// produces the same bytes.
func Serialize(u Update) ([]byte, error) {
	var patch game.Patch
	switch u.Type {
	case Full:
		patch = u.Snapshot.Patch(game.Fields)
	case Delta:
		patch = u.Patch
	default:
		return nil, fmt.Errorf("unknown message type %q", u.Type)
	}

	doc := document{
		Type:             u.Type,
		Session:          u.Session,
		Seq:              u.Seq,
		HomeScore:        patch.HomeScore,
		GuestScore:       patch.GuestScore,
		Period:           patch.Period,
		Clock:            patch.Clock,
		Running:          patch.Running,
		HomeShotsOnGoal:  patch.HomeShotsOnGoal,
		GuestShotsOnGoal: patch.GuestShotsOnGoal,
		HomePenalties:    toPenaltyList(patch.HomePenalties),
		GuestPenalties:   toPenaltyList(patch.GuestPenalties),
	}

	body, err := xml.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("marshal update: %w", err)
	}

	return append([]byte(xml.Header), body...), nil
}
