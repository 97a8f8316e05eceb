package messages

import (
	"encoding/xml"
	"fmt"

	"go.uber.org/zap"

	"github.com/tecu23/scoreboard/pkg/game"
)

// ParseError reports a wire message that cannot be applied. The message is
// dropped; the receiver carries on.
type ParseError struct {
	Reason string
	Err    error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("parse update: %s: %v", e.Reason, e.Err)
	}
	return "parse update: " + e.Reason
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// Decoder turns wire bytes back into updates, clamping out-of-range values
// into the board's limits.
type Decoder struct {
	limits game.Limits
	logger *zap.Logger
}

// NewDecoder creates a decoder for boards with the given limits.
func NewDecoder(limits game.Limits, logger *zap.Logger) *Decoder {
	return &Decoder{limits: limits, logger: logger}
}

func fromPenaltyList(list *penaltyList) *[]game.Penalty {
	if list == nil {
		return nil
	}
	var ps []game.Penalty
	for _, p := range list.Penalties {
		ps = append(ps, game.Penalty{
			PlayerNumber: p.Player,
			Remaining:    p.Remaining,
			Active:       p.Active,
		})
	}
	return &ps
}

// Deserialize parses data. Unknown elements are skipped; out-of-range
// values are clamped with a warning; anything else malformed yields a
// *ParseError and no update.
func (d *Decoder) Deserialize(data []byte) (Update, error) {
	var doc document
	if err := xml.Unmarshal(data, &doc); err != nil {
		return Update{}, &ParseError{Reason: "malformed document", Err: err}
	}

	patch := game.Patch{
		HomeScore:        doc.HomeScore,
		GuestScore:       doc.GuestScore,
		Period:           doc.Period,
		Clock:            doc.Clock,
		Running:          doc.Running,
		HomeShotsOnGoal:  doc.HomeShotsOnGoal,
		GuestShotsOnGoal: doc.GuestShotsOnGoal,
		HomePenalties:    fromPenaltyList(doc.HomePenalties),
		GuestPenalties:   fromPenaltyList(doc.GuestPenalties),
	}

	u := Update{Type: doc.Type, Session: doc.Session, Seq: doc.Seq}

	// Absent fields of a full snapshot take their defaults; absent fields of
	// a delta stay absent.
	snap, errs := d.limits.Normalize(patch.ApplyTo(d.limits.Initial()))
	for i := range errs {
		d.logger.Warn("wire value clamped",
			zap.Error(&errs[i]),
			zap.String("session", doc.Session),
			zap.Uint64("seq", doc.Seq),
		)
	}

	switch doc.Type {
	case Full:
		u.Snapshot = snap
	case Delta:
		if patch.Empty() {
			return Update{}, &ParseError{Reason: "delta carries no fields"}
		}
		u.Patch = snap.Patch(patch.Fields())
	default:
		return Update{}, &ParseError{Reason: fmt.Sprintf("unknown message type %q", doc.Type)}
	}

	return u, nil
}
