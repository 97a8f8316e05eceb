package game

import "fmt"

// Limits bounds every numeric field of the board
type Limits struct {
	MaxScore          int `yaml:"max_score"`
	MaxShotsOnGoal    int `yaml:"max_shots_on_goal"`
	MinPeriod         int `yaml:"min_period"`
	MaxPeriod         int `yaml:"max_period"`
	PeriodSeconds     int `yaml:"period_seconds"`      // clock value at the start of a period
	MaxClockSeconds   int `yaml:"max_clock_seconds"`   // largest value the clock digits can show
	MaxPenalties      int `yaml:"max_penalties"`       // per side
	MaxPenaltySeconds int `yaml:"max_penalty_seconds"` // per penalty
	MaxPlayerNumber   int `yaml:"max_player_number"`
}

// DefaultLimits returns the limits of a two-digit hockey board with four
// periods of twenty minutes.
func DefaultLimits() Limits {
	return Limits{
		MaxScore:          99,
		MaxShotsOnGoal:    99,
		MinPeriod:         1,
		MaxPeriod:         4,
		PeriodSeconds:     20 * 60,
		MaxClockSeconds:   99*60 + 59,
		MaxPenalties:      2,
		MaxPenaltySeconds: 99*60 + 59,
		MaxPlayerNumber:   99,
	}
}

// Validate reports limits that no board could satisfy.
func (l Limits) Validate() error {
	switch {
	case l.MaxScore < 0 || l.MaxShotsOnGoal < 0 || l.MaxPlayerNumber < 0:
		return fmt.Errorf("limits must not be negative")
	case l.MinPeriod < 1 || l.MaxPeriod < l.MinPeriod:
		return fmt.Errorf("period range %d..%d is invalid", l.MinPeriod, l.MaxPeriod)
	case l.MaxClockSeconds <= 0 || l.PeriodSeconds <= 0 || l.PeriodSeconds > l.MaxClockSeconds:
		return fmt.Errorf("period length %ds does not fit clock limit %ds", l.PeriodSeconds, l.MaxClockSeconds)
	case l.MaxPenalties < 0 || l.MaxPenaltySeconds <= 0:
		return fmt.Errorf("penalty limits are invalid")
	}
	return nil
}

// Initial returns the snapshot of a board before the first face-off.
func (l Limits) Initial() Snapshot {
	return Snapshot{
		Period: l.MinPeriod,
		Clock:  l.PeriodSeconds,
	}
}

// Normalize clamps every field of s into the limits and returns the adjusted
// snapshot together with one ValidationError per adjustment.
func (l Limits) Normalize(s Snapshot) (Snapshot, []ValidationError) {
	var errs []ValidationError

	clamp := func(field FieldID, v *int, lo, hi int) {
		switch {
		case *v < lo:
			errs = append(errs, ValidationError{Field: field, Value: *v, Reason: fmt.Sprintf("below minimum %d", lo)})
			*v = lo
		case *v > hi:
			errs = append(errs, ValidationError{Field: field, Value: *v, Reason: fmt.Sprintf("above maximum %d", hi)})
			*v = hi
		}
	}

	clamp(FieldHomeScore, &s.HomeScore, 0, l.MaxScore)
	clamp(FieldGuestScore, &s.GuestScore, 0, l.MaxScore)
	clamp(FieldPeriod, &s.Period, l.MinPeriod, l.MaxPeriod)
	clamp(FieldClock, &s.Clock, 0, l.MaxClockSeconds)
	clamp(FieldHomeShotsOnGoal, &s.HomeShotsOnGoal, 0, l.MaxShotsOnGoal)
	clamp(FieldGuestShotsOnGoal, &s.GuestShotsOnGoal, 0, l.MaxShotsOnGoal)

	var perrs []ValidationError
	s.HomePenalties, perrs = l.normalizePenalties(FieldHomePenalties, s.HomePenalties)
	errs = append(errs, perrs...)
	s.GuestPenalties, perrs = l.normalizePenalties(FieldGuestPenalties, s.GuestPenalties)
	errs = append(errs, perrs...)

	return s, errs
}

func (l Limits) normalizePenalties(field FieldID, ps []Penalty) ([]Penalty, []ValidationError) {
	var errs []ValidationError

	if len(ps) > l.MaxPenalties {
		errs = append(errs, ValidationError{
			Field:  field,
			Value:  len(ps),
			Reason: fmt.Sprintf("more than %d penalties, extra dropped", l.MaxPenalties),
		})
		ps = ps[:l.MaxPenalties]
	}

	out := make([]Penalty, 0, len(ps))
	for _, p := range ps {
		if p.PlayerNumber < 0 || p.PlayerNumber > l.MaxPlayerNumber {
			errs = append(errs, ValidationError{Field: field, Value: p.PlayerNumber, Reason: "player number out of range"})
			p.PlayerNumber = clampInt(p.PlayerNumber, 0, l.MaxPlayerNumber)
		}
		if p.Remaining < 0 || p.Remaining > l.MaxPenaltySeconds {
			errs = append(errs, ValidationError{Field: field, Value: p.Remaining, Reason: "penalty time out of range"})
			p.Remaining = clampInt(p.Remaining, 0, l.MaxPenaltySeconds)
		}
		// An expired penalty is no longer on the board
		if p.Remaining == 0 {
			continue
		}
		out = append(out, p)
	}

	return clonePenalties(out), errs
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
