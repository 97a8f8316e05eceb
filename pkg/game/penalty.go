package game

// Penalty is a timed penalty served by one player
type Penalty struct {
	PlayerNumber int  `json:"player"`
	Remaining    int  `json:"remaining"` // seconds
	Active       bool `json:"active"`
}

// clonePenalties returns a copy of ps, or nil when ps is empty, so that an
// empty penalty box always compares equal regardless of how it was built.
func clonePenalties(ps []Penalty) []Penalty {
	if len(ps) == 0 {
		return nil
	}
	out := make([]Penalty, len(ps))
	copy(out, ps)
	return out
}

// tickPenalties counts active penalties down by one second and removes the
// ones that expire. It reports whether anything changed.
func tickPenalties(ps []Penalty) ([]Penalty, bool) {
	changed := false
	out := ps[:0]
	for _, p := range ps {
		if p.Active && p.Remaining > 0 {
			p.Remaining--
			changed = true
		}
		if p.Remaining == 0 {
			changed = true
			continue
		}
		out = append(out, p)
	}
	return clonePenalties(out), changed
}

func penaltiesEqual(a, b []Penalty) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
