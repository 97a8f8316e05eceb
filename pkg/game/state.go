package game

import (
	"github.com/sasha-s/go-deadlock"
	"go.uber.org/zap"

	"github.com/tecu23/scoreboard/pkg/events"
)

// Snapshot is a complete, consistent copy of every scoreboard field
type Snapshot struct {
	HomeScore        int       `json:"homeScore"`
	GuestScore       int       `json:"guestScore"`
	Period           int       `json:"period"`
	Clock            int       `json:"clock"` // seconds left in the period
	Running          bool      `json:"running"`
	HomeShotsOnGoal  int       `json:"homeShotsOnGoal"`
	GuestShotsOnGoal int       `json:"guestShotsOnGoal"`
	HomePenalties    []Penalty `json:"homePenalties"`
	GuestPenalties   []Penalty `json:"guestPenalties"`
}

// Clone returns a deep copy of s.
func (s Snapshot) Clone() Snapshot {
	s.HomePenalties = clonePenalties(s.HomePenalties)
	s.GuestPenalties = clonePenalties(s.GuestPenalties)
	return s
}

// Value returns the current value of a single field.
func (s Snapshot) Value(field FieldID) interface{} {
	switch field {
	case FieldHomeScore:
		return s.HomeScore
	case FieldGuestScore:
		return s.GuestScore
	case FieldPeriod:
		return s.Period
	case FieldClock:
		return s.Clock
	case FieldRunning:
		return s.Running
	case FieldHomeShotsOnGoal:
		return s.HomeShotsOnGoal
	case FieldGuestShotsOnGoal:
		return s.GuestShotsOnGoal
	case FieldHomePenalties:
		return clonePenalties(s.HomePenalties)
	case FieldGuestPenalties:
		return clonePenalties(s.GuestPenalties)
	}
	return nil
}

// Diff lists the fields whose values differ between s and other.
func (s Snapshot) Diff(other Snapshot) []FieldID {
	var fields []FieldID
	for _, f := range Fields {
		switch f {
		case FieldHomePenalties:
			if !penaltiesEqual(s.HomePenalties, other.HomePenalties) {
				fields = append(fields, f)
			}
		case FieldGuestPenalties:
			if !penaltiesEqual(s.GuestPenalties, other.GuestPenalties) {
				fields = append(fields, f)
			}
		default:
			if s.Value(f) != other.Value(f) {
				fields = append(fields, f)
			}
		}
	}
	return fields
}

// Patch restricts s to the given fields.
func (s Snapshot) Patch(fields []FieldID) Patch {
	var p Patch
	for _, f := range fields {
		p.set(f, s)
	}
	return p
}

// Patch carries the fields of a delta update; nil means unchanged.
type Patch struct {
	HomeScore        *int
	GuestScore       *int
	Period           *int
	Clock            *int
	Running          *bool
	HomeShotsOnGoal  *int
	GuestShotsOnGoal *int
	HomePenalties    *[]Penalty
	GuestPenalties   *[]Penalty
}

func (p *Patch) set(f FieldID, s Snapshot) {
	intp := func(v int) *int { return &v }
	switch f {
	case FieldHomeScore:
		p.HomeScore = intp(s.HomeScore)
	case FieldGuestScore:
		p.GuestScore = intp(s.GuestScore)
	case FieldPeriod:
		p.Period = intp(s.Period)
	case FieldClock:
		p.Clock = intp(s.Clock)
	case FieldRunning:
		running := s.Running
		p.Running = &running
	case FieldHomeShotsOnGoal:
		p.HomeShotsOnGoal = intp(s.HomeShotsOnGoal)
	case FieldGuestShotsOnGoal:
		p.GuestShotsOnGoal = intp(s.GuestShotsOnGoal)
	case FieldHomePenalties:
		ps := clonePenalties(s.HomePenalties)
		p.HomePenalties = &ps
	case FieldGuestPenalties:
		ps := clonePenalties(s.GuestPenalties)
		p.GuestPenalties = &ps
	}
}

// Fields lists the fields present in the patch, in wire order.
func (p Patch) Fields() []FieldID {
	present := map[FieldID]bool{
		FieldHomeScore:        p.HomeScore != nil,
		FieldGuestScore:       p.GuestScore != nil,
		FieldPeriod:           p.Period != nil,
		FieldClock:            p.Clock != nil,
		FieldRunning:          p.Running != nil,
		FieldHomeShotsOnGoal:  p.HomeShotsOnGoal != nil,
		FieldGuestShotsOnGoal: p.GuestShotsOnGoal != nil,
		FieldHomePenalties:    p.HomePenalties != nil,
		FieldGuestPenalties:   p.GuestPenalties != nil,
	}
	var fields []FieldID
	for _, f := range Fields {
		if present[f] {
			fields = append(fields, f)
		}
	}
	return fields
}

// Empty reports whether the patch changes nothing.
func (p Patch) Empty() bool {
	return p == Patch{}
}

// ApplyTo returns base with the patch's fields overwritten.
func (p Patch) ApplyTo(base Snapshot) Snapshot {
	s := base.Clone()
	if p.HomeScore != nil {
		s.HomeScore = *p.HomeScore
	}
	if p.GuestScore != nil {
		s.GuestScore = *p.GuestScore
	}
	if p.Period != nil {
		s.Period = *p.Period
	}
	if p.Clock != nil {
		s.Clock = *p.Clock
	}
	if p.Running != nil {
		s.Running = *p.Running
	}
	if p.HomeShotsOnGoal != nil {
		s.HomeShotsOnGoal = *p.HomeShotsOnGoal
	}
	if p.GuestShotsOnGoal != nil {
		s.GuestShotsOnGoal = *p.GuestShotsOnGoal
	}
	if p.HomePenalties != nil {
		s.HomePenalties = clonePenalties(*p.HomePenalties)
	}
	if p.GuestPenalties != nil {
		s.GuestPenalties = clonePenalties(*p.GuestPenalties)
	}
	return s
}

// State is the mutable scoreboard. Every mutation, whether it comes from the
// operator, the timer or the network, goes through update, which holds the
// single state lock for the whole change.
type State struct {
	mu       deadlock.Mutex
	notifyMu deadlock.Mutex // keeps notifications in mutation order

	limits Limits
	s      Snapshot

	publisher *events.Publisher
	logger    *zap.Logger
}

// NewState creates a board at its initial values.
func NewState(limits Limits, publisher *events.Publisher, logger *zap.Logger) *State {
	return &State{
		limits:    limits,
		s:         limits.Initial(),
		publisher: publisher,
		logger:    logger,
	}
}

// Limits returns the bounds the state enforces.
func (st *State) Limits() Limits {
	return st.limits
}

// Snapshot returns a consistent copy of all fields.
func (st *State) Snapshot() Snapshot {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.s.Clone()
}

// Running reports whether the game clock is running.
func (st *State) Running() bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.s.Running
}

// update applies fn under the state lock and publishes one EventStateChanged
// per changed field. Notifications are sent after the state lock is released
// but before the next mutation can publish, so handlers may read the state
// but must not mutate it.
func (st *State) update(fn func(s *Snapshot) []FieldID) bool {
	st.mu.Lock()
	fields := fn(&st.s)
	if len(fields) == 0 {
		st.mu.Unlock()
		return false
	}

	changes := make([]Change, 0, len(fields))
	for _, f := range fields {
		changes = append(changes, Change{Field: f, Value: st.s.Value(f)})
	}

	st.notifyMu.Lock()
	st.mu.Unlock()
	defer st.notifyMu.Unlock()

	for _, c := range changes {
		st.publisher.Publish(events.Event{Type: events.EventStateChanged, Payload: c})
	}
	return true
}

func (st *State) reject(field FieldID, value int, reason string) {
	st.logger.Warn("mutation ignored", zap.Error(&ValidationError{Field: field, Value: value, Reason: reason}))
}

// setInt clamps v into [lo, hi], logging any adjustment, and stores it.
func (st *State) setInt(field FieldID, dst *int, v, lo, hi int) []FieldID {
	clamped := clampInt(v, lo, hi)
	if clamped != v {
		st.logger.Warn("mutation clamped",
			zap.Error(&ValidationError{Field: field, Value: v, Reason: "out of range"}),
			zap.Int("stored", clamped),
		)
	}
	if *dst == clamped {
		return nil
	}
	*dst = clamped
	return []FieldID{field}
}

func (st *State) intField(s *Snapshot, field FieldID) (*int, int, int) {
	switch field {
	case FieldHomeScore:
		return &s.HomeScore, 0, st.limits.MaxScore
	case FieldGuestScore:
		return &s.GuestScore, 0, st.limits.MaxScore
	case FieldPeriod:
		return &s.Period, st.limits.MinPeriod, st.limits.MaxPeriod
	case FieldClock:
		return &s.Clock, 0, st.limits.MaxClockSeconds
	case FieldHomeShotsOnGoal:
		return &s.HomeShotsOnGoal, 0, st.limits.MaxShotsOnGoal
	case FieldGuestShotsOnGoal:
		return &s.GuestShotsOnGoal, 0, st.limits.MaxShotsOnGoal
	}
	return nil, 0, 0
}

// Set stores value into a numeric field, or into the running flag where any
// non-zero value means running. Penalty fields cannot be set this way.
func (st *State) Set(field FieldID, value int) bool {
	return st.update(func(s *Snapshot) []FieldID {
		if field == FieldRunning {
			return st.setRunning(s, value != 0)
		}
		dst, lo, hi := st.intField(s, field)
		if dst == nil {
			st.reject(field, value, "field is not settable")
			return nil
		}
		return st.setInt(field, dst, value, lo, hi)
	})
}

// Add adjusts a numeric field by delta, clamping the result.
func (st *State) Add(field FieldID, delta int) bool {
	return st.update(func(s *Snapshot) []FieldID {
		dst, lo, hi := st.intField(s, field)
		if dst == nil {
			st.reject(field, delta, "field is not numeric")
			return nil
		}
		return st.setInt(field, dst, *dst+delta, lo, hi)
	})
}

// IncrementScore adds one goal to side.
func (st *State) IncrementScore(side Side) bool {
	return st.Add(side.ScoreField(), 1)
}

// DecrementScore removes one goal from side; it never goes below zero.
func (st *State) DecrementScore(side Side) bool {
	return st.Add(side.ScoreField(), -1)
}

// IncrementShotsOnGoal adds one shot to side.
func (st *State) IncrementShotsOnGoal(side Side) bool {
	return st.Add(side.ShotsField(), 1)
}

// SetClock sets the seconds left in the period.
func (st *State) SetClock(seconds int) bool {
	return st.Set(FieldClock, seconds)
}

// SetPeriod sets the period, clamped to the configured range.
func (st *State) SetPeriod(period int) bool {
	return st.Set(FieldPeriod, period)
}

// NextPeriod advances to the next period, stops the clock and resets it to
// a full period. Penalties carry over.
func (st *State) NextPeriod() bool {
	return st.update(func(s *Snapshot) []FieldID {
		if s.Period >= st.limits.MaxPeriod {
			st.reject(FieldPeriod, s.Period+1, "already in the last period")
			return nil
		}
		var fields []FieldID
		fields = append(fields, st.setInt(FieldPeriod, &s.Period, s.Period+1, st.limits.MinPeriod, st.limits.MaxPeriod)...)
		fields = append(fields, st.setRunning(s, false)...)
		fields = append(fields, st.setInt(FieldClock, &s.Clock, st.limits.PeriodSeconds, 0, st.limits.MaxClockSeconds)...)
		return fields
	})
}

// Start starts the game clock. A clock at zero cannot be started.
func (st *State) Start() bool {
	return st.update(func(s *Snapshot) []FieldID {
		if s.Clock == 0 {
			st.reject(FieldClock, 0, "clock has expired")
			return nil
		}
		return st.setRunning(s, true)
	})
}

// Stop stops the game clock.
func (st *State) Stop() bool {
	return st.update(func(s *Snapshot) []FieldID {
		return st.setRunning(s, false)
	})
}

func (st *State) setRunning(s *Snapshot, running bool) []FieldID {
	if s.Running == running {
		return nil
	}
	if running && s.Clock == 0 {
		st.reject(FieldRunning, 1, "clock has expired")
		return nil
	}
	s.Running = running
	return []FieldID{FieldRunning}
}

func penaltiesOf(s *Snapshot, side Side) *[]Penalty {
	if side == Home {
		return &s.HomePenalties
	}
	return &s.GuestPenalties
}

// AddPenalty assesses a penalty to player on side. It is a no-op when the
// side already holds the maximum number of penalties.
func (st *State) AddPenalty(side Side, player, seconds int) bool {
	return st.update(func(s *Snapshot) []FieldID {
		field := side.PenaltiesField()
		ps := penaltiesOf(s, side)
		switch {
		case len(*ps) >= st.limits.MaxPenalties:
			st.reject(field, len(*ps)+1, "penalty box is full")
			return nil
		case player < 0 || player > st.limits.MaxPlayerNumber:
			st.reject(field, player, "player number out of range")
			return nil
		case seconds <= 0:
			st.reject(field, seconds, "penalty time must be positive")
			return nil
		}
		if seconds > st.limits.MaxPenaltySeconds {
			st.logger.Warn("mutation clamped",
				zap.Error(&ValidationError{Field: field, Value: seconds, Reason: "penalty time out of range"}),
				zap.Int("stored", st.limits.MaxPenaltySeconds),
			)
			seconds = st.limits.MaxPenaltySeconds
		}
		*ps = append(clonePenalties(*ps), Penalty{PlayerNumber: player, Remaining: seconds, Active: true})
		return []FieldID{field}
	})
}

// ClearPenalty removes the penalty at index from side.
func (st *State) ClearPenalty(side Side, index int) bool {
	return st.update(func(s *Snapshot) []FieldID {
		ps := penaltiesOf(s, side)
		if index < 0 || index >= len(*ps) {
			st.reject(side.PenaltiesField(), index, "no penalty at index")
			return nil
		}
		out := clonePenalties(*ps)
		*ps = clonePenalties(append(out[:index], out[index+1:]...))
		return []FieldID{side.PenaltiesField()}
	})
}

// Tick advances the running clock and active penalties by one second. When
// the clock reaches zero it stops. Tick on a stopped clock is a no-op.
func (st *State) Tick() bool {
	return st.update(func(s *Snapshot) []FieldID {
		if !s.Running {
			return nil
		}
		var fields []FieldID
		if s.Clock > 0 {
			s.Clock--
			fields = append(fields, FieldClock)
		}

		var changed bool
		if s.HomePenalties, changed = tickPenalties(s.HomePenalties); changed {
			fields = append(fields, FieldHomePenalties)
		}
		if s.GuestPenalties, changed = tickPenalties(s.GuestPenalties); changed {
			fields = append(fields, FieldGuestPenalties)
		}

		if s.Clock == 0 {
			s.Running = false
			fields = append(fields, FieldRunning)
		}
		return fields
	})
}

// Reset restores the board to its initial values.
func (st *State) Reset() bool {
	return st.Replace(st.limits.Initial())
}

// Replace overwrites every field with snap, clamped into the limits. Only
// fields that actually differ are notified, so replacing with the same
// snapshot twice changes nothing the second time.
func (st *State) Replace(snap Snapshot) bool {
	snap, errs := st.limits.Normalize(snap)
	for i := range errs {
		st.logger.Warn("snapshot value clamped", zap.Error(&errs[i]))
	}
	return st.update(func(s *Snapshot) []FieldID {
		fields := s.Diff(snap)
		*s = snap
		return fields
	})
}

// ApplyPatch overwrites the fields present in p in one step.
func (st *State) ApplyPatch(p Patch) bool {
	if p.Empty() {
		return false
	}
	return st.update(func(s *Snapshot) []FieldID {
		next, errs := st.limits.Normalize(p.ApplyTo(*s))
		for i := range errs {
			st.logger.Warn("patch value clamped", zap.Error(&errs[i]))
		}
		fields := s.Diff(next)
		*s = next
		return fields
	})
}
