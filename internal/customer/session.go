// Package customer implements the per-customer visit state machine and the
// seat pool customers compete for.
//
// A Session never reads a wall clock. Every method takes the current
// simulation time, and timed transitions happen only inside Advance, which
// the authority calls once per tick.
package customer

import (
	"time"

	"github.com/roach88/cafesync/internal/fault"
	"github.com/roach88/cafesync/internal/order"
)

// MaxPatience is the patience of a fresh or freshly fed customer.
const MaxPatience = 100.0

// Timing holds the durations that drive automatic transitions.
type Timing struct {
	// EnterTimeout bounds how long a customer waits for a seat before
	// leaving angry. Zero waits forever.
	EnterTimeout time.Duration `yaml:"enter_timeout"`

	// WalkToSeat and WalkToExit stand in for the movement layer when it is
	// absent. Zero means wait for an explicit ReachedSeat/ReachedExit.
	WalkToSeat time.Duration `yaml:"walk_to_seat"`
	WalkToExit time.Duration `yaml:"walk_to_exit"`

	SeatedDwell      time.Duration `yaml:"seated_dwell"`
	DecisionTime     time.Duration `yaml:"decision_time"`
	OrderTakenDelay  time.Duration `yaml:"order_taken_delay"`
	EatingDuration   time.Duration `yaml:"eating_duration"`
	PatienceInterval time.Duration `yaml:"patience_interval"`
	ExitGrace        time.Duration `yaml:"exit_grace"`
}

// DefaultTiming returns the house timings.
func DefaultTiming() Timing {
	return Timing{
		EnterTimeout:     30 * time.Second,
		SeatedDwell:      2 * time.Second,
		DecisionTime:     10 * time.Second,
		OrderTakenDelay:  time.Second,
		EatingDuration:   15 * time.Second,
		PatienceInterval: time.Second,
		ExitGrace:        5 * time.Second,
	}
}

// Event records one state transition.
type Event struct {
	SessionID string
	From      State
	To        State
	At        time.Time

	// Angry and Reason are set when To is StateLeaving.
	Angry  bool
	Reason Reason
}

// Env supplies what a session cannot decide on its own.
type Env interface {
	// PatienceLoss returns the patience lost over one decay interval.
	PatienceLoss() float64

	// DraftOrder builds the order a customer places once they have decided.
	DraftOrder(s *Session) (*order.Order, error)
}

// Session is one customer's visit.
type Session struct {
	ID          string
	DisplayName string

	state       State
	patience    float64
	enteredAt   time.Time
	arrivedAt   time.Time
	order       *order.Order
	seatID      string
	angry       bool
	reason      Reason
	orderFailed bool
	foodReady   bool
	decayAcc    time.Duration
	timing      Timing
}

// NewSession creates a customer who has just walked in.
func NewSession(id, displayName string, now time.Time, timing Timing) *Session {
	return &Session{
		ID:          id,
		DisplayName: displayName,
		state:       StateEntering,
		patience:    MaxPatience,
		enteredAt:   now,
		arrivedAt:   now,
		timing:      timing,
	}
}

func (s *Session) State() State { return s.state }
func (s *Session) Patience() float64 { return s.patience }
func (s *Session) StateEnteredAt() time.Time { return s.enteredAt }
func (s *Session) ArrivedAt() time.Time { return s.arrivedAt }
func (s *Session) Order() *order.Order { return s.order }
func (s *Session) SeatID() string { return s.seatID }
func (s *Session) Angry() bool { return s.angry }
func (s *Session) Reason() Reason { return s.reason }
func (s *Session) OrderFailed() bool { return s.orderFailed }

// ReleaseDue reports whether a departed session has outlived its grace delay.
func (s *Session) ReleaseDue(now time.Time) bool {
	return s.state == StateDeparted && now.Sub(s.enteredAt) >= s.timing.ExitGrace
}

// AssignSeat records a claimed seat and starts the walk to it.
func (s *Session) AssignSeat(seatID string, now time.Time) (Event, error) {
	if s.state != StateEntering {
		return Event{}, s.illegal("assign a seat")
	}
	if seatID == "" {
		return Event{}, fault.Validation("seat id is required")
	}
	s.seatID = seatID
	return s.transition(StateMovingToSeat, now), nil
}

// ReachedSeat consumes the movement layer's arrival signal.
func (s *Session) ReachedSeat(now time.Time) (Event, error) {
	if s.state != StateMovingToSeat {
		return Event{}, s.illegal("reach a seat")
	}
	return s.transition(StateSeated, now), nil
}

// TakeOrder hands the customer's order to a participant.
func (s *Session) TakeOrder(now time.Time) (Event, error) {
	if s.state != StateWaitingToOrder {
		return Event{}, s.illegal("take an order")
	}
	return s.transition(StateOrderTaken, now), nil
}

// ReplaceOrder swaps in an order composed at the counter and returns the
// one it replaced.
func (s *Session) ReplaceOrder(o *order.Order) (*order.Order, error) {
	if s.state != StateWaitingToOrder {
		return nil, s.illegal("replace the order")
	}
	prev := s.order
	s.order = o
	return prev, nil
}

// ServeFood delivers the ready order. A delivery that beats the customer to
// WaitingForFood is held and applied on arrival there.
func (s *Session) ServeFood(now time.Time) ([]Event, error) {
	switch s.state {
	case StateWaitingForFood:
		return []Event{s.transition(StateEating, now)}, nil
	case StateOrderTaken:
		s.foodReady = true
		return nil, nil
	}
	return nil, s.illegal("be served")
}

// ForcePatienceZero empties patience after the kitchen failed the order.
// It reports whether anything changed; only the first call does.
func (s *Session) ForcePatienceZero() bool {
	if s.orderFailed || !s.state.canRunOutOfPatience() {
		return false
	}
	s.orderFailed = true
	s.patience = 0
	return true
}

// ReachedExit consumes the movement layer's exit signal.
func (s *Session) ReachedExit(now time.Time) (Event, error) {
	if s.state != StateLeaving {
		return Event{}, s.illegal("reach the exit")
	}
	return s.transition(StateDeparted, now), nil
}

// Advance runs the timed transitions due at now. dt is the tick length and
// only feeds patience decay.
func (s *Session) Advance(now time.Time, dt time.Duration, env Env) []Event {
	if s.patience <= 0 && s.state.canRunOutOfPatience() {
		return []Event{s.leaveOutOfPatience(now)}
	}

	t := s.timing
	elapsed := now.Sub(s.enteredAt)

	switch s.state {
	case StateEntering:
		if t.EnterTimeout > 0 && elapsed >= t.EnterTimeout {
			return []Event{s.leave(now, true, ReasonNoSeat)}
		}

	case StateMovingToSeat:
		if t.WalkToSeat > 0 && elapsed >= t.WalkToSeat {
			return []Event{s.transition(StateSeated, now)}
		}

	case StateSeated:
		if elapsed >= t.SeatedDwell {
			return []Event{s.transition(StateDeciding, now)}
		}

	case StateDeciding:
		if elapsed >= t.DecisionTime {
			o, err := env.DraftOrder(s)
			if err != nil || o == nil || o.IsEmpty() {
				return []Event{s.leave(now, false, ReasonNothingToOrder)}
			}
			s.order = o
			return []Event{s.transition(StateWaitingToOrder, now)}
		}

	case StateWaitingToOrder, StateWaitingForFood:
		s.decay(min(dt, elapsed), env)
		if s.patience <= 0 {
			return []Event{s.leaveOutOfPatience(now)}
		}

	case StateOrderTaken:
		if elapsed >= t.OrderTakenDelay {
			events := []Event{s.transition(StateWaitingForFood, now)}
			if s.foodReady {
				s.foodReady = false
				events = append(events, s.transition(StateEating, now))
			}
			return events
		}

	case StateEating:
		if elapsed >= t.EatingDuration {
			return []Event{s.leave(now, false, ReasonServed)}
		}

	case StateLeaving:
		if t.WalkToExit > 0 && elapsed >= t.WalkToExit {
			return []Event{s.transition(StateDeparted, now)}
		}
	}
	return nil
}

func (s *Session) decay(step time.Duration, env Env) {
	interval := s.timing.PatienceInterval
	if interval <= 0 || step <= 0 {
		return
	}
	s.decayAcc += step
	for s.decayAcc >= interval {
		s.decayAcc -= interval
		s.patience = clampPatience(s.patience - env.PatienceLoss())
	}
}

func (s *Session) leaveOutOfPatience(now time.Time) Event {
	reason := ReasonImpatient
	if s.orderFailed {
		reason = ReasonOrderFailed
	}
	return s.leave(now, true, reason)
}

func (s *Session) leave(now time.Time, angry bool, reason Reason) Event {
	s.angry = angry
	s.reason = reason
	return s.transition(StateLeaving, now)
}

func (s *Session) transition(to State, now time.Time) Event {
	ev := Event{SessionID: s.ID, From: s.state, To: to, At: now}

	s.state = to
	s.enteredAt = now
	s.decayAcc = 0

	switch to {
	case StateEating:
		s.patience = MaxPatience
	case StateLeaving:
		ev.Angry = s.angry
		ev.Reason = s.reason
	}
	return ev
}

func (s *Session) illegal(action string) error {
	return fault.InvalidState("session", s.ID, "cannot %s while %s", action, s.state)
}

func clampPatience(p float64) float64 {
	return max(0, min(MaxPatience, p))
}
