package customer

import (
	"fmt"

	"github.com/roach88/cafesync/internal/fault"
)

// State is a customer's position in the visit lifecycle.
type State int

const (
	StateEntering State = iota + 1
	StateMovingToSeat
	StateSeated
	StateDeciding
	StateWaitingToOrder
	StateOrderTaken
	StateWaitingForFood
	StateEating
	StateLeaving
	StateDeparted
)

var stateNames = map[State]string{
	StateEntering:       "Entering",
	StateMovingToSeat:   "MovingToSeat",
	StateSeated:         "Seated",
	StateDeciding:       "Deciding",
	StateWaitingToOrder: "WaitingToOrder",
	StateOrderTaken:     "OrderTaken",
	StateWaitingForFood: "WaitingForFood",
	StateEating:         "Eating",
	StateLeaving:        "Leaving",
	StateDeparted:       "Departed",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// ParseState resolves a state by name.
func ParseState(name string) (State, error) {
	for s, n := range stateNames {
		if n == name {
			return s, nil
		}
	}
	return 0, fault.Validation("unknown customer state %q", name)
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) {
	if _, ok := stateNames[s]; !ok {
		return nil, fmt.Errorf("invalid customer state %d", int(s))
	}
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *State) UnmarshalText(b []byte) error {
	parsed, err := ParseState(string(b))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// decays reports whether patience drops while in s.
func (s State) decays() bool {
	return s == StateWaitingToOrder || s == StateWaitingForFood
}

// canRunOutOfPatience reports whether reaching zero patience forces an
// angry departure from s.
func (s State) canRunOutOfPatience() bool {
	switch s {
	case StateEating, StateLeaving, StateDeparted:
		return false
	}
	return true
}

// Reason explains why a customer left.
type Reason string

const (
	ReasonServed         Reason = "served"
	ReasonImpatient      Reason = "impatient"
	ReasonOrderFailed    Reason = "order_failed"
	ReasonNoSeat         Reason = "no_seat"
	ReasonNothingToOrder Reason = "nothing_to_order"
)
