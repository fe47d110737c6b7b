package order

import (
	"fmt"

	"github.com/roach88/cafesync/internal/fault"
)

// Status is the lifecycle position of an order.
type Status int

const (
	StatusPending Status = iota + 1
	StatusConfirmed
	StatusInProgress
	StatusReady
	StatusCompleted
	StatusCancelled
)

var statusNames = map[Status]string{
	StatusPending:    "Pending",
	StatusConfirmed:  "Confirmed",
	StatusInProgress: "InProgress",
	StatusReady:      "Ready",
	StatusCompleted:  "Completed",
	StatusCancelled:  "Cancelled",
}

// next lists the forward edges of the status machine. Cancelled is
// reachable from every non-terminal status and is handled separately.
var next = map[Status]Status{
	StatusPending:    StatusConfirmed,
	StatusConfirmed:  StatusInProgress,
	StatusInProgress: StatusReady,
	StatusReady:      StatusCompleted,
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("Status(%d)", int(s))
}

// IsTerminal reports whether no further transitions are possible.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// CanTransition reports whether s -> to is an edge of the status machine.
func (s Status) CanTransition(to Status) bool {
	if s.IsTerminal() {
		return false
	}
	if to == StatusCancelled {
		return true
	}
	return next[s] == to
}

// ParseStatus resolves a status by name.
func ParseStatus(name string) (Status, error) {
	for s, n := range statusNames {
		if n == name {
			return s, nil
		}
	}
	return 0, fault.Validation("unknown order status %q", name)
}

// MarshalText implements encoding.TextMarshaler.
func (s Status) MarshalText() ([]byte, error) {
	if _, ok := statusNames[s]; !ok {
		return nil, fmt.Errorf("invalid order status %d", int(s))
	}
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Status) UnmarshalText(b []byte) error {
	parsed, err := ParseStatus(string(b))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
