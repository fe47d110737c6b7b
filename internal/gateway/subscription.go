package gateway

import (
	"sync/atomic"

	"github.com/roach88/cafesync/internal/wire"
)

// Subscription is one observer's feed. The first envelope is always the
// welcome snapshot. The channel is closed when the observer leaves, falls
// too far behind, or the gateway stops.
type Subscription struct {
	ID   string
	Name string

	out     chan wire.Envelope
	dropped atomic.Bool
	closed  bool
}

func newSubscription(id, name string, outbox int) *Subscription {
	return &Subscription{ID: id, Name: name, out: make(chan wire.Envelope, outbox)}
}

// Envelopes returns the feed.
func (s *Subscription) Envelopes() <-chan wire.Envelope {
	return s.out
}

// Dropped reports whether the gateway cut this observer off for being slow.
func (s *Subscription) Dropped() bool {
	return s.dropped.Load()
}

// offer delivers env without blocking and reports whether it fit.
func (s *Subscription) offer(env wire.Envelope) bool {
	select {
	case s.out <- env:
		return true
	default:
		return false
	}
}

func (s *Subscription) close() {
	if s.closed {
		return
	}
	s.closed = true
	close(s.out)
}
