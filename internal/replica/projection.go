// Package replica rebuilds the authority's observable state from a stream
// of envelopes. A Projection is read-only with respect to the world: it
// never originates state, it only applies what the authority sent.
package replica

import (
	"cmp"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/cafesync/internal/customer"
	"github.com/roach88/cafesync/internal/order"
	"github.com/roach88/cafesync/internal/wire"
)

// ErrNotWelcomed is returned for deltas that arrive before the welcome
// snapshot.
var ErrNotWelcomed = errors.New("delta before welcome snapshot")

// GapError reports a missing sequence number.
type GapError struct {
	Expected int64
	Got      int64
}

func (e *GapError) Error() string {
	return fmt.Sprintf("sequence gap: expected %d, got %d", e.Expected, e.Got)
}

// IsGap reports whether err is a GapError.
func IsGap(err error) bool {
	var g *GapError
	return errors.As(err, &g)
}

// Projection is one observer's view. It is not safe for concurrent use.
type Projection struct {
	seq       int64
	welcomed  bool
	orders    map[int64]wire.OrderView
	customers map[string]wire.CustomerView
}

// New returns a projection waiting for its welcome snapshot.
func New() *Projection {
	return &Projection{
		orders:    make(map[int64]wire.OrderView),
		customers: make(map[string]wire.CustomerView),
	}
}

// Seq returns the sequence number of the last applied envelope.
func (p *Projection) Seq() int64 { return p.seq }

// Welcomed reports whether a welcome snapshot has been applied.
func (p *Projection) Welcomed() bool { return p.welcomed }

// Apply applies one envelope. A welcome snapshot replaces the whole view.
// Deltas at or below the current sequence are ignored.
func (p *Projection) Apply(env wire.Envelope) error {
	payload, err := env.Open()
	if err != nil {
		return err
	}

	if snap, ok := payload.(wire.WelcomeSnapshot); ok {
		p.reset(snap)
		p.seq = env.Seq
		p.welcomed = true
		return nil
	}

	if !p.welcomed {
		return fmt.Errorf("%s seq %d: %w", env.Type, env.Seq, ErrNotWelcomed)
	}
	if env.Seq <= p.seq {
		return nil
	}
	if env.Seq != p.seq+1 {
		return &GapError{Expected: p.seq + 1, Got: env.Seq}
	}

	if err := p.applyDelta(payload); err != nil {
		return fmt.Errorf("apply %s seq %d: %w", env.Type, env.Seq, err)
	}
	p.seq = env.Seq
	return nil
}

func (p *Projection) reset(snap wire.WelcomeSnapshot) {
	clear(p.orders)
	clear(p.customers)
	for _, o := range snap.ActiveOrders {
		p.orders[o.OrderID] = o
	}
	for _, c := range snap.ActiveCustomers {
		p.customers[c.SessionID] = c
	}
}

func (p *Projection) applyDelta(payload wire.Payload) error {
	switch m := payload.(type) {
	case wire.CustomerArrived:
		p.customers[m.SessionID] = wire.CustomerView{
			SessionID:   m.SessionID,
			DisplayName: m.DisplayName,
			State:       customer.StateEntering,
			Patience:    customer.MaxPatience,
		}

	case wire.CustomerStateChanged:
		c, ok := p.customers[m.SessionID]
		if !ok {
			return fmt.Errorf("unknown customer %s", m.SessionID)
		}
		c.State = m.NewState
		if m.SeatID != "" {
			c.SeatID = m.SeatID
		}
		if m.NewState == customer.StateEating {
			c.Patience = customer.MaxPatience
		}
		p.customers[m.SessionID] = c

	case wire.CustomerDeparted:
		c, ok := p.customers[m.SessionID]
		if !ok {
			return fmt.Errorf("unknown customer %s", m.SessionID)
		}
		c.State = customer.StateLeaving
		c.Angry = m.Angry
		c.Reason = m.Reason
		p.customers[m.SessionID] = c

	case wire.CustomerRemoved:
		delete(p.customers, m.SessionID)

	case wire.OrderCreated:
		p.orders[m.OrderID] = wire.OrderView{
			OrderID:   m.OrderID,
			SessionID: m.SessionID,
			Status:    order.StatusPending,
			LineItems: m.LineItems,
			Total:     m.Total,
		}
		if c, ok := p.customers[m.SessionID]; ok {
			c.OrderID = m.OrderID
			p.customers[m.SessionID] = c
		}

	case wire.OrderStatusChanged:
		o, ok := p.orders[m.OrderID]
		if !ok {
			if m.NewStatus.IsTerminal() {
				return nil
			}
			return fmt.Errorf("unknown order %d", m.OrderID)
		}
		if m.NewStatus.IsTerminal() {
			delete(p.orders, m.OrderID)
			return nil
		}
		o.Status = m.NewStatus
		if m.TakenBy != "" {
			o.TakenBy = m.TakenBy
		}
		p.orders[m.OrderID] = o

	default:
		return fmt.Errorf("unexpected payload %s", payload.Kind())
	}
	return nil
}

// Snapshot returns the projected state, orders by id and customers by
// session id.
func (p *Projection) Snapshot() wire.WelcomeSnapshot {
	orders := make([]wire.OrderView, 0, len(p.orders))
	for _, o := range p.orders {
		orders = append(orders, o)
	}
	slices.SortFunc(orders, func(a, b wire.OrderView) int {
		return cmp.Compare(a.OrderID, b.OrderID)
	})

	customers := make([]wire.CustomerView, 0, len(p.customers))
	for _, c := range p.customers {
		customers = append(customers, c)
	}
	slices.SortFunc(customers, func(a, b wire.CustomerView) int {
		return strings.Compare(a.SessionID, b.SessionID)
	})
	return wire.WelcomeSnapshot{ActiveOrders: orders, ActiveCustomers: customers}
}

// Digest returns the snapshot digest of the projected state.
func (p *Projection) Digest() (string, error) {
	return wire.Digest(p.Snapshot())
}

// Customer returns one projected customer.
func (p *Projection) Customer(sessionID string) (wire.CustomerView, bool) {
	c, ok := p.customers[sessionID]
	return c, ok
}

// Order returns one projected order.
func (p *Projection) Order(orderID int64) (wire.OrderView, bool) {
	o, ok := p.orders[orderID]
	return o, ok
}
