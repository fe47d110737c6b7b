// Package sim composes the menu, the order ledger, the seat pool and the
// customer sessions into one authoritative world.
//
// A World is a plain state machine: intent handlers and Tick mutate it and
// queue the resulting deltas, which the caller collects with Drain. It does
// no locking and reads no clocks. The gateway owns it and serializes every
// call.
package sim

import (
	"cmp"
	"log/slog"
	"math/rand"
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/roach88/cafesync/internal/customer"
	"github.com/roach88/cafesync/internal/fault"
	"github.com/roach88/cafesync/internal/ledger"
	"github.com/roach88/cafesync/internal/menu"
	"github.com/roach88/cafesync/internal/order"
	"github.com/roach88/cafesync/internal/wire"
)

// Stats summarizes the world.
type Stats struct {
	Customers int          `json:"customers"`
	FreeSeats int          `json:"freeSeats"`
	Served    int          `json:"customersServed"`
	Walkouts  int          `json:"walkouts"`
	Orders    ledger.Stats `json:"orders"`
}

// World is the authority state.
type World struct {
	cfg     Config
	catalog *menu.Catalog
	ledger  *ledger.Ledger
	seats   *customer.SeatPool
	ids     IDGenerator
	rng     *rand.Rand
	logger  *slog.Logger

	now      time.Time
	sessions map[string]*customer.Session
	arrivals []string
	spawnAcc time.Duration

	pending  []wire.Payload
	deferred []customer.Event

	served   int
	walkouts int
}

// Option configures a World.
type Option func(*World)

// WithIDGenerator sets the session id source. The default is UUIDv7.
func WithIDGenerator(g IDGenerator) Option {
	return func(w *World) { w.ids = g }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(w *World) { w.logger = l }
}

// New creates an empty world at cfg.Start.
func New(catalog *menu.Catalog, cfg Config, opts ...Option) (*World, error) {
	if catalog == nil {
		return nil, fault.Validation("catalog is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fault.Validation("invalid world config: %v", err)
	}
	seats, err := customer.NewSeatPool(customer.GridSeats(cfg.Seats))
	if err != nil {
		return nil, err
	}

	w := &World{
		cfg:      cfg,
		catalog:  catalog,
		seats:    seats,
		ids:      UUIDv7Generator{},
		rng:      rand.New(rand.NewSource(cfg.Seed)),
		logger:   slog.Default(),
		now:      cfg.Start,
		sessions: make(map[string]*customer.Session),
	}
	for _, opt := range opts {
		opt(w)
	}

	w.ledger = ledger.New(catalog, kitchen{w},
		ledger.WithStart(cfg.Start),
		ledger.WithFixedWindow(cfg.FixedWindow),
		ledger.WithDeadlineCeiling(cfg.DeadlineCeiling),
		ledger.WithHistoryLimit(cfg.HistoryLimit),
	)
	return w, nil
}

// Now returns simulation time.
func (w *World) Now() time.Time { return w.now }

// Catalog returns the menu the world serves from.
func (w *World) Catalog() *menu.Catalog { return w.catalog }

// Tick advances the world by dt: sessions first in arrival order, then the
// ledger deadlines, the spawner, seat assignment and finally the removal of
// long-departed customers.
func (w *World) Tick(dt time.Duration) error {
	if dt <= 0 {
		return fault.Validation("tick length must be positive, got %s", dt)
	}
	w.now = w.now.Add(dt)

	for _, id := range slices.Clone(w.arrivals) {
		s := w.sessions[id]
		for _, ev := range s.Advance(w.now, dt, w) {
			w.onCustomerEvent(s, ev)
		}
	}

	for _, ev := range w.ledger.AdvanceTime(dt) {
		w.emitOrderEvent(ev)
	}

	if w.cfg.AutoSpawn {
		w.spawnAcc += dt
		for w.spawnAcc >= w.cfg.SpawnInterval {
			w.spawnAcc -= w.cfg.SpawnInterval
			if _, err := w.Spawn(""); err != nil {
				w.spawnAcc = 0
				break
			}
		}
	}

	w.assignSeats()
	w.releaseDeparted()
	return nil
}

// Spawn admits a new customer. An empty name draws a random one.
func (w *World) Spawn(name string) (string, error) {
	if w.cfg.MaxCustomers > 0 && len(w.sessions) >= w.cfg.MaxCustomers {
		return "", fault.InvalidState("cafe", "", "full at %d customers", w.cfg.MaxCustomers)
	}
	if name = strings.TrimSpace(name); name == "" {
		name = customer.RandomName(w.rng)
	}

	s := customer.NewSession(w.ids.Generate(), name, w.now, w.cfg.Timing)
	if _, dup := w.sessions[s.ID]; dup {
		return "", fault.InvalidState("session", s.ID, "id already in use")
	}
	w.sessions[s.ID] = s
	w.arrivals = append(w.arrivals, s.ID)
	w.emit(wire.CustomerArrived{SessionID: s.ID, DisplayName: s.DisplayName})

	w.logger.Debug("customer arrived", "session", s.ID, "name", s.DisplayName)
	return s.ID, nil
}

// TakeOrder accepts the customer's order into the kitchen on behalf of
// requester.
func (w *World) TakeOrder(requester, sessionID string) (int64, error) {
	s, err := w.session(sessionID)
	if err != nil {
		return 0, err
	}
	if s.State() != customer.StateWaitingToOrder {
		_, err := s.TakeOrder(w.now)
		return 0, err
	}
	o := s.Order()
	if o == nil {
		return 0, fault.InvalidState("session", s.ID, "has no order to take")
	}

	lev, err := w.ledger.Receive(o, requester)
	if err != nil {
		return 0, err
	}
	cev, err := s.TakeOrder(w.now)
	if err != nil {
		return 0, err
	}
	w.emitOrderEvent(lev)
	w.onCustomerEvent(s, cev)
	return o.ID, nil
}

// SubmitOrder places an order composed by requester for the customer. It
// supersedes the customer's own draft and is accepted immediately.
func (w *World) SubmitOrder(requester, sessionID string, lines []wire.IntentLine) (int64, error) {
	s, err := w.session(sessionID)
	if err != nil {
		return 0, err
	}
	if s.State() != customer.StateWaitingToOrder {
		return 0, fault.InvalidState("session", s.ID, "cannot submit an order while %s", s.State())
	}
	if len(lines) == 0 {
		return 0, fault.Validation("order has no line items")
	}

	items := make([]menu.Item, len(lines))
	for i, l := range lines {
		if l.Quantity <= 0 {
			return 0, fault.Validation("quantity for item %d must be positive, got %d", l.MenuItemID, l.Quantity)
		}
		item, err := w.catalog.Lookup(l.MenuItemID)
		if err != nil {
			return 0, err
		}
		for _, c := range l.Customizations {
			if strings.TrimSpace(c) == "" {
				return 0, fault.Validation("customization for item %d must not be empty", l.MenuItemID)
			}
		}
		items[i] = item
	}

	o := w.ledger.NewOrder(s.ID)
	o.CreatedAt = w.now
	for i, l := range lines {
		if err := o.AddItem(items[i], l.Quantity); err != nil {
			return 0, err
		}
		for _, c := range l.Customizations {
			if err := o.AddCustomization(l.MenuItemID, c); err != nil {
				return 0, err
			}
		}
	}

	prev, err := s.ReplaceOrder(o)
	if err != nil {
		return 0, err
	}
	lev, err := w.ledger.Receive(o, requester)
	if err != nil {
		_, _ = s.ReplaceOrder(prev)
		return 0, err
	}
	cev, err := s.TakeOrder(w.now)
	if err != nil {
		return 0, err
	}

	if prev != nil {
		w.cancelDraft(prev, ledger.ReasonSuperseded)
	}
	w.emit(orderCreated(o))
	w.emitOrderEvent(lev)
	w.onCustomerEvent(s, cev)
	return o.ID, nil
}

// StartPreparing moves a confirmed order into preparation.
func (w *World) StartPreparing(actor string, orderID int64) error {
	ev, err := w.ledger.StartPreparing(orderID, actor)
	if err != nil {
		return err
	}
	w.emitOrderEvent(ev)
	return nil
}

// CompleteOrder marks an order ready and serves it.
func (w *World) CompleteOrder(actor string, orderID int64) error {
	events, err := w.ledger.Complete(orderID, actor)
	if err != nil {
		w.deferred = nil
		return err
	}
	for _, ev := range events {
		w.emitOrderEvent(ev)
	}
	w.flushDeferred()
	return nil
}

// CancelOrder cancels an order. The owning customer loses all patience.
// Cancelling a closed order is a no-op.
func (w *World) CancelOrder(actor string, orderID int64) error {
	if w.ledger.IsTracked(orderID) {
		ev, changed, err := w.ledger.Cancel(orderID, ledger.ReasonCancelled)
		if err != nil || !changed {
			return err
		}
		w.emitOrderEvent(ev)
		if s, ok := w.sessions[ev.SessionID]; ok {
			s.ForcePatienceZero()
		}
		w.logger.Debug("order cancelled", "order", orderID, "actor", actor)
		return nil
	}

	if s, o := w.draft(orderID); o != nil {
		if w.cancelDraft(o, ledger.ReasonCancelled) {
			s.ForcePatienceZero()
		}
		return nil
	}

	_, _, err := w.ledger.Cancel(orderID, ledger.ReasonCancelled)
	return err
}

// ReachedSeat forwards the movement layer's arrival signal.
func (w *World) ReachedSeat(sessionID string) error {
	s, err := w.session(sessionID)
	if err != nil {
		return err
	}
	ev, err := s.ReachedSeat(w.now)
	if err != nil {
		return err
	}
	w.onCustomerEvent(s, ev)
	return nil
}

// ReachedExit forwards the movement layer's exit signal.
func (w *World) ReachedExit(sessionID string) error {
	s, err := w.session(sessionID)
	if err != nil {
		return err
	}
	ev, err := s.ReachedExit(w.now)
	if err != nil {
		return err
	}
	w.onCustomerEvent(s, ev)
	return nil
}

// Drain returns and clears the queued deltas.
func (w *World) Drain() []wire.Payload {
	out := w.pending
	w.pending = nil
	return out
}

// Snapshot returns the full observable state: the orders that are not yet
// closed, including drafts, and every customer still in the cafe.
func (w *World) Snapshot() wire.WelcomeSnapshot {
	orders := make([]wire.OrderView, 0)
	for _, o := range w.ledger.ActiveOrders() {
		orders = append(orders, wire.ViewOrder(o))
	}
	customers := make([]wire.CustomerView, 0, len(w.arrivals))
	for _, id := range w.arrivals {
		s := w.sessions[id]
		customers = append(customers, wire.ViewCustomer(s))
		if o := s.Order(); o != nil && o.Status == order.StatusPending {
			orders = append(orders, wire.ViewOrder(o))
		}
	}
	slices.SortFunc(orders, func(a, b wire.OrderView) int {
		return cmp.Compare(a.OrderID, b.OrderID)
	})
	return wire.WelcomeSnapshot{ActiveOrders: orders, ActiveCustomers: customers}
}

// Customer returns the view of one customer.
func (w *World) Customer(sessionID string) (wire.CustomerView, error) {
	s, err := w.session(sessionID)
	if err != nil {
		return wire.CustomerView{}, err
	}
	return wire.ViewCustomer(s), nil
}

// Order returns a copy of a tracked, closed or draft order.
func (w *World) Order(orderID int64) (*order.Order, error) {
	if _, o := w.draft(orderID); o != nil {
		return o.Clone(), nil
	}
	return w.ledger.Get(orderID)
}

// Progress returns the elapsed fraction of an order's preparation window.
func (w *World) Progress(orderID int64) (float64, error) {
	return w.ledger.Progress(orderID)
}

// TakeFinished returns the orders the ledger closed since the last call.
func (w *World) TakeFinished() []*order.Order {
	return w.ledger.TakeFinished()
}

// History returns closed orders, oldest first.
func (w *World) History() []*order.Order {
	return w.ledger.History()
}

// Stats returns running totals.
func (w *World) Stats() Stats {
	return Stats{
		Customers: len(w.sessions),
		FreeSeats: w.seats.Free(),
		Served:    w.served,
		Walkouts:  w.walkouts,
		Orders:    w.ledger.Stats(),
	}
}

// Revenue is the money taken for delivered orders.
func (w *World) Revenue() decimal.Decimal {
	return w.ledger.Stats().Revenue
}

// Seats returns a copy of the seat layout.
func (w *World) Seats() []customer.Seat {
	return w.seats.Seats()
}

// PatienceLoss implements customer.Env.
func (w *World) PatienceLoss() float64 {
	lo, hi := w.cfg.PatienceLossMin, w.cfg.PatienceLossMax
	return lo + w.rng.Float64()*(hi-lo)
}

// DraftOrder implements customer.Env: it picks between MinItems and
// MaxItems random menu items.
func (w *World) DraftOrder(s *customer.Session) (*order.Order, error) {
	n := w.catalog.Len()
	if n == 0 {
		return nil, fault.Validation("menu is empty")
	}
	picks := w.cfg.MinItems + w.rng.Intn(w.cfg.MaxItems-w.cfg.MinItems+1)

	o := w.ledger.NewOrder(s.ID)
	o.CreatedAt = w.now
	for range picks {
		if err := o.AddItem(w.catalog.At(w.rng.Intn(n)), 1); err != nil {
			return nil, err
		}
	}
	return o, nil
}

func (w *World) session(id string) (*customer.Session, error) {
	if id == "" {
		return nil, fault.Validation("session id is required")
	}
	s, ok := w.sessions[id]
	if !ok {
		return nil, fault.NotFound("session", id)
	}
	return s, nil
}

// draft finds an untracked pending order still attached to a customer.
func (w *World) draft(orderID int64) (*customer.Session, *order.Order) {
	for _, id := range w.arrivals {
		s := w.sessions[id]
		if o := s.Order(); o != nil && o.ID == orderID && o.Status == order.StatusPending {
			return s, o
		}
	}
	return nil, nil
}

func (w *World) cancelDraft(o *order.Order, reason string) bool {
	from := o.Status
	if !o.Cancel(reason) {
		return false
	}
	w.emit(wire.OrderStatusChanged{
		OrderID:   o.ID,
		SessionID: o.OwnerSessionID,
		NewStatus: order.StatusCancelled,
		Reason:    reason,
	})
	w.logger.Debug("draft cancelled", "order", o.ID, "from", from, "reason", reason)
	return true
}

func (w *World) assignSeats() {
	for _, id := range w.arrivals {
		if w.seats.Free() == 0 {
			return
		}
		s := w.sessions[id]
		if s.State() != customer.StateEntering {
			continue
		}
		seat, ok := w.seats.ClaimFirstFree(s.ID)
		if !ok {
			return
		}
		ev, err := s.AssignSeat(seat.ID, w.now)
		if err != nil {
			w.seats.Release(s.ID)
			continue
		}
		w.onCustomerEvent(s, ev)
	}
}

func (w *World) releaseDeparted() {
	kept := w.arrivals[:0]
	for _, id := range w.arrivals {
		s := w.sessions[id]
		if !s.ReleaseDue(w.now) {
			kept = append(kept, id)
			continue
		}
		w.seats.Release(id)
		delete(w.sessions, id)
		w.emit(wire.CustomerRemoved{SessionID: id})
	}
	w.arrivals = kept
}

func (w *World) onCustomerEvent(s *customer.Session, ev customer.Event) {
	switch ev.To {
	case customer.StateWaitingToOrder:
		if o := s.Order(); o != nil && ev.From == customer.StateDeciding {
			w.emit(orderCreated(o))
		}
		w.emit(wire.CustomerStateChanged{SessionID: s.ID, NewState: ev.To, SeatID: s.SeatID()})

	case customer.StateLeaving:
		w.emit(wire.CustomerDeparted{SessionID: s.ID, Angry: ev.Angry, Reason: ev.Reason})
		w.settleOrder(s, ev)
		if ev.Angry {
			w.walkouts++
		} else if ev.Reason == customer.ReasonServed {
			w.served++
		}
		w.logger.Debug("customer leaving", "session", s.ID, "angry", ev.Angry, "reason", ev.Reason)

	default:
		w.emit(wire.CustomerStateChanged{SessionID: s.ID, NewState: ev.To, SeatID: s.SeatID()})
	}
}

// settleOrder closes the order of a departing customer: finalized after a
// meal, cancelled after a walkout.
func (w *World) settleOrder(s *customer.Session, ev customer.Event) {
	o := s.Order()
	if o == nil || o.Status.IsTerminal() {
		return
	}

	if !ev.Angry {
		if o.Status != order.StatusReady {
			return
		}
		fev, err := w.ledger.Finalize(o.ID)
		if err != nil {
			w.logger.Warn("finalize failed", "order", o.ID, "error", err)
			return
		}
		w.emitOrderEvent(fev)
		return
	}

	if w.ledger.IsTracked(o.ID) {
		cev, changed, err := w.ledger.Cancel(o.ID, ledger.ReasonCustomerLeft)
		if err == nil && changed {
			w.emitOrderEvent(cev)
		}
		return
	}
	w.cancelDraft(o, ledger.ReasonCustomerLeft)
}

func (w *World) flushDeferred() {
	events := w.deferred
	w.deferred = nil
	for _, ev := range events {
		if s, ok := w.sessions[ev.SessionID]; ok {
			w.onCustomerEvent(s, ev)
		}
	}
}

func (w *World) emitOrderEvent(ev ledger.Event) {
	msg := wire.OrderStatusChanged{
		OrderID:   ev.OrderID,
		SessionID: ev.SessionID,
		NewStatus: ev.To,
		Reason:    ev.Reason,
	}
	if o, err := w.ledger.Get(ev.OrderID); err == nil {
		msg.TakenBy = o.TakenBy
	}
	w.emit(msg)
}

func (w *World) emit(p wire.Payload) {
	w.pending = append(w.pending, p)
}

func orderCreated(o *order.Order) wire.OrderCreated {
	lines := make([]order.LineItem, len(o.Items))
	copy(lines, o.Items)
	return wire.OrderCreated{
		OrderID:   o.ID,
		SessionID: o.OwnerSessionID,
		LineItems: lines,
		Total:     o.Total(),
	}
}

// kitchen links ledger notifications back to the customers.
type kitchen struct {
	w *World
}

func (k kitchen) OrderReady(o *order.Order) error {
	s, ok := k.w.sessions[o.OwnerSessionID]
	if !ok {
		return fault.NotFound("session", o.OwnerSessionID)
	}
	events, err := s.ServeFood(k.w.now)
	if err != nil {
		return err
	}
	k.w.deferred = append(k.w.deferred, events...)
	return nil
}

func (k kitchen) OrderFailed(o *order.Order) {
	if s, ok := k.w.sessions[o.OwnerSessionID]; ok {
		s.ForcePatienceZero()
		k.w.logger.Debug("order failed", "order", o.ID, "session", s.ID)
	}
}
