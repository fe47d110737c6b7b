// Package ledger tracks accepted orders from confirmation to a terminal
// status.
//
// The ledger keeps its own notion of simulation time, advanced only by
// AdvanceTime. Preparation deadlines are compared against that time on
// every advance; nothing sleeps. A missed deadline cancels the order and
// tells the owning customer through the Notifier, which is how a slow
// kitchen turns into customers leaving.
package ledger

import (
	"slices"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/roach88/cafesync/internal/fault"
	"github.com/roach88/cafesync/internal/menu"
	"github.com/roach88/cafesync/internal/order"
)

// FirstOrderID is the id given to the first order.
const FirstOrderID int64 = 1000

// Cancellation reasons.
const (
	ReasonTimeout       = "timeout"
	ReasonUndeliverable = "undeliverable"
	ReasonCustomerLeft  = "customer_left"
	ReasonSuperseded    = "superseded"
	ReasonCancelled     = "cancelled"
)

// Notifier links orders back to the customers who own them.
type Notifier interface {
	// OrderReady delivers a finished order. An error means the customer can
	// no longer be served.
	OrderReady(o *order.Order) error

	// OrderFailed reports that an order missed its deadline.
	OrderFailed(o *order.Order)
}

// Event records one order status change.
type Event struct {
	OrderID   int64
	SessionID string
	From      order.Status
	To        order.Status
	Reason    string
	At        time.Time
}

// Stats summarizes what the ledger has seen.
type Stats struct {
	Active    int             `json:"active"`
	Served    int             `json:"served"`
	Completed int             `json:"completed"`
	Failed    int             `json:"failed"`
	Cancelled int             `json:"cancelled"`
	Revenue   decimal.Decimal `json:"revenue"`
}

// Ledger is the order manager. It is not safe for concurrent use; the
// authority owns it.
type Ledger struct {
	catalog  *menu.Catalog
	notifier Notifier

	now     time.Time
	firstID int64
	nextID  int64
	// evictedMax is the highest id dropped from history by the limit.
	// Untracked ids from firstID up to it are treated as closed.
	evictedMax int64

	active   map[int64]*order.Order
	history  []*order.Order
	finished []*order.Order

	fixedWindow  time.Duration
	ceiling      time.Duration
	historyLimit int

	stats Stats
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithStart sets the initial ledger time.
func WithStart(t time.Time) Option {
	return func(l *Ledger) { l.now = t }
}

// WithFirstID overrides the first order id.
func WithFirstID(id int64) Option {
	return func(l *Ledger) { l.nextID = id }
}

// WithFixedWindow gives every order the same preparation window instead of
// the sum of its items' preparation times.
func WithFixedWindow(d time.Duration) Option {
	return func(l *Ledger) { l.fixedWindow = d }
}

// WithDeadlineCeiling caps the preparation window.
func WithDeadlineCeiling(d time.Duration) Option {
	return func(l *Ledger) { l.ceiling = d }
}

// WithHistoryLimit bounds retained history. Zero keeps everything.
func WithHistoryLimit(n int) Option {
	return func(l *Ledger) { l.historyLimit = n }
}

// New creates an empty ledger.
func New(catalog *menu.Catalog, notifier Notifier, opts ...Option) *Ledger {
	l := &Ledger{
		catalog:  catalog,
		notifier: notifier,
		nextID:   FirstOrderID,
		active:   make(map[int64]*order.Order),
	}
	l.stats.Revenue = decimal.Zero
	for _, opt := range opts {
		opt(l)
	}
	l.firstID = l.nextID
	return l
}

// Now returns ledger time.
func (l *Ledger) Now() time.Time {
	return l.now
}

// NewOrder allocates an id and returns an empty pending order. The ledger
// does not track it until Receive.
func (l *Ledger) NewOrder(ownerSessionID string) *order.Order {
	id := l.nextID
	l.nextID++
	return order.New(id, ownerSessionID, l.now)
}

// PrepWindow estimates how long the kitchen has for o.
func (l *Ledger) PrepWindow(o *order.Order) time.Duration {
	var window time.Duration
	if l.fixedWindow > 0 {
		window = l.fixedWindow
	} else {
		for _, line := range o.Items {
			item, err := l.catalog.Lookup(line.MenuItemID)
			if err != nil {
				continue
			}
			window += item.PrepTime * time.Duration(line.Quantity)
		}
	}
	if l.ceiling > 0 && window > l.ceiling {
		window = l.ceiling
	}
	return window
}

// Receive accepts an order into the kitchen. The order becomes Confirmed
// with a deadline measured from now.
func (l *Ledger) Receive(o *order.Order, takenBy string) (Event, error) {
	if o == nil {
		return Event{}, fault.Validation("order is required")
	}
	if _, tracked := l.active[o.ID]; tracked || o.Status != order.StatusPending {
		return Event{}, fault.InvalidState("order", idString(o.ID), "cannot receive an order that is %s", o.Status)
	}
	if o.IsEmpty() {
		return Event{}, fault.Validation("order %d has no line items", o.ID)
	}
	for _, line := range o.Items {
		if line.Quantity <= 0 {
			return Event{}, fault.Validation("order %d: quantity for item %d must be positive", o.ID, line.MenuItemID)
		}
		if _, err := l.catalog.Lookup(line.MenuItemID); err != nil {
			return Event{}, err
		}
	}

	ev := l.transition(o, order.StatusConfirmed, "")
	o.TakenBy = takenBy
	o.AcceptedAt = l.now
	o.DeadlineAt = l.now.Add(l.PrepWindow(o))
	l.active[o.ID] = o
	return ev, nil
}

// AdvanceTime moves ledger time forward and fails every order whose
// deadline has passed before it was ready.
func (l *Ledger) AdvanceTime(dt time.Duration) []Event {
	l.now = l.now.Add(dt)

	var events []Event
	for _, id := range l.activeIDs() {
		o := l.active[id]
		if o.Status == order.StatusReady || !l.now.After(o.DeadlineAt) {
			continue
		}
		ev, _ := l.cancel(o, ReasonTimeout)
		l.stats.Failed++
		events = append(events, ev)
		if l.notifier != nil {
			l.notifier.OrderFailed(o)
		}
	}
	return events
}

// StartPreparing moves a confirmed order into the kitchen.
func (l *Ledger) StartPreparing(id int64, actorID string) (Event, error) {
	o, err := l.tracked(id)
	if err != nil {
		return Event{}, err
	}
	if o.Status != order.StatusConfirmed {
		return Event{}, fault.InvalidState("order", idString(id), "cannot start preparing while %s", o.Status)
	}
	if o.TakenBy == "" {
		o.TakenBy = actorID
	}
	return l.transition(o, order.StatusInProgress, ""), nil
}

// Complete marks an order ready and hands it to its customer. Revenue is
// recorded on delivery. An order nobody can receive is cancelled.
func (l *Ledger) Complete(id int64, actorID string) ([]Event, error) {
	o, err := l.tracked(id)
	if err != nil {
		return nil, err
	}
	if o.Status != order.StatusInProgress {
		return nil, fault.InvalidState("order", idString(id), "cannot complete while %s", o.Status)
	}

	events := []Event{l.transition(o, order.StatusReady, "")}

	if l.notifier != nil {
		if err := l.notifier.OrderReady(o); err != nil {
			ev, _ := l.cancel(o, ReasonUndeliverable)
			return append(events, ev), nil
		}
	}

	l.stats.Served++
	l.stats.Revenue = l.stats.Revenue.Add(o.Total())
	return events, nil
}

// Finalize closes a delivered order once its customer is done.
func (l *Ledger) Finalize(id int64) (Event, error) {
	o, err := l.tracked(id)
	if err != nil {
		return Event{}, err
	}
	if o.Status != order.StatusReady {
		return Event{}, fault.InvalidState("order", idString(id), "cannot finalize while %s", o.Status)
	}
	ev := l.transition(o, order.StatusCompleted, "")
	l.stats.Completed++
	l.retire(o)
	return ev, nil
}

// Cancel cancels a tracked order. Cancelling an order that already
// reached a terminal status is a no-op and reports false.
func (l *Ledger) Cancel(id int64, reason string) (Event, bool, error) {
	if o, ok := l.active[id]; ok {
		ev, changed := l.cancel(o, reason)
		return ev, changed, nil
	}
	if l.closed(id) {
		return Event{}, false, nil
	}
	return Event{}, false, fault.NotFound("order", idString(id))
}

// Get returns a copy of an active or historical order.
func (l *Ledger) Get(id int64) (*order.Order, error) {
	if o, ok := l.active[id]; ok {
		return o.Clone(), nil
	}
	for _, o := range l.history {
		if o.ID == id {
			return o.Clone(), nil
		}
	}
	return nil, fault.NotFound("order", idString(id))
}

// IsTracked reports whether id is an active order.
func (l *Ledger) IsTracked(id int64) bool {
	_, ok := l.active[id]
	return ok
}

// ActiveOrders returns copies of the tracked orders in id order.
func (l *Ledger) ActiveOrders() []*order.Order {
	out := make([]*order.Order, 0, len(l.active))
	for _, id := range l.activeIDs() {
		out = append(out, l.active[id].Clone())
	}
	return out
}

// History returns copies of retired orders, oldest first.
func (l *Ledger) History() []*order.Order {
	out := make([]*order.Order, len(l.history))
	for i, o := range l.history {
		out[i] = o.Clone()
	}
	return out
}

// TakeFinished returns the orders retired since the previous call.
func (l *Ledger) TakeFinished() []*order.Order {
	out := l.finished
	l.finished = nil
	return out
}

// Progress returns how much of an order's preparation window has elapsed,
// in [0,1].
func (l *Ledger) Progress(id int64) (float64, error) {
	o, err := l.tracked(id)
	if err != nil {
		return 0, err
	}
	window := o.DeadlineAt.Sub(o.AcceptedAt)
	if window <= 0 {
		return 1, nil
	}
	p := float64(l.now.Sub(o.AcceptedAt)) / float64(window)
	return max(0, min(1, p)), nil
}

// Stats returns the running totals.
func (l *Ledger) Stats() Stats {
	s := l.stats
	s.Active = len(l.active)
	return s
}

func (l *Ledger) tracked(id int64) (*order.Order, error) {
	o, ok := l.active[id]
	if !ok {
		if l.closed(id) {
			return nil, fault.InvalidState("order", idString(id), "order is closed")
		}
		return nil, fault.NotFound("order", idString(id))
	}
	return o, nil
}

func (l *Ledger) transition(o *order.Order, to order.Status, reason string) Event {
	ev := Event{OrderID: o.ID, SessionID: o.OwnerSessionID, From: o.Status, To: to, Reason: reason, At: l.now}
	o.Status = to
	return ev
}

func (l *Ledger) cancel(o *order.Order, reason string) (Event, bool) {
	from := o.Status
	if !o.Cancel(reason) {
		return Event{}, false
	}
	l.stats.Cancelled++
	l.retire(o)
	return Event{OrderID: o.ID, SessionID: o.OwnerSessionID, From: from, To: order.StatusCancelled, Reason: reason, At: l.now}, true
}

func (l *Ledger) retire(o *order.Order) {
	delete(l.active, o.ID)
	l.history = append(l.history, o)
	if l.historyLimit > 0 && len(l.history) > l.historyLimit {
		n := len(l.history) - l.historyLimit
		for _, old := range l.history[:n] {
			l.evictedMax = max(l.evictedMax, old.ID)
		}
		l.history = slices.Delete(l.history, 0, n)
	}
	l.finished = append(l.finished, o.Clone())
}

// closed reports whether id belongs to an order that has left the active
// set, including orders the history limit has since forgotten.
func (l *Ledger) closed(id int64) bool {
	if id >= l.firstID && id <= l.evictedMax {
		return true
	}
	return l.inHistory(id)
}

func (l *Ledger) inHistory(id int64) bool {
	for _, o := range l.history {
		if o.ID == id {
			return true
		}
	}
	return false
}

func (l *Ledger) activeIDs() []int64 {
	ids := make([]int64, 0, len(l.active))
	for id := range l.active {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

func idString(id int64) string {
	return strconv.FormatInt(id, 10)
}
