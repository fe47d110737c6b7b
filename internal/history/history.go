// Package history carries closed orders from the authority to durable and
// analytical sinks.
//
// The authority loop must never wait on a database or broker, so the
// Dispatcher accepts batches without blocking and writes them from its own
// goroutine. A sink failure is logged and the batch is not retried.
package history

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/roach88/cafesync/internal/order"
)

// Record is a closed order as sinks store it.
type Record struct {
	OrderID    int64            `json:"orderId"`
	SessionID  string           `json:"sessionId"`
	TakenBy    string           `json:"takenBy,omitempty"`
	Status     order.Status     `json:"status"`
	Reason     string           `json:"reason,omitempty"`
	Total      decimal.Decimal  `json:"total"`
	ItemCount  int              `json:"itemCount"`
	Lines      []order.LineItem `json:"lines"`
	CreatedAt  time.Time        `json:"createdAt"`
	AcceptedAt time.Time        `json:"acceptedAt"`
	DeadlineAt time.Time        `json:"deadlineAt"`
	ClosedAt   time.Time        `json:"closedAt"`
}

// FromOrder builds a record for an order closed at closedAt.
func FromOrder(o *order.Order, closedAt time.Time) Record {
	lines := make([]order.LineItem, len(o.Items))
	copy(lines, o.Items)
	return Record{
		OrderID:    o.ID,
		SessionID:  o.OwnerSessionID,
		TakenBy:    o.TakenBy,
		Status:     o.Status,
		Reason:     o.Reason,
		Total:      o.Total(),
		ItemCount:  o.ItemCount(),
		Lines:      lines,
		CreatedAt:  o.CreatedAt,
		AcceptedAt: o.AcceptedAt,
		DeadlineAt: o.DeadlineAt,
		ClosedAt:   closedAt,
	}
}

// Served reports whether the order was delivered.
func (r Record) Served() bool {
	return r.Status == order.StatusCompleted
}

// Sink stores records.
type Sink interface {
	Name() string
	Write(ctx context.Context, records []Record) error
}

// Dispatcher fans batches out to sinks.
type Dispatcher struct {
	sinks   []Sink
	in      chan []Record
	timeout time.Duration
	logger  *slog.Logger

	mu     sync.Mutex
	closed bool
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithBuffer sets how many batches may wait for the writer.
func WithBuffer(n int) DispatcherOption {
	return func(d *Dispatcher) { d.in = make(chan []Record, max(1, n)) }
}

// WithWriteTimeout bounds each sink write.
func WithWriteTimeout(t time.Duration) DispatcherOption {
	return func(d *Dispatcher) { d.timeout = t }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) DispatcherOption {
	return func(d *Dispatcher) { d.logger = l }
}

// NewDispatcher creates a dispatcher for sinks.
func NewDispatcher(sinks []Sink, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		sinks:   sinks,
		in:      make(chan []Record, 64),
		timeout: 5 * time.Second,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Archive queues closed orders. It never blocks; a full buffer drops the
// batch with a warning.
func (d *Dispatcher) Archive(closedAt time.Time, orders []*order.Order) {
	if len(orders) == 0 || len(d.sinks) == 0 {
		return
	}
	batch := make([]Record, len(orders))
	for i, o := range orders {
		batch[i] = FromOrder(o, closedAt)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		d.logger.Warn("history dispatcher closed, dropping batch", "orders", len(batch))
		return
	}
	select {
	case d.in <- batch:
	default:
		d.logger.Warn("history buffer full, dropping batch", "orders", len(batch))
	}
}

// Run writes queued batches until Close is called and the buffer is empty.
// Cancelling ctx stops it early.
func (d *Dispatcher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case batch, ok := <-d.in:
			if !ok {
				return nil
			}
			d.write(ctx, batch)
		}
	}
}

// Close stops accepting batches. Run drains what is queued and returns.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.closed {
		d.closed = true
		close(d.in)
	}
}

func (d *Dispatcher) write(ctx context.Context, batch []Record) {
	for _, s := range d.sinks {
		wctx, cancel := context.WithTimeout(ctx, d.timeout)
		err := s.Write(wctx, batch)
		cancel()
		if err != nil {
			d.logger.Error("history sink write failed", "sink", s.Name(), "orders", len(batch), "error", err)
			continue
		}
		d.logger.Debug("history written", "sink", s.Name(), "orders", len(batch))
	}
}
