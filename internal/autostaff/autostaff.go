// Package autostaff runs headless participants against the authority. A Bot
// watches the feed through a replica and submits intents like any remote
// client would: it takes orders, prepares them and hands them over. With
// movement enabled it also reports customers reaching their seat and the
// exit, standing in for a rendering client.
package autostaff

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/roach88/cafesync/internal/customer"
	"github.com/roach88/cafesync/internal/gateway"
	"github.com/roach88/cafesync/internal/order"
	"github.com/roach88/cafesync/internal/replica"
	"github.com/roach88/cafesync/internal/wire"
)

// ErrFeedClosed is returned by Sync when the gateway closed the feed.
var ErrFeedClosed = errors.New("feed closed")

// Authority is the part of the gateway a bot talks to.
type Authority interface {
	Join(ctx context.Context, name string) (*gateway.Subscription, error)
	Leave(ctx context.Context, sub *gateway.Subscription) error
	Submit(ctx context.Context, in wire.Intent) (wire.IntentResult, error)
}

// Stats counts what a bot did.
type Stats struct {
	Taken     int `json:"taken"`
	Started   int `json:"started"`
	Completed int `json:"completed"`
	Seated    int `json:"seated"`
	Exited    int `json:"exited"`
	Rejected  int `json:"rejected"`
}

// Bot is one headless barista.
type Bot struct {
	name     string
	auth     Authority
	movement bool
	orders   bool
	logger   *slog.Logger

	sub   *gateway.Subscription
	proj  *replica.Projection
	stats Stats
}

// Option configures a Bot.
type Option func(*Bot)

// WithMovement makes the bot report seat and exit arrivals.
func WithMovement() Option {
	return func(b *Bot) { b.movement = true }
}

// HostOnly makes the bot report movement and never touch orders.
func HostOnly() Option {
	return func(b *Bot) {
		b.movement = true
		b.orders = false
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(b *Bot) { b.logger = l }
}

// New returns a bot acting as name.
func New(auth Authority, name string, opts ...Option) *Bot {
	b := &Bot{name: name, auth: auth, orders: true, logger: slog.Default()}
	for _, opt := range opts {
		opt(b)
	}
	b.logger = b.logger.With("bot", name)
	return b
}

// Name returns the requester id the bot uses.
func (b *Bot) Name() string { return b.name }

// Stats returns the bot's counters.
func (b *Bot) Stats() Stats { return b.stats }

// Projection returns the bot's view of the world.
func (b *Bot) Projection() *replica.Projection { return b.proj }

// Start joins the feed and applies the welcome snapshot.
func (b *Bot) Start(ctx context.Context) error {
	sub, err := b.auth.Join(ctx, b.name)
	if err != nil {
		return fmt.Errorf("join: %w", err)
	}
	b.sub = sub
	b.proj = replica.New()
	return b.Sync()
}

// Stop leaves the feed.
func (b *Bot) Stop(ctx context.Context) error {
	if b.sub == nil {
		return nil
	}
	sub := b.sub
	b.sub = nil
	return b.auth.Leave(ctx, sub)
}

// Sync applies every envelope already waiting on the feed.
func (b *Bot) Sync() error {
	if b.sub == nil {
		return ErrFeedClosed
	}
	for {
		select {
		case env, ok := <-b.sub.Envelopes():
			if !ok {
				b.sub = nil
				return ErrFeedClosed
			}
			if err := b.proj.Apply(env); err != nil {
				return err
			}
		default:
			return nil
		}
	}
}

// Step performs the movement reports, if enabled, and at most one barista
// action. It returns the number of intents accepted.
func (b *Bot) Step(ctx context.Context) (int, error) {
	if err := b.Sync(); err != nil {
		return 0, err
	}

	acted := 0
	if b.movement {
		for _, in := range b.movementIntents() {
			ok, err := b.submit(ctx, in)
			if err != nil {
				return acted, err
			}
			if ok {
				acted++
			}
		}
	}

	if !b.orders {
		return acted, b.Sync()
	}
	if in, found := b.nextTask(); found {
		ok, err := b.submit(ctx, in)
		if err != nil {
			return acted, err
		}
		if ok {
			acted++
		}
	}
	return acted, b.Sync()
}

// Run joins and steps every interval until ctx is done. A dropped feed is
// rejoined.
func (b *Bot) Run(ctx context.Context, every time.Duration) error {
	if err := b.Start(ctx); err != nil {
		return err
	}
	defer func() { _ = b.Stop(context.Background()) }()

	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			_, err := b.Step(ctx)
			switch {
			case errors.Is(err, ErrFeedClosed) || replica.IsGap(err):
				b.logger.Warn("feed lost, rejoining", "error", err)
				if err := b.Start(ctx); err != nil {
					if ctx.Err() != nil {
						return nil
					}
					return err
				}
			case errors.Is(err, gateway.ErrStopped):
				return nil
			case err != nil:
				return err
			}
		}
	}
}

func (b *Bot) submit(ctx context.Context, in wire.Intent) (bool, error) {
	in.RequesterID = b.name
	res, err := b.auth.Submit(ctx, in)
	if err != nil {
		return false, err
	}
	if !res.Accepted {
		b.stats.Rejected++
		b.logger.Debug("intent rejected", "kind", in.Kind, "code", res.Code, "message", res.Message)
		return false, nil
	}
	switch in.Kind {
	case wire.IntentTakeOrder:
		b.stats.Taken++
	case wire.IntentStartPreparing:
		b.stats.Started++
	case wire.IntentCompleteOrder:
		b.stats.Completed++
	case wire.IntentReachedSeat:
		b.stats.Seated++
	case wire.IntentReachedExit:
		b.stats.Exited++
	}
	return true, nil
}

func (b *Bot) movementIntents() []wire.Intent {
	var out []wire.Intent
	for _, c := range b.proj.Snapshot().ActiveCustomers {
		switch c.State {
		case customer.StateMovingToSeat:
			out = append(out, wire.Intent{Kind: wire.IntentReachedSeat, SessionID: c.SessionID})
		case customer.StateLeaving:
			out = append(out, wire.Intent{Kind: wire.IntentReachedExit, SessionID: c.SessionID})
		}
	}
	return out
}

// nextTask picks the most advanced work first: hand over what is being
// prepared, then start what was taken, then take a new order.
func (b *Bot) nextTask() (wire.Intent, bool) {
	snap := b.proj.Snapshot()

	mine := make([]wire.OrderView, 0, len(snap.ActiveOrders))
	for _, o := range snap.ActiveOrders {
		if o.TakenBy == b.name {
			mine = append(mine, o)
		}
	}
	slices.SortStableFunc(mine, func(a, c wire.OrderView) int {
		return cmp.Compare(c.Status, a.Status)
	})
	for _, o := range mine {
		switch o.Status {
		case order.StatusInProgress:
			return wire.Intent{Kind: wire.IntentCompleteOrder, OrderID: o.OrderID}, true
		case order.StatusConfirmed:
			return wire.Intent{Kind: wire.IntentStartPreparing, OrderID: o.OrderID}, true
		}
	}

	for _, c := range snap.ActiveCustomers {
		if c.State == customer.StateWaitingToOrder {
			return wire.Intent{Kind: wire.IntentTakeOrder, SessionID: c.SessionID}, true
		}
	}
	return wire.Intent{}, false
}
