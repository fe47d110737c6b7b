// Package gateway runs the authority loop and replicates its state to
// observers.
//
// Every mutation of the world happens on the goroutine that calls Run.
// Other goroutines talk to it through a FIFO command queue: Submit, Advance,
// Spawn, Join and the read helpers enqueue a command and wait for its
// result. After each command and each tick the gateway drains the world's
// deltas, stamps them with the next sequence number and offers them to
// every subscription without blocking. An observer whose outbox is full is
// dropped.
//
// Infrastructure faults (journal writes, archiving) are logged and the loop
// carries on. Nothing an intent does can stop the loop.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/roach88/cafesync/internal/fault"
	"github.com/roach88/cafesync/internal/order"
	"github.com/roach88/cafesync/internal/sim"
	"github.com/roach88/cafesync/internal/wire"
)

// DefaultTickInterval matches a 20 Hz server.
const DefaultTickInterval = 50 * time.Millisecond

// DefaultOutbox is the per-observer buffer.
const DefaultOutbox = 256

// ErrStopped is returned by calls made after the loop has shut down.
var ErrStopped = errors.New("gateway stopped")

// Journal persists the delta stream.
type Journal interface {
	Append(ctx context.Context, env wire.Envelope) error
	Checkpoint(ctx context.Context, seq int64, digest string) error
}

// Archive receives orders the ledger has closed.
type Archive interface {
	Archive(closedAt time.Time, orders []*order.Order)
}

// Metrics records authority activity.
type Metrics interface {
	IntentHandled(kind wire.IntentKind, code fault.Code, elapsed time.Duration)
	DeltaBroadcast(kind wire.Kind)
	Observers(n int)
	ObserverDropped()
	Ticked(elapsed time.Duration)
}

type nopMetrics struct{}

func (nopMetrics) IntentHandled(wire.IntentKind, fault.Code, time.Duration) {}
func (nopMetrics) DeltaBroadcast(wire.Kind)                                {}
func (nopMetrics) Observers(int)                                           {}
func (nopMetrics) ObserverDropped()                                        {}
func (nopMetrics) Ticked(time.Duration)                                    {}

// Gateway is the replication gateway.
type Gateway struct {
	world *sim.World
	clock *Clock
	queue *commandQueue

	tickInterval    time.Duration
	outbox          int
	checkpointEvery int64
	lastCheckpoint  int64

	journal Journal
	archive Archive
	metrics Metrics
	ids     sim.IDGenerator
	logger  *slog.Logger

	subs   map[string]*Subscription
	joined []string
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithTickInterval sets the wall-clock tick period. Zero disables automatic
// ticking; time then moves only through Advance.
func WithTickInterval(d time.Duration) Option {
	return func(g *Gateway) { g.tickInterval = d }
}

// WithOutbox sets the per-observer buffer size.
func WithOutbox(n int) Option {
	return func(g *Gateway) { g.outbox = max(1, n) }
}

// WithJournal persists every delta and a digest checkpoint every n
// sequence numbers (0 disables checkpoints).
func WithJournal(j Journal, every int64) Option {
	return func(g *Gateway) {
		g.journal = j
		g.checkpointEvery = every
	}
}

// WithArchive receives closed orders.
func WithArchive(a Archive) Option {
	return func(g *Gateway) { g.archive = a }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m Metrics) Option {
	return func(g *Gateway) { g.metrics = m }
}

// WithClock resumes sequence numbering from an existing clock.
func WithClock(c *Clock) Option {
	return func(g *Gateway) { g.clock = c }
}

// WithObserverIDs sets the subscription id source.
func WithObserverIDs(ids sim.IDGenerator) Option {
	return func(g *Gateway) { g.ids = ids }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(g *Gateway) { g.logger = l }
}

// New wraps world. The caller must not touch world afterwards.
func New(world *sim.World, opts ...Option) *Gateway {
	g := &Gateway{
		world:        world,
		clock:        NewClock(),
		queue:        newCommandQueue(),
		tickInterval: DefaultTickInterval,
		outbox:       DefaultOutbox,
		metrics:      nopMetrics{},
		ids:          sim.UUIDv7Generator{},
		logger:       slog.Default(),
		subs:         make(map[string]*Subscription),
	}
	for _, opt := range opts {
		opt(g)
	}
	g.lastCheckpoint = g.clock.Current()
	return g
}

// Seq returns the sequence number of the last broadcast delta.
func (g *Gateway) Seq() int64 {
	return g.clock.Current()
}

// Run is the authority loop. It blocks until ctx is cancelled or Stop is
// called, and must be called from exactly one goroutine.
func (g *Gateway) Run(ctx context.Context) error {
	g.logger.Info("gateway starting", "tick", g.tickInterval, "seq", g.clock.Current())
	defer g.shutdown()

	var tickC <-chan time.Time
	if g.tickInterval > 0 {
		ticker := time.NewTicker(g.tickInterval)
		defer ticker.Stop()
		tickC = ticker.C
	}

	for {
		if cmd, ok := g.queue.TryDequeue(); ok {
			cmd()
			continue
		}

		select {
		case <-ctx.Done():
			g.logger.Info("gateway stopping: context cancelled")
			g.queue.Close()
			return ctx.Err()

		case <-tickC:
			g.tick(g.tickInterval)

		case <-g.queue.Wait():
			if g.queue.Drained() {
				g.logger.Info("gateway stopping: queue closed")
				return nil
			}
		}
	}
}

// Stop closes the command queue. Run returns once queued commands are done.
func (g *Gateway) Stop() {
	g.queue.Close()
}

// Submit validates and applies an intent. The returned error is non-nil
// only when the gateway could not process the intent at all; rejections
// are reported in the result.
func (g *Gateway) Submit(ctx context.Context, in wire.Intent) (wire.IntentResult, error) {
	var res wire.IntentResult
	err := g.call(ctx, func() {
		start := time.Now()
		res = g.apply(in)
		g.metrics.IntentHandled(in.Kind, res.Code, time.Since(start))
	})
	return res, err
}

// Advance moves simulation time forward by dt.
func (g *Gateway) Advance(ctx context.Context, dt time.Duration) error {
	var tickErr error
	err := g.call(ctx, func() { tickErr = g.tick(dt) })
	if err != nil {
		return err
	}
	return tickErr
}

// Spawn admits a customer and returns the session id.
func (g *Gateway) Spawn(ctx context.Context, name string) (string, error) {
	var (
		id       string
		spawnErr error
	)
	err := g.call(ctx, func() {
		id, spawnErr = g.world.Spawn(name)
		g.publish()
	})
	if err != nil {
		return "", err
	}
	return id, spawnErr
}

// Join subscribes an observer. The first envelope on the feed is a welcome
// snapshot stamped with the current sequence number.
func (g *Gateway) Join(ctx context.Context, name string) (*Subscription, error) {
	var (
		sub     *Subscription
		joinErr error
	)
	err := g.call(ctx, func() {
		s := newSubscription(g.ids.Generate(), name, g.outbox)
		welcome, err := wire.Seal(g.clock.Current(), g.world.Now(), g.world.Snapshot())
		if err != nil {
			joinErr = fmt.Errorf("welcome snapshot: %w", err)
			return
		}
		s.offer(welcome)
		g.subs[s.ID] = s
		g.joined = append(g.joined, s.ID)
		g.metrics.Observers(len(g.subs))
		g.logger.Debug("observer joined", "observer", s.ID, "name", name, "seq", welcome.Seq)
		sub = s
	})
	if err != nil {
		return nil, err
	}
	return sub, joinErr
}

// Leave unsubscribes an observer and closes its feed.
func (g *Gateway) Leave(ctx context.Context, sub *Subscription) error {
	return g.call(ctx, func() { g.drop(sub.ID, false) })
}

// Snapshot returns the current state and the sequence it reflects.
func (g *Gateway) Snapshot(ctx context.Context) (wire.WelcomeSnapshot, int64, error) {
	var (
		snap wire.WelcomeSnapshot
		seq  int64
	)
	err := g.call(ctx, func() {
		snap = g.world.Snapshot()
		seq = g.clock.Current()
	})
	return snap, seq, err
}

// Stats returns the world's running totals.
func (g *Gateway) Stats(ctx context.Context) (sim.Stats, error) {
	var stats sim.Stats
	err := g.call(ctx, func() { stats = g.world.Stats() })
	return stats, err
}

// Inspect runs fn on the authority goroutine. fn must not keep references
// to the world or mutate it.
func (g *Gateway) Inspect(ctx context.Context, fn func(w *sim.World)) error {
	return g.call(ctx, func() { fn(g.world) })
}

// Command states for call.
const (
	cmdPending int32 = iota
	cmdRunning
	cmdAbandoned
)

// call runs fn on the loop and waits for it. A caller whose ctx ends while
// the command is still queued gets ctx.Err() and fn never runs. Once fn has
// started the caller waits for it, so the result it reports is the one that
// was applied.
func (g *Gateway) call(ctx context.Context, fn func()) error {
	var state atomic.Int32
	done := make(chan struct{})
	if !g.queue.Enqueue(func() {
		defer close(done)
		if !state.CompareAndSwap(cmdPending, cmdRunning) {
			return
		}
		fn()
	}) {
		return ErrStopped
	}

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		if state.CompareAndSwap(cmdPending, cmdAbandoned) {
			return ctx.Err()
		}
		<-done
		return nil
	}
}

func (g *Gateway) apply(in wire.Intent) wire.IntentResult {
	if err := in.Check(); err != nil {
		return wire.Reject(err)
	}
	for _, l := range in.LineItems {
		if _, err := g.world.Catalog().Lookup(l.MenuItemID); err != nil {
			return wire.Reject(err)
		}
	}

	orderID, err := g.dispatch(in)
	g.publish()
	if err != nil {
		g.logger.Debug("intent rejected", "kind", in.Kind, "requester", in.RequesterID, "error", err)
		return wire.Reject(err)
	}
	return wire.Accept(orderID, g.clock.Current())
}

func (g *Gateway) dispatch(in wire.Intent) (int64, error) {
	w := g.world
	switch in.Kind {
	case wire.IntentTakeOrder:
		return w.TakeOrder(in.RequesterID, in.SessionID)
	case wire.IntentSubmitOrder:
		return w.SubmitOrder(in.RequesterID, in.SessionID, in.LineItems)
	case wire.IntentStartPreparing:
		return in.OrderID, w.StartPreparing(in.RequesterID, in.OrderID)
	case wire.IntentCompleteOrder:
		return in.OrderID, w.CompleteOrder(in.RequesterID, in.OrderID)
	case wire.IntentCancelOrder:
		return in.OrderID, w.CancelOrder(in.RequesterID, in.OrderID)
	case wire.IntentReachedSeat:
		return 0, w.ReachedSeat(in.SessionID)
	case wire.IntentReachedExit:
		return 0, w.ReachedExit(in.SessionID)
	}
	return 0, fault.Validation("unknown intent kind %q", in.Kind)
}

func (g *Gateway) tick(dt time.Duration) error {
	start := time.Now()
	if err := g.world.Tick(dt); err != nil {
		return err
	}
	g.publish()
	g.metrics.Ticked(time.Since(start))
	return nil
}

// publish stamps and fans out everything the world queued, then hands
// closed orders to the archive.
func (g *Gateway) publish() {
	ctx := context.Background()

	for _, p := range g.world.Drain() {
		env, err := wire.Seal(g.clock.Current()+1, g.world.Now(), p)
		if err != nil {
			g.logger.Error("dropping unsealable delta", "kind", p.Kind(), "error", err)
			continue
		}
		g.clock.Next()

		if g.journal != nil {
			if err := g.journal.Append(ctx, env); err != nil {
				g.logger.Error("journal append failed", "seq", env.Seq, "error", err)
			}
		}
		g.broadcast(env)
		g.metrics.DeltaBroadcast(env.Type)
	}

	g.checkpoint(ctx)

	if finished := g.world.TakeFinished(); len(finished) > 0 && g.archive != nil {
		g.archive.Archive(g.world.Now(), finished)
	}
}

func (g *Gateway) broadcast(env wire.Envelope) {
	for _, id := range append([]string(nil), g.joined...) {
		s := g.subs[id]
		if !s.offer(env) {
			g.logger.Warn("dropping slow observer", "observer", s.ID, "name", s.Name, "seq", env.Seq)
			g.drop(id, true)
		}
	}
}

func (g *Gateway) checkpoint(ctx context.Context) {
	if g.journal == nil || g.checkpointEvery <= 0 {
		return
	}
	seq := g.clock.Current()
	if seq-g.lastCheckpoint < g.checkpointEvery {
		return
	}
	digest, err := wire.Digest(g.world.Snapshot())
	if err != nil {
		g.logger.Error("checkpoint digest failed", "seq", seq, "error", err)
		return
	}
	if err := g.journal.Checkpoint(ctx, seq, digest); err != nil {
		g.logger.Error("checkpoint write failed", "seq", seq, "error", err)
		return
	}
	g.lastCheckpoint = seq
}

func (g *Gateway) drop(id string, slow bool) {
	s, ok := g.subs[id]
	if !ok {
		return
	}
	if slow {
		s.dropped.Store(true)
		g.metrics.ObserverDropped()
	}
	s.close()
	delete(g.subs, id)
	for i, oid := range g.joined {
		if oid == id {
			g.joined = append(g.joined[:i], g.joined[i+1:]...)
			break
		}
	}
	g.metrics.Observers(len(g.subs))
}

func (g *Gateway) shutdown() {
	g.queue.Close()
	for {
		cmd, ok := g.queue.TryDequeue()
		if !ok {
			break
		}
		cmd()
	}
	for _, id := range append([]string(nil), g.joined...) {
		g.drop(id, false)
	}
}
