package gateway

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/cafesync/internal/customer"
	"github.com/roach88/cafesync/internal/fault"
	"github.com/roach88/cafesync/internal/menu"
	"github.com/roach88/cafesync/internal/order"
	"github.com/roach88/cafesync/internal/replica"
	"github.com/roach88/cafesync/internal/sim"
	"github.com/roach88/cafesync/internal/wire"
)

type fakeJournal struct {
	mu          sync.Mutex
	seqs        []int64
	checkpoints map[int64]string
}

func (j *fakeJournal) Append(_ context.Context, env wire.Envelope) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.seqs = append(j.seqs, env.Seq)
	return nil
}

func (j *fakeJournal) Checkpoint(_ context.Context, seq int64, digest string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.checkpoints == nil {
		j.checkpoints = make(map[int64]string)
	}
	j.checkpoints[seq] = digest
	return nil
}

type fakeArchive struct {
	mu     sync.Mutex
	orders []*order.Order
}

func (a *fakeArchive) Archive(_ time.Time, orders []*order.Order) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.orders = append(a.orders, orders...)
}

func startGateway(t *testing.T, opts ...Option) *Gateway {
	t.Helper()
	catalog, err := menu.NewCatalog([]menu.Item{
		{ID: 1, Name: "Espresso", Price: decimal.RequireFromString("2.50"), Category: menu.CategoryCoffee, PrepTime: 30 * time.Second},
	})
	require.NoError(t, err)

	cfg := sim.DefaultConfig()
	cfg.Seats = 4
	cfg.MinItems, cfg.MaxItems = 1, 1
	w, err := sim.New(catalog, cfg, sim.WithIDGenerator(sim.NewSequenceGenerator("c")))
	require.NoError(t, err)

	opts = append([]Option{WithTickInterval(0), WithObserverIDs(sim.NewSequenceGenerator("obs"))}, opts...)
	g := New(w, opts...)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = g.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return g
}

// waitingCustomer spawns a customer and brings them to WaitingToOrder.
func waitingCustomer(t *testing.T, g *Gateway) string {
	t.Helper()
	ctx := context.Background()
	id, err := g.Spawn(ctx, "")
	require.NoError(t, err)
	require.NoError(t, g.Advance(ctx, time.Second))
	res, err := g.Submit(ctx, wire.Intent{Kind: wire.IntentReachedSeat, RequesterID: "mover", SessionID: id})
	require.NoError(t, err)
	require.True(t, res.Accepted, res.Message)
	require.NoError(t, g.Advance(ctx, 2*time.Second))
	require.NoError(t, g.Advance(ctx, 10*time.Second))
	return id
}

func next(t *testing.T, sub *Subscription) wire.Envelope {
	t.Helper()
	select {
	case env, ok := <-sub.Envelopes():
		require.True(t, ok, "feed closed")
		return env
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for envelope")
	}
	return wire.Envelope{}
}

func TestGateway_JoinStartsWithWelcome(t *testing.T) {
	g := startGateway(t)
	ctx := context.Background()

	_, err := g.Spawn(ctx, "Alex #101")
	require.NoError(t, err)

	sub, err := g.Join(ctx, "screen")
	require.NoError(t, err)
	assert.Equal(t, "obs-1", sub.ID)

	welcome := next(t, sub)
	assert.Equal(t, wire.KindWelcomeSnapshot, welcome.Type)
	assert.Equal(t, int64(1), welcome.Seq)
	p, err := welcome.Open()
	require.NoError(t, err)
	require.Len(t, p.(wire.WelcomeSnapshot).ActiveCustomers, 1)

	_, err = g.Spawn(ctx, "Sam #202")
	require.NoError(t, err)
	arrived := next(t, sub)
	assert.Equal(t, wire.KindCustomerArrived, arrived.Type)
	assert.Equal(t, int64(2), arrived.Seq)
}

func TestGateway_RejectionsLeaveStateUnchanged(t *testing.T) {
	g := startGateway(t)
	ctx := context.Background()
	id, err := g.Spawn(ctx, "")
	require.NoError(t, err)
	before := g.Seq()

	tests := []struct {
		name   string
		intent wire.Intent
		code   fault.Code
	}{
		{"no requester", wire.Intent{Kind: wire.IntentTakeOrder, SessionID: id}, fault.CodeValidation},
		{"unknown kind", wire.Intent{Kind: "dance", RequesterID: "p"}, fault.CodeValidation},
		{"unknown menu item", wire.Intent{Kind: wire.IntentSubmitOrder, RequesterID: "p", SessionID: id, LineItems: []wire.IntentLine{{MenuItemID: 99, Quantity: 1}}}, fault.CodeNotFound},
		{"negative quantity", wire.Intent{Kind: wire.IntentSubmitOrder, RequesterID: "p", SessionID: id, LineItems: []wire.IntentLine{{MenuItemID: 1, Quantity: -1}}}, fault.CodeValidation},
		{"take while entering", wire.Intent{Kind: wire.IntentTakeOrder, RequesterID: "p", SessionID: id}, fault.CodeInvalidState},
		{"unknown session", wire.Intent{Kind: wire.IntentTakeOrder, RequesterID: "p", SessionID: "ghost"}, fault.CodeNotFound},
		{"unknown order", wire.Intent{Kind: wire.IntentCompleteOrder, RequesterID: "p", OrderID: 5000}, fault.CodeNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := g.Submit(ctx, tt.intent)
			require.NoError(t, err)
			assert.False(t, res.Accepted)
			assert.Equal(t, tt.code, res.Code)
			assert.NotEmpty(t, res.Message)
		})
	}
	assert.Equal(t, before, g.Seq())
}

func TestGateway_ConcurrentTakeOrderAcceptsExactlyOne(t *testing.T) {
	g := startGateway(t)
	ctx := context.Background()
	id := waitingCustomer(t, g)

	const n = 8
	results := make([]wire.IntentResult, n)
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := g.Submit(ctx, wire.Intent{Kind: wire.IntentTakeOrder, RequesterID: "barista", SessionID: id})
			assert.NoError(t, err)
			results[i] = res
		}()
	}
	wg.Wait()

	var accepted int
	for _, r := range results {
		if r.Accepted {
			accepted++
			assert.Equal(t, int64(1000), r.OrderID)
		} else {
			assert.Equal(t, fault.CodeInvalidState, r.Code)
		}
	}
	assert.Equal(t, 1, accepted)
}

func TestGateway_SlowObserverIsDropped(t *testing.T) {
	g := startGateway(t, WithOutbox(3))
	ctx := context.Background()

	slow, err := g.Join(ctx, "slow")
	require.NoError(t, err)
	fast, err := g.Join(ctx, "fast")
	require.NoError(t, err)
	next(t, fast)

	for range 4 {
		_, err := g.Spawn(ctx, "")
		require.NoError(t, err)
		assert.Equal(t, wire.KindCustomerArrived, next(t, fast).Type)
	}

	assert.True(t, slow.Dropped())
	var buffered int
	for range slow.Envelopes() {
		buffered++
	}
	assert.Equal(t, 3, buffered)

	require.NoError(t, g.Leave(ctx, fast))
	assert.False(t, fast.Dropped())
	_, open := <-fast.Envelopes()
	assert.False(t, open)
}

func TestGateway_ObserverReplicaMatchesAuthority(t *testing.T) {
	g := startGateway(t)
	ctx := context.Background()

	sub, err := g.Join(ctx, "replica")
	require.NoError(t, err)

	id := waitingCustomer(t, g)
	res, err := g.Submit(ctx, wire.Intent{Kind: wire.IntentTakeOrder, RequesterID: "barista", SessionID: id})
	require.NoError(t, err)
	require.True(t, res.Accepted)
	for _, kind := range []wire.IntentKind{wire.IntentStartPreparing, wire.IntentCompleteOrder} {
		if kind == wire.IntentCompleteOrder {
			require.NoError(t, g.Advance(ctx, time.Second))
		}
		res, err := g.Submit(ctx, wire.Intent{Kind: kind, RequesterID: "barista", OrderID: res.OrderID})
		require.NoError(t, err)
		require.True(t, res.Accepted, res.Message)
	}
	_, err = g.Spawn(ctx, "")
	require.NoError(t, err)
	require.NoError(t, g.Advance(ctx, 20*time.Second))

	p := replica.New()
	for p.Seq() < g.Seq() || !p.Welcomed() {
		require.NoError(t, p.Apply(next(t, sub)))
	}

	snap, seq, err := g.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, seq, p.Seq())
	want, err := wire.Digest(snap)
	require.NoError(t, err)
	got, err := p.Digest()
	require.NoError(t, err)
	assert.Equal(t, want, got)

	c, ok := p.Customer(id)
	require.True(t, ok)
	assert.Equal(t, customer.StateLeaving, c.State)
	assert.Equal(t, customer.ReasonServed, c.Reason)
}

func TestGateway_JournalAndArchive(t *testing.T) {
	journal := &fakeJournal{}
	archive := &fakeArchive{}
	g := startGateway(t, WithJournal(journal, 5), WithArchive(archive))
	ctx := context.Background()

	id := waitingCustomer(t, g)
	res, err := g.Submit(ctx, wire.Intent{Kind: wire.IntentTakeOrder, RequesterID: "barista", SessionID: id})
	require.NoError(t, err)
	require.True(t, res.Accepted)
	res, err = g.Submit(ctx, wire.Intent{Kind: wire.IntentCancelOrder, RequesterID: "manager", OrderID: res.OrderID})
	require.NoError(t, err)
	require.True(t, res.Accepted)

	// Sync with the loop before reading the fakes.
	_, err = g.Stats(ctx)
	require.NoError(t, err)

	journal.mu.Lock()
	defer journal.mu.Unlock()
	require.NotEmpty(t, journal.seqs)
	for i, seq := range journal.seqs {
		assert.Equal(t, int64(i+1), seq)
	}
	assert.NotEmpty(t, journal.checkpoints)

	archive.mu.Lock()
	defer archive.mu.Unlock()
	require.Len(t, archive.orders, 1)
	assert.Equal(t, order.StatusCancelled, archive.orders[0].Status)
}

func TestGateway_StoppedRejectsCalls(t *testing.T) {
	catalog, err := menu.NewCatalog(nil)
	require.NoError(t, err)
	w, err := sim.New(catalog, sim.DefaultConfig())
	require.NoError(t, err)
	g := New(w, WithTickInterval(0))

	done := make(chan error, 1)
	go func() { done <- g.Run(context.Background()) }()

	sub, err := g.Join(context.Background(), "watcher")
	require.NoError(t, err)

	g.Stop()
	require.NoError(t, <-done)

	_, err = g.Submit(context.Background(), wire.Intent{Kind: wire.IntentTakeOrder, RequesterID: "p", SessionID: "x"})
	assert.ErrorIs(t, err, ErrStopped)

	<-sub.Envelopes()
	_, open := <-sub.Envelopes()
	assert.False(t, open, "feeds close on shutdown")
}

func TestGateway_AutomaticTicks(t *testing.T) {
	g := startGateway(t, WithTickInterval(time.Millisecond))
	ctx := context.Background()

	id, err := g.Spawn(ctx, "")
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		var state customer.State
		err := g.Inspect(ctx, func(w *sim.World) {
			if v, err := w.Customer(id); err == nil {
				state = v.State
			}
		})
		return err == nil && state == customer.StateMovingToSeat
	}, 2*time.Second, 5*time.Millisecond)
}

// blockLoop parks the authority goroutine until the returned func is called.
func blockLoop(t *testing.T, g *Gateway) (release func()) {
	t.Helper()
	parked := make(chan struct{})
	unpark := make(chan struct{})
	go func() {
		_ = g.Inspect(context.Background(), func(*sim.World) {
			close(parked)
			<-unpark
		})
	}()
	<-parked
	return func() { close(unpark) }
}

func customerState(t *testing.T, g *Gateway, id string) customer.State {
	t.Helper()
	var (
		view wire.CustomerView
		err  error
	)
	require.NoError(t, g.Inspect(context.Background(), func(w *sim.World) {
		view, err = w.Customer(id)
	}))
	require.NoError(t, err)
	return view.State
}

func TestGateway_CancelledWhileQueuedIsNotApplied(t *testing.T) {
	g := startGateway(t)
	id := waitingCustomer(t, g)
	before := g.Seq()

	release := blockLoop(t, g)

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() {
		_, err := g.Submit(ctx, wire.Intent{Kind: wire.IntentTakeOrder, RequesterID: "p", SessionID: id})
		errc <- err
	}()
	require.Eventually(t, func() bool { return g.queue.Len() == 1 }, 2*time.Second, time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-errc, context.Canceled)
	release()

	assert.Equal(t, customer.StateWaitingToOrder, customerState(t, g, id))
	assert.Equal(t, before, g.Seq())

	res, err := g.Submit(context.Background(), wire.Intent{Kind: wire.IntentTakeOrder, RequesterID: "p", SessionID: id})
	require.NoError(t, err)
	assert.True(t, res.Accepted, res.Message)
}

func TestGateway_CancelledWhileRunningReportsOutcome(t *testing.T) {
	g := startGateway(t)
	id := waitingCustomer(t, g)

	ctx, cancel := context.WithCancel(context.Background())
	running := make(chan struct{})
	finish := make(chan struct{})
	errc := make(chan error, 1)
	go func() {
		errc <- g.call(ctx, func() {
			close(running)
			<-finish
			g.apply(wire.Intent{Kind: wire.IntentTakeOrder, RequesterID: "p", SessionID: id})
		})
	}()
	<-running
	cancel()

	select {
	case err := <-errc:
		t.Fatalf("call returned %v before the command finished", err)
	case <-time.After(20 * time.Millisecond):
	}

	close(finish)
	require.NoError(t, <-errc)
	assert.Equal(t, customer.StateOrderTaken, customerState(t, g, id))
}

func TestGateway_CancelledJoinRegistersNothing(t *testing.T) {
	g := startGateway(t)
	release := blockLoop(t, g)

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() {
		_, err := g.Join(ctx, "late")
		errc <- err
	}()
	require.Eventually(t, func() bool { return g.queue.Len() == 1 }, 2*time.Second, time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-errc, context.Canceled)
	release()

	var observers int
	require.NoError(t, g.Inspect(context.Background(), func(*sim.World) { observers = len(g.subs) }))
	assert.Zero(t, observers)
}
