package replica

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/cafesync/internal/customer"
	"github.com/roach88/cafesync/internal/menu"
	"github.com/roach88/cafesync/internal/order"
	"github.com/roach88/cafesync/internal/sim"
	"github.com/roach88/cafesync/internal/wire"
)

// authority wraps a World and stamps its deltas the way the gateway does.
type authority struct {
	t   *testing.T
	w   *sim.World
	seq int64
	log []wire.Envelope
}

func newAuthority(t *testing.T) *authority {
	t.Helper()
	cfg := sim.DefaultConfig()
	cfg.Seats = 2
	cfg.Start = time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	w, err := sim.New(menu.Default(), cfg, sim.WithIDGenerator(sim.NewSequenceGenerator("c")))
	require.NoError(t, err)
	return &authority{t: t, w: w}
}

func (a *authority) flush() {
	a.t.Helper()
	for _, p := range a.w.Drain() {
		a.seq++
		env, err := wire.Seal(a.seq, a.w.Now(), p)
		require.NoError(a.t, err)
		a.log = append(a.log, env)
	}
}

func (a *authority) welcome() wire.Envelope {
	a.t.Helper()
	a.flush()
	env, err := wire.Seal(a.seq, a.w.Now(), a.w.Snapshot())
	require.NoError(a.t, err)
	return env
}

func (a *authority) tick(d time.Duration) {
	a.t.Helper()
	require.NoError(a.t, a.w.Tick(d))
	a.flush()
}

func (a *authority) digest() string {
	a.t.Helper()
	d, err := wire.Digest(a.w.Snapshot())
	require.NoError(a.t, err)
	return d
}

// play drives a busy afternoon: three customers for two seats, one order
// served, one submitted at the counter and one left to time out.
func (a *authority) play(midpoint func()) {
	t := a.t
	for range 3 {
		_, err := a.w.Spawn("")
		require.NoError(t, err)
	}
	a.tick(time.Second)
	require.NoError(t, a.w.ReachedSeat("c-1"))
	require.NoError(t, a.w.ReachedSeat("c-2"))
	a.tick(2 * time.Second)
	a.tick(10 * time.Second)

	if midpoint != nil {
		midpoint()
	}

	first, err := a.w.TakeOrder("barista-1", "c-1")
	require.NoError(t, err)
	_, err = a.w.SubmitOrder("barista-2", "c-2", []wire.IntentLine{{MenuItemID: 12, Quantity: 3}})
	require.NoError(t, err)
	require.NoError(t, a.w.StartPreparing("barista-1", first))
	a.tick(time.Second)
	require.NoError(t, a.w.CompleteOrder("barista-1", first))
	a.flush()

	for range 40 {
		a.tick(5 * time.Second)
	}
	require.NoError(t, a.w.ReachedExit("c-1"))
	a.tick(5 * time.Second)
}

func TestProjection_MatchesAuthorityFromStart(t *testing.T) {
	a := newAuthority(t)
	welcome := a.welcome()
	a.play(nil)

	p := New()
	require.NoError(t, p.Apply(welcome))
	for _, env := range a.log {
		require.NoError(t, p.Apply(env))
	}

	got, err := p.Digest()
	require.NoError(t, err)
	assert.Equal(t, a.digest(), got)
	assert.Equal(t, a.seq, p.Seq())

	_, ok := p.Customer("c-1")
	assert.False(t, ok, "departed customer is removed")
	c3, ok := p.Customer("c-3")
	require.True(t, ok)
	assert.Equal(t, customer.StateLeaving, c3.State)
	assert.Equal(t, customer.ReasonNoSeat, c3.Reason)
}

func TestProjection_MatchesAuthorityWhenJoiningLate(t *testing.T) {
	a := newAuthority(t)
	var (
		welcome wire.Envelope
		from    int
	)
	a.play(func() {
		welcome = a.welcome()
		from = len(a.log)
	})

	p := New()
	require.NoError(t, p.Apply(welcome))
	for _, env := range a.log[from:] {
		require.NoError(t, p.Apply(env))
	}

	got, err := p.Digest()
	require.NoError(t, err)
	assert.Equal(t, a.digest(), got)
}

func TestProjection_IgnoresStaleAndDetectsGaps(t *testing.T) {
	a := newAuthority(t)
	welcome := a.welcome()
	_, err := a.w.Spawn("Alex #101")
	require.NoError(t, err)
	_, err = a.w.Spawn("Sam #202")
	require.NoError(t, err)
	a.flush()
	require.Len(t, a.log, 2)

	p := New()
	require.NoError(t, p.Apply(welcome))
	require.NoError(t, p.Apply(a.log[0]))
	require.NoError(t, p.Apply(a.log[0]))
	assert.Equal(t, int64(1), p.Seq())

	a.tick(time.Second)
	err = p.Apply(a.log[len(a.log)-1])
	require.Error(t, err)
	assert.True(t, IsGap(err))
	assert.Equal(t, int64(1), p.Seq())
}

func TestProjection_RejectsDeltaBeforeWelcome(t *testing.T) {
	env, err := wire.Seal(1, time.Now(), wire.CustomerArrived{SessionID: "c-1", DisplayName: "Alex #101"})
	require.NoError(t, err)

	p := New()
	err = p.Apply(env)
	assert.ErrorIs(t, err, ErrNotWelcomed)
	assert.False(t, p.Welcomed())
}

func TestProjection_WelcomeReplacesState(t *testing.T) {
	p := New()
	first, err := wire.Seal(3, time.Now(), wire.WelcomeSnapshot{
		ActiveOrders:    []wire.OrderView{{OrderID: 1000, SessionID: "c-1", Status: order.StatusConfirmed}},
		ActiveCustomers: []wire.CustomerView{{SessionID: "c-1", State: customer.StateOrderTaken}},
	})
	require.NoError(t, err)
	require.NoError(t, p.Apply(first))

	second, err := wire.Seal(9, time.Now(), wire.WelcomeSnapshot{})
	require.NoError(t, err)
	require.NoError(t, p.Apply(second))

	assert.Equal(t, int64(9), p.Seq())
	assert.Empty(t, p.Snapshot().ActiveOrders)
	assert.Empty(t, p.Snapshot().ActiveCustomers)
}
