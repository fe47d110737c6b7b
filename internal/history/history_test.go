package history

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/cafesync/internal/menu"
	"github.com/roach88/cafesync/internal/order"
)

var t0 = time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)

type memorySink struct {
	name string
	err  error

	mu      sync.Mutex
	records []Record
}

func (s *memorySink) Name() string { return s.name }

func (s *memorySink) Write(_ context.Context, records []Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.records = append(s.records, records...)
	return nil
}

func closedOrder(t *testing.T, id int64, status order.Status) *order.Order {
	t.Helper()
	o := order.New(id, "c-1", t0)
	require.NoError(t, o.AddItem(menu.Item{ID: 1, Name: "Espresso", Price: decimal.RequireFromString("2.50"), Category: menu.CategoryCoffee, PrepTime: 30 * time.Second}, 2))
	o.TakenBy = "barista-1"
	o.Status = status
	return o
}

func TestFromOrder(t *testing.T) {
	o := closedOrder(t, 1000, order.StatusCompleted)
	r := FromOrder(o, t0.Add(time.Minute))

	assert.Equal(t, int64(1000), r.OrderID)
	assert.Equal(t, "c-1", r.SessionID)
	assert.Equal(t, "barista-1", r.TakenBy)
	assert.True(t, r.Total.Equal(decimal.RequireFromString("5.00")))
	assert.Equal(t, 2, r.ItemCount)
	assert.True(t, r.Served())
	assert.Equal(t, t0.Add(time.Minute), r.ClosedAt)
}

func TestDispatcher_WritesToEverySinkDespiteFailures(t *testing.T) {
	broken := &memorySink{name: "broken", err: errors.New("connection refused")}
	good := &memorySink{name: "good"}
	d := NewDispatcher([]Sink{broken, good})

	done := make(chan error, 1)
	go func() { done <- d.Run(context.Background()) }()

	d.Archive(t0, []*order.Order{closedOrder(t, 1000, order.StatusCompleted)})
	d.Archive(t0, []*order.Order{closedOrder(t, 1001, order.StatusCancelled), closedOrder(t, 1002, order.StatusCompleted)})
	d.Close()
	require.NoError(t, <-done)

	require.Len(t, good.records, 3)
	assert.Equal(t, int64(1002), good.records[2].OrderID)
	assert.Empty(t, broken.records)

	// Archiving after close is dropped, not a panic.
	d.Archive(t0, []*order.Order{closedOrder(t, 1003, order.StatusCompleted)})
}

func TestDispatcher_FullBufferDrops(t *testing.T) {
	sink := &memorySink{name: "mem"}
	d := NewDispatcher([]Sink{sink}, WithBuffer(1))

	d.Archive(t0, []*order.Order{closedOrder(t, 1000, order.StatusCompleted)})
	d.Archive(t0, []*order.Order{closedOrder(t, 1001, order.StatusCompleted)})
	d.Close()
	require.NoError(t, d.Run(context.Background()))

	require.Len(t, sink.records, 1)
	assert.Equal(t, int64(1000), sink.records[0].OrderID)
}

func TestDispatcher_RunStopsOnCancel(t *testing.T) {
	d := NewDispatcher([]Sink{&memorySink{name: "mem"}})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, d.Run(ctx), context.Canceled)
}

func TestDispatcher_ArchiveRacingClose(t *testing.T) {
	sink := &memorySink{name: "mem"}
	d := NewDispatcher([]Sink{sink}, WithBuffer(1024))

	batch := []*order.Order{closedOrder(t, 1000, order.StatusCompleted)}
	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 50 {
				d.Archive(t0, batch)
			}
		}()
	}
	d.Close()
	d.Close()
	wg.Wait()

	require.NoError(t, d.Run(context.Background()))
	assert.LessOrEqual(t, len(sink.records), 400)
}
