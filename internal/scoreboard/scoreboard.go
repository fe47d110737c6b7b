// Package scoreboard keeps live cafe totals in Redis: served and cancelled
// counts, revenue, cancellation reasons and a barista leaderboard.
package scoreboard

import (
	"context"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/roach88/cafesync/internal/history"
	"github.com/roach88/cafesync/internal/order"
)

// Hash fields of the totals key.
const (
	fieldServed       = "served"
	fieldCancelled    = "cancelled"
	fieldItems        = "items"
	fieldRevenueCents = "revenue_cents"
)

// Board writes to keys under a prefix.
type Board struct {
	rdb    redis.UniversalClient
	prefix string
}

// New returns a board. An empty prefix defaults to "cafe".
func New(rdb redis.UniversalClient, prefix string) *Board {
	if prefix == "" {
		prefix = "cafe"
	}
	return &Board{rdb: rdb, prefix: prefix}
}

func (b *Board) totalsKey() string  { return b.prefix + ":totals" }
func (b *Board) reasonsKey() string { return b.prefix + ":cancel_reasons" }
func (b *Board) baristaKey() string { return b.prefix + ":baristas" }

// Name implements history.Sink.
func (b *Board) Name() string { return "redis" }

// Write folds the batch into the counters in one MULTI/EXEC.
func (b *Board) Write(ctx context.Context, records []history.Record) error {
	t := tally(records)
	if t.empty() {
		return nil
	}
	_, err := b.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if t.served > 0 {
			pipe.HIncrBy(ctx, b.totalsKey(), fieldServed, t.served)
			pipe.HIncrBy(ctx, b.totalsKey(), fieldItems, t.items)
			pipe.HIncrBy(ctx, b.totalsKey(), fieldRevenueCents, t.revenueCents)
		}
		if t.cancelled > 0 {
			pipe.HIncrBy(ctx, b.totalsKey(), fieldCancelled, t.cancelled)
		}
		for reason, n := range t.reasons {
			pipe.HIncrBy(ctx, b.reasonsKey(), reason, n)
		}
		for barista, n := range t.baristas {
			pipe.ZIncrBy(ctx, b.baristaKey(), float64(n), barista)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("scoreboard: %w", err)
	}
	return nil
}

// Totals is the aggregate view.
type Totals struct {
	Served    int64            `json:"served"`
	Cancelled int64            `json:"cancelled"`
	Items     int64            `json:"items"`
	Revenue   decimal.Decimal  `json:"revenue"`
	Reasons   map[string]int64 `json:"reasons,omitempty"`
}

// Totals reads the counters.
func (b *Board) Totals(ctx context.Context) (Totals, error) {
	raw, err := b.rdb.HGetAll(ctx, b.totalsKey()).Result()
	if err != nil {
		return Totals{}, fmt.Errorf("scoreboard totals: %w", err)
	}
	reasons, err := b.rdb.HGetAll(ctx, b.reasonsKey()).Result()
	if err != nil {
		return Totals{}, fmt.Errorf("scoreboard reasons: %w", err)
	}

	t := Totals{Revenue: decimal.Zero}
	if t.Served, err = intField(raw, fieldServed); err != nil {
		return Totals{}, err
	}
	if t.Cancelled, err = intField(raw, fieldCancelled); err != nil {
		return Totals{}, err
	}
	if t.Items, err = intField(raw, fieldItems); err != nil {
		return Totals{}, err
	}
	cents, err := intField(raw, fieldRevenueCents)
	if err != nil {
		return Totals{}, err
	}
	t.Revenue = decimal.New(cents, -2)

	for reason := range reasons {
		n, err := intField(reasons, reason)
		if err != nil {
			return Totals{}, err
		}
		if t.Reasons == nil {
			t.Reasons = make(map[string]int64, len(reasons))
		}
		t.Reasons[reason] = n
	}
	return t, nil
}

// Entry is one leaderboard row.
type Entry struct {
	Barista string `json:"barista"`
	Served  int64  `json:"served"`
}

// Leaderboard returns the top n baristas by completed orders.
func (b *Board) Leaderboard(ctx context.Context, n int64) ([]Entry, error) {
	zs, err := b.rdb.ZRevRangeWithScores(ctx, b.baristaKey(), 0, n-1).Result()
	if err != nil {
		return nil, fmt.Errorf("scoreboard leaderboard: %w", err)
	}
	out := make([]Entry, 0, len(zs))
	for _, z := range zs {
		name, _ := z.Member.(string)
		out = append(out, Entry{Barista: name, Served: int64(z.Score)})
	}
	return out, nil
}

// Reset deletes every key of the board.
func (b *Board) Reset(ctx context.Context) error {
	if err := b.rdb.Del(ctx, b.totalsKey(), b.reasonsKey(), b.baristaKey()).Err(); err != nil {
		return fmt.Errorf("scoreboard reset: %w", err)
	}
	return nil
}

func intField(m map[string]string, field string) (int64, error) {
	v, ok := m[field]
	if !ok {
		return 0, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("scoreboard field %s: %w", field, err)
	}
	return n, nil
}

type tallies struct {
	served       int64
	cancelled    int64
	items        int64
	revenueCents int64
	reasons      map[string]int64
	baristas     map[string]int64
}

func (t tallies) empty() bool {
	return t.served == 0 && t.cancelled == 0
}

func tally(records []history.Record) tallies {
	t := tallies{reasons: map[string]int64{}, baristas: map[string]int64{}}
	for _, r := range records {
		switch r.Status {
		case order.StatusCompleted:
			t.served++
			t.items += int64(r.ItemCount)
			t.revenueCents += r.Total.Shift(2).Round(0).IntPart()
			if r.TakenBy != "" {
				t.baristas[r.TakenBy]++
			}
		case order.StatusCancelled:
			t.cancelled++
			reason := r.Reason
			if reason == "" {
				reason = "unknown"
			}
			t.reasons[reason]++
		}
	}
	return t
}
