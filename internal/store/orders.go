package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/roach88/cafesync/internal/history"
	"github.com/roach88/cafesync/internal/order"
)

// OrderSink writes closed orders of one run. It satisfies history.Sink.
type OrderSink struct {
	store *Store
	runID int64
}

// OrderSink returns the history sink for runID.
func (s *Store) OrderSink(runID int64) *OrderSink {
	return &OrderSink{store: s, runID: runID}
}

// Name implements history.Sink.
func (o *OrderSink) Name() string { return "sqlite" }

// Write stores the batch in one transaction. Orders already stored are kept
// as they are.
func (o *OrderSink) Write(ctx context.Context, records []history.Record) error {
	if len(records) == 0 {
		return nil
	}
	tx, err := o.store.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin order batch: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO orders (
			run_id, order_id, session_id, taken_by, status, reason, total,
			item_count, lines, created_at, accepted_at, deadline_at, closed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id, order_id) DO NOTHING
	`)
	if err != nil {
		return fmt.Errorf("prepare order insert: %w", err)
	}
	defer stmt.Close()

	for _, r := range records {
		lines, err := json.Marshal(r.Lines)
		if err != nil {
			return fmt.Errorf("marshal lines of order %d: %w", r.OrderID, err)
		}
		_, err = stmt.ExecContext(ctx,
			o.runID, r.OrderID, r.SessionID, r.TakenBy, r.Status.String(), r.Reason,
			r.Total.String(), r.ItemCount, string(lines),
			formatTime(r.CreatedAt), formatTime(r.AcceptedAt), formatTime(r.DeadlineAt), formatTime(r.ClosedAt),
		)
		if err != nil {
			return fmt.Errorf("insert order %d: %w", r.OrderID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit order batch: %w", err)
	}
	return nil
}

// OrderFilter narrows ListOrders. Zero fields match everything.
type OrderFilter struct {
	RunID  int64
	Status order.Status
	Limit  int
}

// ListOrders returns closed orders, most recently closed first.
func (s *Store) ListOrders(ctx context.Context, f OrderFilter) ([]history.Record, error) {
	var (
		where []string
		args  []any
	)
	if f.RunID != 0 {
		where = append(where, "run_id = ?")
		args = append(args, f.RunID)
	}
	if f.Status != 0 {
		where = append(where, "status = ?")
		args = append(args, f.Status.String())
	}
	query := `
		SELECT order_id, session_id, taken_by, status, reason, total, item_count,
		       lines, created_at, accepted_at, deadline_at, closed_at
		FROM orders`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY closed_at DESC, order_id DESC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query orders: %w", err)
	}
	defer rows.Close()

	var out []history.Record
	for rows.Next() {
		r, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate orders: %w", err)
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanOrder(row scanner) (history.Record, error) {
	var (
		r                                   history.Record
		status, total, lines                string
		created, accepted, deadline, closed string
	)
	err := row.Scan(&r.OrderID, &r.SessionID, &r.TakenBy, &status, &r.Reason, &total,
		&r.ItemCount, &lines, &created, &accepted, &deadline, &closed)
	if err != nil {
		return r, fmt.Errorf("scan order: %w", err)
	}
	if err := r.Status.UnmarshalText([]byte(status)); err != nil {
		return r, fmt.Errorf("order %d: %w", r.OrderID, err)
	}
	if r.Total, err = decimal.NewFromString(total); err != nil {
		return r, fmt.Errorf("order %d total: %w", r.OrderID, err)
	}
	if err := json.Unmarshal([]byte(lines), &r.Lines); err != nil {
		return r, fmt.Errorf("order %d lines: %w", r.OrderID, err)
	}
	if r.CreatedAt, err = parseTime(created); err != nil {
		return r, err
	}
	if r.AcceptedAt, err = parseTime(accepted); err != nil {
		return r, err
	}
	if r.DeadlineAt, err = parseTime(deadline); err != nil {
		return r, err
	}
	if r.ClosedAt, err = parseTime(closed); err != nil {
		return r, err
	}
	return r, nil
}

// Summary aggregates closed orders.
type Summary struct {
	Orders    int             `json:"orders"`
	Completed int             `json:"completed"`
	Cancelled int             `json:"cancelled"`
	Items     int             `json:"items"`
	Revenue   decimal.Decimal `json:"revenue"`
	ByReason  map[string]int  `json:"byReason,omitempty"`
}

// Summarize aggregates the closed orders of a run, or of all runs when
// runID is 0. Revenue sums completed orders only.
func (s *Store) Summarize(ctx context.Context, runID int64) (Summary, error) {
	recs, err := s.ListOrders(ctx, OrderFilter{RunID: runID})
	if err != nil {
		return Summary{}, err
	}
	sum := Summary{Revenue: decimal.Zero}
	for _, r := range recs {
		sum.Orders++
		switch r.Status {
		case order.StatusCompleted:
			sum.Completed++
			sum.Items += r.ItemCount
			sum.Revenue = sum.Revenue.Add(r.Total)
		case order.StatusCancelled:
			sum.Cancelled++
			if sum.ByReason == nil {
				sum.ByReason = make(map[string]int)
			}
			sum.ByReason[r.Reason]++
		}
	}
	return sum, nil
}
