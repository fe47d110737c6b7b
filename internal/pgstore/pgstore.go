// Package pgstore mirrors closed orders into PostgreSQL for reporting.
package pgstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/roach88/cafesync/internal/history"
)

const schema = `
CREATE TABLE IF NOT EXISTS cafe_orders (
    run_label    TEXT        NOT NULL,
    order_id     BIGINT      NOT NULL,
    session_id   TEXT        NOT NULL,
    taken_by     TEXT        NOT NULL DEFAULT '',
    status       TEXT        NOT NULL,
    reason       TEXT        NOT NULL DEFAULT '',
    total        NUMERIC(12,2) NOT NULL,
    item_count   INTEGER     NOT NULL,
    lines        JSONB       NOT NULL,
    created_at   TIMESTAMPTZ NOT NULL,
    accepted_at  TIMESTAMPTZ,
    deadline_at  TIMESTAMPTZ,
    closed_at    TIMESTAMPTZ NOT NULL,
    PRIMARY KEY (run_label, order_id)
)`

const insertOrder = `
INSERT INTO cafe_orders (
    run_label, order_id, session_id, taken_by, status, reason, total,
    item_count, lines, created_at, accepted_at, deadline_at, closed_at
) VALUES ($1, $2, $3, $4, $5, $6, $7::numeric, $8, $9::jsonb, $10, $11, $12, $13)
ON CONFLICT (run_label, order_id) DO NOTHING`

// Conn wraps the connection pool.
type Conn struct{ *pgxpool.Pool }

// Connect opens a pool and verifies it with a ping.
func Connect(ctx context.Context, dsn string) (*Conn, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("pgstore: open pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pgstore: ping: %w", err)
	}
	return &Conn{Pool: pool}, nil
}

// Close releases the pool.
func (c *Conn) Close() {
	if c != nil && c.Pool != nil {
		c.Pool.Close()
	}
}

// EnsureSchema creates the orders table when missing.
func (c *Conn) EnsureSchema(ctx context.Context) error {
	if _, err := c.Exec(ctx, schema); err != nil {
		return fmt.Errorf("pgstore: ensure schema: %w", err)
	}
	return nil
}

// Sink writes closed orders. It satisfies history.Sink.
type Sink struct {
	conn  *Conn
	label string
}

// NewSink returns a sink tagging rows with runLabel.
func NewSink(conn *Conn, runLabel string) *Sink {
	return &Sink{conn: conn, label: runLabel}
}

func (s *Sink) Name() string { return "postgres" }

// Write sends the batch in one round trip inside a transaction.
func (s *Sink) Write(ctx context.Context, records []history.Record) error {
	if len(records) == 0 {
		return nil
	}
	batch, err := buildBatch(s.label, records)
	if err != nil {
		return err
	}

	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return fmt.Errorf("pgstore: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("pgstore: insert batch: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("pgstore: commit: %w", err)
	}
	return nil
}

func buildBatch(label string, records []history.Record) (*pgx.Batch, error) {
	batch := &pgx.Batch{}
	for _, r := range records {
		lines, err := json.Marshal(r.Lines)
		if err != nil {
			return nil, fmt.Errorf("pgstore: marshal lines of order %d: %w", r.OrderID, err)
		}
		batch.Queue(insertOrder,
			label, r.OrderID, r.SessionID, r.TakenBy, r.Status.String(), r.Reason,
			r.Total.StringFixed(2), r.ItemCount, string(lines),
			r.CreatedAt.UTC(), nullTime(r.AcceptedAt), nullTime(r.DeadlineAt), r.ClosedAt.UTC(),
		)
	}
	return batch, nil
}

// nullTime maps the zero time to SQL NULL.
func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC()
}
