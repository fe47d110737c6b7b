package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/roach88/cafesync/internal/wire"
)

// Journal appends one run's broadcast stream. It satisfies the gateway's
// journal interface.
type Journal struct {
	store *Store
	runID int64
}

// Journal returns the journal for runID.
func (s *Store) Journal(runID int64) *Journal {
	return &Journal{store: s, runID: runID}
}

// RunID returns the run this journal writes to.
func (j *Journal) RunID() int64 { return j.runID }

// Append stores an envelope. Appending the same seq twice is a no-op.
func (j *Journal) Append(ctx context.Context, env wire.Envelope) error {
	_, err := j.store.db.ExecContext(ctx, `
		INSERT INTO deltas (run_id, seq, type, at, payload)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(run_id, seq) DO NOTHING
	`, j.runID, env.Seq, string(env.Type), formatTime(env.At), string(env.Payload))
	if err != nil {
		return fmt.Errorf("append delta %d: %w", env.Seq, err)
	}
	return nil
}

// Checkpoint records the snapshot digest after seq.
func (j *Journal) Checkpoint(ctx context.Context, seq int64, digest string) error {
	_, err := j.store.db.ExecContext(ctx, `
		INSERT INTO checkpoints (run_id, seq, digest)
		VALUES (?, ?, ?)
		ON CONFLICT(run_id, seq) DO NOTHING
	`, j.runID, seq, digest)
	if err != nil {
		return fmt.Errorf("checkpoint %d: %w", seq, err)
	}
	return nil
}

// ReadDeltas returns the envelopes of a run with seq greater than afterSeq,
// in seq order.
func (s *Store) ReadDeltas(ctx context.Context, runID, afterSeq int64) ([]wire.Envelope, error) {
	var envs []wire.Envelope
	err := s.Replay(ctx, runID, afterSeq, func(env wire.Envelope) error {
		envs = append(envs, env)
		return nil
	})
	return envs, err
}

// Replay streams a run's envelopes in seq order. fn returning an error stops
// the replay and that error is returned.
func (s *Store) Replay(ctx context.Context, runID, afterSeq int64, fn func(wire.Envelope) error) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, type, at, payload
		FROM deltas
		WHERE run_id = ? AND seq > ?
		ORDER BY seq ASC
	`, runID, afterSeq)
	if err != nil {
		return fmt.Errorf("query deltas: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			env     wire.Envelope
			typ     string
			at      string
			payload string
		)
		if err := rows.Scan(&env.Seq, &typ, &at, &payload); err != nil {
			return fmt.Errorf("scan delta: %w", err)
		}
		env.Type = wire.Kind(typ)
		env.Payload = json.RawMessage(payload)
		if env.At, err = parseTime(at); err != nil {
			return fmt.Errorf("delta %d: %w", env.Seq, err)
		}
		if err := fn(env); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate deltas: %w", err)
	}
	return nil
}

// Checkpoint is a stored digest.
type Checkpoint struct {
	Seq    int64  `json:"seq"`
	Digest string `json:"digest"`
}

// Checkpoints returns a run's digests in seq order.
func (s *Store) Checkpoints(ctx context.Context, runID int64) ([]Checkpoint, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, digest FROM checkpoints
		WHERE run_id = ?
		ORDER BY seq ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("query checkpoints: %w", err)
	}
	defer rows.Close()

	var out []Checkpoint
	for rows.Next() {
		var c Checkpoint
		if err := rows.Scan(&c.Seq, &c.Digest); err != nil {
			return nil, fmt.Errorf("scan checkpoint: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate checkpoints: %w", err)
	}
	return out, nil
}
