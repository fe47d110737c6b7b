package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/cafesync/internal/replica"
	"github.com/roach88/cafesync/internal/store"
	"github.com/roach88/cafesync/internal/wire"
)

// ReplayOptions holds flags for the replay command.
type ReplayOptions struct {
	*RootOptions
	Database string
	RunID    int64 // 0 replays the latest run
}

// ReplayResult holds the replay result for one run.
type ReplayResult struct {
	RunID         int64  `json:"run_id"`
	Deltas        int    `json:"deltas"`
	LastSeq       int64  `json:"last_seq"`
	Checkpoints   int    `json:"checkpoints"`
	Verified      int    `json:"verified"`
	Customers     int    `json:"customers"`
	ActiveOrders  int    `json:"active_orders"`
	Digest        string `json:"digest,omitempty"`
	Deterministic bool   `json:"deterministic"`
	Failure       string `json:"failure,omitempty"`
}

// NewReplayCommand creates the replay command.
func NewReplayCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReplayOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Replay a journaled run and verify its checkpoints",
		Long: `Replay a journaled run from an empty cafe and verify determinism.

Every delta of the run is applied in sequence order to a fresh replica.
Wherever the server recorded a checkpoint, the digest of the replayed state
must equal the digest the server computed at that sequence number.

Exit codes:
  0 - Every checkpoint matched
  1 - The replayed state diverged or the journal has a gap
  2 - Command error (database not found, etc.)

Examples:
  cafesync replay --db ./cafe.db
  cafesync replay --db ./cafe.db --run 3
  cafesync replay --db ./cafe.db --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().Int64Var(&opts.RunID, "run", 0, "run to replay (default: latest)")

	return cmd
}

func runReplay(opts *ReplayOptions, cmd *cobra.Command) error {
	ctx := commandContext(cmd)
	formatter := newFormatter(opts.RootOptions, cmd)

	st, err := openStore(opts.Database)
	if err != nil {
		return err
	}
	defer st.Close()

	runID, err := resolveRun(ctx, st, opts.RunID)
	if err != nil {
		return err
	}
	if runID == 0 {
		if formatter.IsJSON() {
			return formatter.Success(map[string]any{"runs": 0})
		}
		fmt.Fprintln(cmd.OutOrStdout(), "No runs found in database.")
		return nil
	}

	result, err := replayRun(ctx, st, runID)
	if err != nil {
		return WrapExitError(ExitCommandError, fmt.Sprintf("failed to replay run %d", runID), err)
	}
	formatter.VerboseLog("replayed %d deltas of run %d", result.Deltas, runID)

	if formatter.IsJSON() {
		return outputReplayJSON(formatter, result)
	}
	return outputReplayText(cmd, result, opts.Verbose)
}

// errStopReplay ends the journal scan after a verification failure.
var errStopReplay = errors.New("stop replay")

// replayRun rebuilds runID and checks every stored checkpoint. A divergence
// or gap is reported in the result; the error is for storage failures.
func replayRun(ctx context.Context, st *store.Store, runID int64) (ReplayResult, error) {
	cps, err := st.Checkpoints(ctx, runID)
	if err != nil {
		return ReplayResult{}, err
	}
	digests := make(map[int64]string, len(cps))
	for _, c := range cps {
		digests[c.Seq] = c.Digest
	}

	result := ReplayResult{RunID: runID, Checkpoints: len(cps), Deterministic: true}
	replayer := replica.NewReplayer(digests)
	err = st.Replay(ctx, runID, 0, func(env wire.Envelope) error {
		if err := replayer.Apply(env); err != nil {
			result.Deterministic = false
			result.Failure = err.Error()
			return errStopReplay
		}
		result.Deltas++
		result.LastSeq = env.Seq
		return nil
	})
	if err != nil && !errors.Is(err, errStopReplay) {
		return ReplayResult{}, err
	}
	result.Verified = replayer.Verified()

	proj := replayer.Projection()
	snap := proj.Snapshot()
	result.Customers = len(snap.ActiveCustomers)
	result.ActiveOrders = len(snap.ActiveOrders)
	if result.Deterministic {
		if result.Digest, err = proj.Digest(); err != nil {
			return ReplayResult{}, err
		}
	}
	return result, nil
}

func outputReplayJSON(f *OutputFormatter, result ReplayResult) error {
	response := CLIResponse{
		Status:  "ok",
		Data:    result,
		TraceID: fmt.Sprintf("run-%d", result.RunID),
	}
	if !result.Deterministic {
		response.Status = "error"
		response.Error = &CLIError{
			Code:    ErrCodeDeterminism,
			Message: "determinism verification failed",
			Details: result.Failure,
		}
	}
	if err := f.encode(response); err != nil {
		return err
	}

	if !result.Deterministic {
		return NewExitError(ExitFailure, "determinism verification failed")
	}
	return nil
}

func outputReplayText(cmd *cobra.Command, result ReplayResult, verbose bool) error {
	w := cmd.OutOrStdout()

	fmt.Fprintf(w, "Replay of run %d: %d delta(s), last seq %d\n", result.RunID, result.Deltas, result.LastSeq)
	fmt.Fprintf(w, "  Checkpoints: %d/%d verified\n", result.Verified, result.Checkpoints)
	if verbose {
		fmt.Fprintf(w, "  Customers inside: %d\n", result.Customers)
		fmt.Fprintf(w, "  Open orders: %d\n", result.ActiveOrders)
		if result.Digest != "" {
			fmt.Fprintf(w, "  Digest: %s\n", result.Digest)
		}
	}
	fmt.Fprintln(w)

	if result.Deterministic {
		fmt.Fprintln(w, "✓ Replay matches every checkpoint")
		return nil
	}

	fmt.Fprintf(w, "✗ %s\n", result.Failure)
	return NewExitError(ExitFailure, "determinism verification failed")
}
