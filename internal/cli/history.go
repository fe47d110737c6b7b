package cli

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"text/tabwriter"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/roach88/cafesync/internal/history"
	"github.com/roach88/cafesync/internal/order"
	"github.com/roach88/cafesync/internal/scoreboard"
	"github.com/roach88/cafesync/internal/store"
)

// HistoryOptions holds flags shared by the history subcommands.
type HistoryOptions struct {
	*RootOptions
	Database string
	RunID    int64
}

// NewHistoryCommand creates the history command and its subcommands.
func NewHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &HistoryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Inspect archived runs and orders",
		Long: `Inspect what the server archived: journaled runs, closed orders and
their totals, and the live scoreboard kept in Redis.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&opts.Database, "db", "", "path to SQLite database")
	cmd.PersistentFlags().Int64Var(&opts.RunID, "run", 0, "run to inspect (default: latest)")

	cmd.AddCommand(newHistoryRunsCommand(opts))
	cmd.AddCommand(newHistoryOrdersCommand(opts))
	cmd.AddCommand(newHistorySummaryCommand(opts))
	cmd.AddCommand(newHistoryScoreboardCommand(opts))

	return cmd
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func newHistoryRunsCommand(opts *HistoryOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "runs",
		Short:         "List journaled runs, newest first",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStore(opts.Database)
			if err != nil {
				return err
			}
			defer st.Close()

			runs, err := st.Runs(commandContext(cmd))
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to list runs", err)
			}
			if opts.Format == "json" {
				if runs == nil {
					runs = []store.Run{}
				}
				return newFormatter(opts.RootOptions, cmd).Success(runs)
			}

			w := cmd.OutOrStdout()
			if len(runs) == 0 {
				fmt.Fprintln(w, "No runs found in database.")
				return nil
			}
			tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "RUN\tLABEL\tSEED\tSTARTED\tDELTAS\tLAST SEQ")
			for _, r := range runs {
				fmt.Fprintf(tw, "%d\t%s\t%d\t%s\t%d\t%d\n",
					r.ID, r.Label, r.Seed, r.StartedAt.Format("2006-01-02 15:04:05"), r.Deltas, r.LastSeq)
			}
			return tw.Flush()
		},
	}
}

func newHistoryOrdersCommand(opts *HistoryOptions) *cobra.Command {
	var (
		status string
		limit  int
	)
	cmd := &cobra.Command{
		Use:   "orders",
		Short: "List closed orders, most recent first",
		Example: `  cafesync history orders --db ./cafe.db
  cafesync history orders --db ./cafe.db --status Cancelled --limit 20`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := store.OrderFilter{Limit: limit}
			if status != "" {
				s, err := order.ParseStatus(status)
				if err != nil {
					return WrapExitError(ExitCommandError, "invalid --status", err)
				}
				filter.Status = s
			}

			ctx := commandContext(cmd)
			st, err := openStore(opts.Database)
			if err != nil {
				return err
			}
			defer st.Close()

			if filter.RunID, err = resolveRun(ctx, st, opts.RunID); err != nil {
				return err
			}
			records, err := st.ListOrders(ctx, filter)
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to list orders", err)
			}
			if opts.Format == "json" {
				if records == nil {
					records = []history.Record{}
				}
				return newFormatter(opts.RootOptions, cmd).Success(records)
			}
			return outputOrdersText(cmd, records)
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "only orders with this final status (Completed|Cancelled)")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum orders to list (0 for all)")
	return cmd
}

func outputOrdersText(cmd *cobra.Command, records []history.Record) error {
	w := cmd.OutOrStdout()
	if len(records) == 0 {
		fmt.Fprintln(w, "No closed orders.")
		return nil
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ORDER\tCUSTOMER\tSTATUS\tREASON\tITEMS\tTOTAL\tTAKEN BY\tCLOSED")
	for _, r := range records {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%d\t%s\t%s\t%s\n",
			r.OrderID, r.SessionID, r.Status, dash(r.Reason), r.ItemCount,
			r.Total.StringFixed(2), dash(r.TakenBy), r.ClosedAt.Format("15:04:05"))
	}
	return tw.Flush()
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func newHistorySummaryCommand(opts *HistoryOptions) *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:           "summary",
		Short:         "Aggregate the closed orders of a run",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := commandContext(cmd)
			st, err := openStore(opts.Database)
			if err != nil {
				return err
			}
			defer st.Close()

			var runID int64
			if !all {
				if runID, err = resolveRun(ctx, st, opts.RunID); err != nil {
					return err
				}
			}
			sum, err := st.Summarize(ctx, runID)
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to summarize orders", err)
			}
			if opts.Format == "json" {
				return newFormatter(opts.RootOptions, cmd).Success(sum)
			}

			w := cmd.OutOrStdout()
			if all {
				fmt.Fprintln(w, "All runs")
			} else {
				fmt.Fprintf(w, "Run %d\n", runID)
			}
			fmt.Fprintf(w, "  Orders:    %d\n", sum.Orders)
			fmt.Fprintf(w, "  Completed: %d (%d items)\n", sum.Completed, sum.Items)
			fmt.Fprintf(w, "  Cancelled: %d\n", sum.Cancelled)
			for _, reason := range slices.Sorted(maps.Keys(sum.ByReason)) {
				fmt.Fprintf(w, "    %s: %d\n", reason, sum.ByReason[reason])
			}
			fmt.Fprintf(w, "  Revenue:   %s\n", sum.Revenue.StringFixed(2))
			return nil
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "aggregate every run")
	return cmd
}

func newHistoryScoreboardCommand(opts *HistoryOptions) *cobra.Command {
	var (
		addr   string
		prefix string
		top    int64
	)
	cmd := &cobra.Command{
		Use:           "scoreboard",
		Short:         "Show the live totals and barista leaderboard from Redis",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := commandContext(cmd)
			rdb := redis.NewClient(&redis.Options{Addr: addr})
			defer rdb.Close()
			board := scoreboard.New(rdb, prefix)

			totals, err := board.Totals(ctx)
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to read scoreboard", err)
			}
			leaders, err := board.Leaderboard(ctx, top)
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to read leaderboard", err)
			}

			if opts.Format == "json" {
				return newFormatter(opts.RootOptions, cmd).Success(map[string]any{
					"totals":      totals,
					"leaderboard": leaders,
				})
			}

			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "Served:    %d (%d items)\n", totals.Served, totals.Items)
			fmt.Fprintf(w, "Cancelled: %d\n", totals.Cancelled)
			fmt.Fprintf(w, "Revenue:   %s\n", totals.Revenue.StringFixed(2))
			if len(leaders) > 0 {
				fmt.Fprintln(w)
				for i, e := range leaders {
					fmt.Fprintf(w, "%2d. %s (%d)\n", i+1, e.Barista, e.Served)
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "redis", "localhost:6379", "Redis address")
	cmd.Flags().StringVar(&prefix, "prefix", "cafe", "key prefix")
	cmd.Flags().Int64Var(&top, "top", 10, "leaderboard size")
	return cmd
}
