package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/cafesync/internal/autostaff"
	"github.com/roach88/cafesync/internal/gateway"
	"github.com/roach88/cafesync/internal/history"
	"github.com/roach88/cafesync/internal/replica"
	"github.com/roach88/cafesync/internal/sim"
)

// SimulateOptions holds flags for the simulate command.
type SimulateOptions struct {
	*RootOptions
	Config   string
	Database string
	Menu     string
	Seed     int64
	Duration time.Duration
	Step     time.Duration
	Baristas int
}

// BotResult is one barista's tally.
type BotResult struct {
	Name string `json:"name"`
	autostaff.Stats
}

// SimulateResult is the outcome of a headless run.
type SimulateResult struct {
	Seed     int64       `json:"seed"`
	Duration string      `json:"duration"`
	Seq      int64       `json:"seq"`
	RunID    int64       `json:"run_id,omitempty"`
	Stats    sim.Stats   `json:"stats"`
	Bots     []BotResult `json:"bots"`
}

// NewSimulateCommand creates the simulate command.
func NewSimulateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SimulateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Run a headless shift with built-in baristas",
		Long: `Run a headless shift as fast as possible.

Simulation time advances in fixed steps instead of following the wall
clock, and built-in baristas serve the customers through the same intents
a remote client would send. The same seed always produces the same shift.
With --db the delta feed is journaled so the run can be verified with
'cafesync replay'.

Example:
  cafesync simulate --duration 30m --baristas 2
  cafesync simulate --seed 7 --db ./cafe.db --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSimulate(opts, cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Config, "config", "c", "", "path to YAML config file")
	cmd.Flags().StringVar(&opts.Database, "db", "", "journal the run to this SQLite database")
	cmd.Flags().StringVar(&opts.Menu, "menu", "", "CUE menu file (overrides menu)")
	cmd.Flags().Int64Var(&opts.Seed, "seed", 0, "simulation seed (overrides sim.seed)")
	cmd.Flags().DurationVar(&opts.Duration, "duration", 10*time.Minute, "simulated time to run")
	cmd.Flags().DurationVar(&opts.Step, "step", 100*time.Millisecond, "simulated time per tick")
	cmd.Flags().IntVar(&opts.Baristas, "baristas", 1, "built-in baristas")

	return cmd
}

func runSimulate(opts *SimulateOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)
	logger := newLogger(cmd.ErrOrStderr(), opts.Verbose)
	if !opts.Verbose {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	switch {
	case opts.Duration <= 0:
		return NewExitError(ExitCommandError, "--duration must be positive")
	case opts.Step <= 0:
		return NewExitError(ExitCommandError, "--step must be positive")
	case opts.Baristas < 0:
		return NewExitError(ExitCommandError, "--baristas must not be negative")
	}

	cfg, err := loadConfig(opts.Config)
	if err != nil {
		return err
	}
	flags := cmd.Flags()
	if flags.Changed("menu") {
		cfg.Menu = opts.Menu
	}
	if flags.Changed("seed") {
		cfg.Sim.Seed = opts.Seed
	}
	if err := cfg.Sim.Validate(); err != nil {
		return WrapExitError(ExitCommandError, "invalid config", err)
	}

	catalog, err := loadCatalog(cfg.Menu)
	if err != nil {
		return err
	}
	world, err := sim.New(catalog, cfg.Sim,
		sim.WithIDGenerator(sim.NewSequenceGenerator("c")),
		sim.WithLogger(logger),
	)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to create world", err)
	}

	gwOpts := []gateway.Option{
		gateway.WithTickInterval(0),
		gateway.WithOutbox(max(cfg.Gateway.Outbox, 1024)),
		gateway.WithObserverIDs(sim.NewSequenceGenerator("obs")),
		gateway.WithLogger(logger),
	}

	ctx, cancel := signalContext(cmd, logger)
	defer cancel()

	result := SimulateResult{Seed: cfg.Sim.Seed, Duration: opts.Duration.String()}
	var dispatcher *history.Dispatcher
	if opts.Database != "" {
		st, err := openOrCreateStore(opts.Database)
		if err != nil {
			return err
		}
		defer closeStore(st, logger)

		result.RunID, err = st.BeginRun(ctx, runLabel(cfg.Store.Label, 0, cfg.Sim.Seed), cfg.Sim.Seed, cfg.Sim.Start)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to register run", err)
		}
		dispatcher = history.NewDispatcher([]history.Sink{st.OrderSink(result.RunID)}, history.WithLogger(logger))
		gwOpts = append(gwOpts,
			gateway.WithJournal(st.Journal(result.RunID), cfg.Store.CheckpointEvery),
			gateway.WithArchive(dispatcher),
		)
		formatter.VerboseLog("journaling to %s as run %d", opts.Database, result.RunID)
	}

	gw := gateway.New(world, gwOpts...)
	gwDone := make(chan error, 1)
	go func() { gwDone <- gw.Run(ctx) }()

	var histDone chan struct{}
	if dispatcher != nil {
		histDone = make(chan struct{})
		go func() {
			defer close(histDone)
			_ = dispatcher.Run(context.Background())
		}()
	}

	bots := make([]*autostaff.Bot, opts.Baristas)
	for i := range bots {
		botOpts := []autostaff.Option{autostaff.WithLogger(logger)}
		if i == 0 {
			botOpts = append(botOpts, autostaff.WithMovement())
		}
		bots[i] = autostaff.New(gw, fmt.Sprintf("barista-%d", i+1), botOpts...)
	}
	if len(bots) == 0 {
		// Someone has to walk the customers to their seats.
		bots = append(bots, autostaff.New(gw, "host", autostaff.HostOnly(), autostaff.WithLogger(logger)))
	}

	shiftErr := runShift(ctx, gw, bots, opts.Duration, opts.Step)
	if shiftErr == nil {
		result.Stats, shiftErr = gw.Stats(ctx)
	}
	result.Seq = gw.Seq()

	gw.Stop()
	<-gwDone
	if dispatcher != nil {
		dispatcher.Close()
		<-histDone
	}

	if shiftErr != nil {
		if ctx.Err() != nil {
			return WrapExitError(ExitFailure, "simulation interrupted", shiftErr)
		}
		return WrapExitError(ExitFailure, "simulation failed", shiftErr)
	}

	for _, b := range bots {
		result.Bots = append(result.Bots, BotResult{Name: b.Name(), Stats: b.Stats()})
	}

	if formatter.IsJSON() {
		return formatter.Success(result)
	}
	return outputSimulateText(cmd, result)
}

// runShift advances the world step by step, letting every bot act after
// each tick.
func runShift(ctx context.Context, gw *gateway.Gateway, bots []*autostaff.Bot, duration, step time.Duration) error {
	for _, b := range bots {
		if err := b.Start(ctx); err != nil {
			return fmt.Errorf("start %s: %w", b.Name(), err)
		}
	}
	defer func() {
		for _, b := range bots {
			_ = b.Stop(context.Background())
		}
	}()

	for elapsed := time.Duration(0); elapsed < duration; elapsed += step {
		if err := gw.Advance(ctx, min(step, duration-elapsed)); err != nil {
			return err
		}
		for _, b := range bots {
			_, err := b.Step(ctx)
			if errors.Is(err, autostaff.ErrFeedClosed) || replica.IsGap(err) {
				err = b.Start(ctx)
			}
			if err != nil {
				return fmt.Errorf("%s: %w", b.Name(), err)
			}
		}
	}
	return nil
}

func outputSimulateText(cmd *cobra.Command, r SimulateResult) error {
	w := cmd.OutOrStdout()

	fmt.Fprintf(w, "Shift of %s (seed %d), %d deltas\n", r.Duration, r.Seed, r.Seq)
	if r.RunID != 0 {
		fmt.Fprintf(w, "Journaled as run %d\n", r.RunID)
	}
	fmt.Fprintln(w)

	s := r.Stats
	fmt.Fprintf(w, "Customers served: %d\n", s.Served)
	fmt.Fprintf(w, "Walkouts:         %d\n", s.Walkouts)
	fmt.Fprintf(w, "Still inside:     %d\n", s.Customers)
	fmt.Fprintf(w, "Orders:           %d completed, %d cancelled, %d failed, %d open\n",
		s.Orders.Completed, s.Orders.Cancelled, s.Orders.Failed, s.Orders.Active)
	fmt.Fprintf(w, "Revenue:          %s\n", s.Orders.Revenue.StringFixed(2))

	if len(r.Bots) > 0 {
		fmt.Fprintln(w)
		for _, b := range r.Bots {
			fmt.Fprintf(w, "%s: took %d, started %d, completed %d, seated %d, exited %d, rejected %d\n",
				b.Name, b.Taken, b.Started, b.Completed, b.Seated, b.Exited, b.Rejected)
		}
	}
	return nil
}
