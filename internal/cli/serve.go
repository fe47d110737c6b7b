package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/roach88/cafesync/internal/amqpbus"
	"github.com/roach88/cafesync/internal/auth"
	"github.com/roach88/cafesync/internal/autostaff"
	"github.com/roach88/cafesync/internal/config"
	"github.com/roach88/cafesync/internal/gateway"
	"github.com/roach88/cafesync/internal/history"
	"github.com/roach88/cafesync/internal/httpapi"
	"github.com/roach88/cafesync/internal/kafkasink"
	"github.com/roach88/cafesync/internal/metrics"
	"github.com/roach88/cafesync/internal/pgstore"
	"github.com/roach88/cafesync/internal/scoreboard"
	"github.com/roach88/cafesync/internal/sim"
	"github.com/roach88/cafesync/internal/store"
	"github.com/roach88/cafesync/internal/wire"
)

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Config   string
	Database string
	Addr     string
	Menu     string
	Seed     int64
	Baristas int
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the authoritative cafe server",
		Long: `Run the authoritative cafe server.

The server owns the world and ticks it in real time. Intents arrive over
HTTP (and AMQP when configured); every observer receives the ordered delta
feed. With a database configured the feed is journaled and closed orders
are archived; PostgreSQL, Kafka and Redis mirrors are enabled by their
config sections.

Example:
  cafesync serve --config cafe.yaml
  cafesync serve --db ./cafe.db --addr :9000 --baristas 2 --verbose`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts, cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Config, "config", "c", "", "path to YAML config file")
	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (overrides store.path)")
	cmd.Flags().StringVar(&opts.Addr, "addr", "", "HTTP listen address (overrides http.addr)")
	cmd.Flags().StringVar(&opts.Menu, "menu", "", "CUE menu file (overrides menu)")
	cmd.Flags().Int64Var(&opts.Seed, "seed", 0, "simulation seed (overrides sim.seed)")
	cmd.Flags().IntVar(&opts.Baristas, "baristas", 0, "built-in baristas (overrides autostaff.baristas)")

	return cmd
}

// applyServeFlags overrides cfg with the flags the user set.
func applyServeFlags(cfg *config.Config, opts *ServeOptions, cmd *cobra.Command) {
	flags := cmd.Flags()
	if flags.Changed("db") {
		cfg.Store.Path = opts.Database
	}
	if flags.Changed("addr") {
		cfg.HTTP.Addr = opts.Addr
	}
	if flags.Changed("menu") {
		cfg.Menu = opts.Menu
	}
	if flags.Changed("seed") {
		cfg.Sim.Seed = opts.Seed
	}
	if flags.Changed("baristas") {
		cfg.Autostaff.Baristas = opts.Baristas
	}
}

func runServe(opts *ServeOptions, cmd *cobra.Command) error {
	logger := newLogger(cmd.ErrOrStderr(), opts.Verbose)
	slog.SetDefault(logger)
	if !opts.Verbose {
		gin.SetMode(gin.ReleaseMode)
	}

	cfg, err := loadConfig(opts.Config)
	if err != nil {
		return err
	}
	applyServeFlags(&cfg, opts, cmd)
	if err := cfg.Validate(); err != nil {
		return WrapExitError(ExitCommandError, "invalid config", err)
	}

	ctx, cancel := signalContext(cmd, logger)
	defer cancel()

	svc, err := newService(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer svc.Close()

	logger.Info("server starting", "addr", cfg.HTTP.Addr, "seed", cfg.Sim.Seed, "run", svc.runID)
	fmt.Fprintf(cmd.OutOrStdout(), "Cafe open on %s.\n", cfg.HTTP.Addr)
	fmt.Fprintln(cmd.OutOrStdout(), "Press Ctrl-C to stop.")

	if err := svc.Run(ctx); err != nil {
		return WrapExitError(ExitFailure, "server error", err)
	}

	logger.Info("server stopped gracefully")
	return nil
}

// signalContext derives a context from the command's that is cancelled on
// SIGINT or SIGTERM.
func signalContext(cmd *cobra.Command, logger *slog.Logger) (context.Context, context.CancelFunc) {
	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		select {
		case sig := <-sigChan:
			logger.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, func() {
		signal.Stop(sigChan)
		cancel()
	}
}

// worker is a long-running part of the server.
type worker struct {
	name string
	run  func(ctx context.Context) error
}

// feed copies the delta stream somewhere through its own subscription.
type feed struct {
	name    string
	forward func(ctx context.Context, envs <-chan wire.Envelope) error
}

// service is the wired server.
type service struct {
	cfg     config.Config
	logger  *slog.Logger
	gw      *gateway.Gateway
	history *history.Dispatcher
	runID   int64

	feeds   []feed
	workers []worker
	closers []func()
}

// newService connects every configured backend and wires it to a fresh
// world. On error everything already opened is closed.
func newService(ctx context.Context, cfg config.Config, logger *slog.Logger) (_ *service, err error) {
	svc := &service{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			svc.Close()
		}
	}()

	catalog, err := loadCatalog(cfg.Menu)
	if err != nil {
		return nil, err
	}
	world, err := sim.New(catalog, cfg.Sim, sim.WithLogger(logger))
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to create world", err)
	}

	rec := metrics.New()
	gwOpts := []gateway.Option{
		gateway.WithTickInterval(cfg.Gateway.TickInterval),
		gateway.WithOutbox(cfg.Gateway.Outbox),
		gateway.WithMetrics(rec),
		gateway.WithLogger(logger),
	}

	var sinks []history.Sink
	if cfg.Store.Path != "" {
		st, err := store.Open(cfg.Store.Path)
		if err != nil {
			return nil, WrapExitError(ExitCommandError, "failed to open database", err)
		}
		svc.closers = append(svc.closers, func() { closeStore(st, logger) })

		svc.runID, err = st.BeginRun(ctx, cfg.Store.Label, cfg.Sim.Seed, cfg.Sim.Start)
		if err != nil {
			return nil, WrapExitError(ExitCommandError, "failed to register run", err)
		}
		gwOpts = append(gwOpts, gateway.WithJournal(st.Journal(svc.runID), cfg.Store.CheckpointEvery))
		sinks = append(sinks, st.OrderSink(svc.runID))
		logger.Info("journaling run", "db", cfg.Store.Path, "run", svc.runID)
	}
	label := runLabel(cfg.Store.Label, svc.runID, cfg.Sim.Seed)

	if cfg.Postgres.DSN != "" {
		conn, err := pgstore.Connect(ctx, cfg.Postgres.DSN)
		if err != nil {
			return nil, WrapExitError(ExitCommandError, "failed to connect to postgres", err)
		}
		svc.closers = append(svc.closers, conn.Close)
		if err := conn.EnsureSchema(ctx); err != nil {
			return nil, WrapExitError(ExitCommandError, "failed to prepare postgres schema", err)
		}
		sinks = append(sinks, pgstore.NewSink(conn, label))
		logger.Info("mirroring order history to postgres", "label", label)
	}

	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
		svc.closers = append(svc.closers, func() { _ = rdb.Close() })
		if err := rdb.Ping(ctx).Err(); err != nil {
			return nil, WrapExitError(ExitCommandError, "failed to connect to redis", err)
		}
		sinks = append(sinks, scoreboard.New(rdb, cfg.Redis.Prefix))
		logger.Info("scoreboard enabled", "addr", cfg.Redis.Addr, "prefix", cfg.Redis.Prefix)
	}

	if len(cfg.Kafka.Brokers) > 0 {
		orders := kafkasink.NewWriter(cfg.Kafka.Brokers, cfg.Kafka.OrdersTopic)
		deltas := kafkasink.NewWriter(cfg.Kafka.Brokers, cfg.Kafka.DeltasTopic)
		svc.closers = append(svc.closers,
			func() { _ = orders.Close() },
			func() { _ = deltas.Close() },
		)
		sinks = append(sinks, kafkasink.NewOrderSink(orders))
		stream := cfg.Store.Label
		if stream == "" {
			stream = "cafesync"
		}
		fw := kafkasink.NewForwarder(deltas, stream, logger)
		svc.feeds = append(svc.feeds, feed{name: "kafka", forward: fw.Forward})
		logger.Info("publishing to kafka", "brokers", cfg.Kafka.Brokers)
	}

	if len(sinks) > 0 {
		svc.history = history.NewDispatcher(sinks, history.WithLogger(logger))
		gwOpts = append(gwOpts, gateway.WithArchive(svc.history))
	}
	svc.gw = gateway.New(world, gwOpts...)

	httpOpts := []httpapi.Option{httpapi.WithMetrics(rec), httpapi.WithLogger(logger)}
	if cfg.HTTP.JWTSecret != "" {
		signer, err := auth.NewSigner(cfg.HTTP.JWTSecret, auth.WithTTL(cfg.HTTP.TokenTTL))
		if err != nil {
			return nil, WrapExitError(ExitCommandError, "invalid jwt secret", err)
		}
		httpOpts = append(httpOpts, httpapi.WithSigner(signer))
	} else {
		logger.Warn("no jwt secret configured, intents are trusted as sent")
	}
	router := httpapi.New(svc.gw, catalog, httpOpts...).Router()
	svc.workers = append(svc.workers, worker{
		name: "http",
		run: func(ctx context.Context) error {
			return httpapi.Serve(ctx, cfg.HTTP.Addr, router, logger)
		},
	})

	if cfg.AMQP.URL != "" {
		client, err := amqpbus.Dial(cfg.AMQP.URL)
		if err != nil {
			return nil, WrapExitError(ExitCommandError, "failed to connect to rabbitmq", err)
		}
		svc.closers = append(svc.closers, client.Close)
		if err := client.Setup(cfg.AMQP.Exchange, cfg.AMQP.IntentQueue); err != nil {
			return nil, WrapExitError(ExitCommandError, "failed to declare amqp topology", err)
		}
		deliveries, stop, err := client.Consume(cfg.AMQP.IntentQueue, "cafesync", 16)
		if err != nil {
			return nil, WrapExitError(ExitCommandError, "failed to consume intents", err)
		}
		svc.closers = append(svc.closers, stop)

		pub := amqpbus.NewFeedPublisher(client, cfg.AMQP.Exchange, logger)
		svc.feeds = append(svc.feeds, feed{name: "amqp", forward: pub.Forward})
		intents := amqpbus.NewIntentServer(svc.gw, client, logger)
		svc.workers = append(svc.workers, worker{
			name: "amqp-intents",
			run: func(ctx context.Context) error {
				return intents.Serve(ctx, deliveries)
			},
		})
		logger.Info("amqp transport enabled", "exchange", cfg.AMQP.Exchange, "queue", cfg.AMQP.IntentQueue)
	}

	for i := range cfg.Autostaff.Baristas {
		botOpts := []autostaff.Option{autostaff.WithLogger(logger)}
		if i == 0 {
			botOpts = append(botOpts, autostaff.WithMovement())
		}
		bot := autostaff.New(svc.gw, fmt.Sprintf("barista-%d", i+1), botOpts...)
		svc.workers = append(svc.workers, worker{
			name: bot.Name(),
			run: func(ctx context.Context) error {
				return bot.Run(ctx, cfg.Autostaff.ThinkTime)
			},
		})
	}

	return svc, nil
}

// Run starts the authority loop and every worker, and blocks until ctx is
// done or a worker fails. Queued history is flushed before it returns.
func (s *service) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	gwDone := make(chan error, 1)
	go func() { gwDone <- s.gw.Run(ctx) }()

	var histDone chan struct{}
	if s.history != nil {
		histDone = make(chan struct{})
		go func() {
			defer close(histDone)
			_ = s.history.Run(context.Background())
		}()
	}

	var (
		wg     sync.WaitGroup
		errMu  sync.Mutex
		runErr error
	)
	fail := func(err error) {
		errMu.Lock()
		if runErr == nil {
			runErr = err
		}
		errMu.Unlock()
		cancel()
	}

	for _, f := range s.feeds {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.runFeed(ctx, f); err != nil {
				fail(err)
			}
		}()
	}

	for _, w := range s.workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := w.run(ctx); err != nil && ctx.Err() == nil {
				fail(fmt.Errorf("%s: %w", w.name, err))
			}
		}()
	}

	<-ctx.Done()
	gwErr := <-gwDone
	wg.Wait()

	if s.history != nil {
		s.history.Close()
		<-histDone
	}

	if runErr != nil {
		return runErr
	}
	if gwErr != nil && !errors.Is(gwErr, context.Canceled) && !errors.Is(gwErr, context.DeadlineExceeded) {
		return gwErr
	}
	return nil
}

// feedRetry is the pause before a lost feed is rejoined.
var feedRetry = time.Second

// runFeed keeps f subscribed until ctx is done. A feed that falls behind
// or fails to publish is rejoined; the new subscription opens with a
// welcome snapshot.
func (s *service) runFeed(ctx context.Context, f feed) error {
	for {
		sub, err := s.gw.Join(ctx, f.name)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, gateway.ErrStopped) {
				return nil
			}
			return fmt.Errorf("join %s feed: %w", f.name, err)
		}

		err = f.forward(ctx, sub.Envelopes())
		if ctx.Err() != nil {
			return nil
		}
		switch {
		case sub.Dropped():
			s.logger.Warn("feed fell behind, rejoining", "feed", f.name)
		case err != nil:
			s.logger.Error("feed forwarder failed, rejoining", "feed", f.name, "error", err)
			_ = s.gw.Leave(ctx, sub)
		default:
			// Closed by the gateway on shutdown.
			return nil
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(feedRetry):
		}
	}
}

// Close releases backends in reverse order of opening.
func (s *service) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
	s.closers = nil
}
