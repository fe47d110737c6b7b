package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"sync"

	"github.com/roach88/cafesync/internal/gateway"
	"github.com/roach88/cafesync/internal/menu"
	"github.com/roach88/cafesync/internal/order"
	"github.com/roach88/cafesync/internal/replica"
	"github.com/roach88/cafesync/internal/sim"
	"github.com/roach88/cafesync/internal/wire"
)

// MovementID is the requester used for reached_seat and reached_exit steps.
const MovementID = "movement"

// StateGone is the final_state of a customer who has been removed.
const StateGone = "gone"

// WorldConfig returns the simulation config for s: the defaults with
// auto-spawn off and exactly one item per synthesized order, overlaid with
// the scenario's world settings.
func WorldConfig(s *Scenario) (sim.Config, error) {
	cfg := sim.DefaultConfig()
	cfg.AutoSpawn = false
	cfg.MinItems, cfg.MaxItems = 1, 1
	if !s.World.IsZero() {
		if err := s.World.Decode(&cfg); err != nil {
			return sim.Config{}, fmt.Errorf("world: %w", err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return sim.Config{}, fmt.Errorf("world: %w", err)
	}
	return cfg, nil
}

// Catalog returns the menu s is played with.
func Catalog(s *Scenario) (*menu.Catalog, error) {
	switch {
	case s.Menu != "":
		return menu.Load(s.Name+".cue", []byte(s.Menu))
	case s.MenuFile != "":
		return menu.LoadFile(s.MenuFile)
	}
	return menu.Default(), nil
}

// recorder is the gateway journal of a scenario run.
type recorder struct {
	mu          sync.Mutex
	envs        []wire.Envelope
	checkpoints map[int64]string
}

func (r *recorder) Append(_ context.Context, env wire.Envelope) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.envs = append(r.envs, env)
	return nil
}

func (r *recorder) Checkpoint(_ context.Context, seq int64, digest string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.checkpoints[seq] = digest
	return nil
}

// runner executes one scenario.
type runner struct {
	gw        *gateway.Gateway
	rec       *recorder
	result    *Result
	customers map[string]string
	orders    map[string]int64
	logger    *slog.Logger
}

// Run executes a scenario against a fresh world and returns the result.
// The error is non-nil only when the scenario could not be run at all;
// failed expectations are reported in the result.
func Run(scenario *Scenario) (*Result, error) {
	cfg, err := WorldConfig(scenario)
	if err != nil {
		return nil, err
	}
	catalog, err := Catalog(scenario)
	if err != nil {
		return nil, fmt.Errorf("menu: %w", err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	world, err := sim.New(catalog, cfg,
		sim.WithIDGenerator(sim.NewSequenceGenerator("c")),
		sim.WithLogger(logger),
	)
	if err != nil {
		return nil, fmt.Errorf("create world: %w", err)
	}

	rec := &recorder{checkpoints: make(map[int64]string)}
	gw := gateway.New(world,
		gateway.WithTickInterval(0),
		gateway.WithJournal(rec, 1),
		gateway.WithObserverIDs(sim.NewSequenceGenerator("obs")),
		gateway.WithLogger(logger),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = gw.Run(ctx)
	}()

	r := &runner{
		gw:        gw,
		rec:       rec,
		result:    NewResult(),
		customers: make(map[string]string),
		orders:    make(map[string]int64),
		logger:    logger,
	}
	runErr := r.execute(ctx, scenario.Steps)

	var final *FinalState
	if runErr == nil {
		final, runErr = r.capture(ctx)
	}
	gw.Stop()
	<-done
	if runErr != nil {
		return nil, runErr
	}

	result := r.result
	for _, env := range rec.envs {
		ev, err := traceEvent(env, cfg.Start)
		if err != nil {
			return nil, fmt.Errorf("trace: %w", err)
		}
		result.Trace = append(result.Trace, ev)
	}
	result.Stats = final.Stats

	replayer := replica.NewReplayer(rec.checkpoints)
	for _, env := range rec.envs {
		if err := replayer.Apply(env); err != nil {
			result.AddError(fmt.Sprintf("replay: %v", err))
			break
		}
	}
	result.Verified = replayer.Verified()

	actx := &AssertionContext{
		Final:     final,
		Customers: r.customers,
		Orders:    r.orders,
	}
	for _, msg := range EvaluateAssertions(result, scenario.Assertions, actx) {
		result.AddError(msg)
	}
	return result, nil
}

func (r *runner) execute(ctx context.Context, steps []Step) error {
	for i, step := range steps {
		var err error
		switch {
		case step.Spawn != "":
			err = r.spawn(ctx, i, step.Spawn)
		case step.Tick > 0:
			for range max(1, step.Times) {
				if err = r.gw.Advance(ctx, step.Tick); err != nil {
					break
				}
			}
		case step.ReachedSeat != "":
			err = r.move(ctx, i, wire.IntentReachedSeat, step.ReachedSeat)
		case step.ReachedExit != "":
			err = r.move(ctx, i, wire.IntentReachedExit, step.ReachedExit)
		case step.Intent != nil:
			err = r.intent(ctx, i, step.Intent, step.Expect)
		}
		if err != nil {
			return fmt.Errorf("steps[%d]: %w", i, err)
		}
		r.logger.Debug("step done", "step", i, "seq", r.gw.Seq())
	}
	return nil
}

func (r *runner) spawn(ctx context.Context, i int, alias string) error {
	id, err := r.gw.Spawn(ctx, alias)
	if err != nil {
		if errors.Is(err, gateway.ErrStopped) || ctx.Err() != nil {
			return err
		}
		r.result.AddError(fmt.Sprintf("steps[%d]: spawn %s: %v", i, alias, err))
		return nil
	}
	r.customers[alias] = id
	return nil
}

func (r *runner) move(ctx context.Context, i int, kind wire.IntentKind, alias string) error {
	res, err := r.gw.Submit(ctx, wire.Intent{
		Kind:        kind,
		RequesterID: MovementID,
		SessionID:   r.customer(alias),
	})
	if err != nil {
		return err
	}
	if !res.Accepted {
		r.result.AddError(fmt.Sprintf("steps[%d]: %s %s rejected: %s", i, kind, alias, res.Message))
	}
	return nil
}

func (r *runner) intent(ctx context.Context, i int, in *IntentStep, expect *Expect) error {
	intent := wire.Intent{
		Kind:        in.Kind,
		RequesterID: in.By,
		SessionID:   r.customer(in.Customer),
	}
	if in.Order != "" {
		id, err := r.order(in.Order)
		if err != nil {
			r.result.AddError(fmt.Sprintf("steps[%d]: %v", i, err))
			return nil
		}
		intent.OrderID = id
	}
	for _, l := range in.Lines {
		intent.LineItems = append(intent.LineItems, wire.IntentLine{
			MenuItemID:     l.Item,
			Quantity:       l.Qty,
			Customizations: l.Customizations,
		})
	}

	res, err := r.gw.Submit(ctx, intent)
	if err != nil {
		return err
	}

	want := Expect{Accepted: true}
	if expect != nil {
		want = *expect
	}
	switch {
	case res.Accepted != want.Accepted:
		r.result.AddError(fmt.Sprintf("steps[%d]: %s by %s: expected accepted=%t, got accepted=%t (%s %s)",
			i, in.Kind, in.By, want.Accepted, res.Accepted, res.Code, res.Message))
	case !res.Accepted && want.Code != "" && string(res.Code) != want.Code:
		r.result.AddError(fmt.Sprintf("steps[%d]: %s by %s: expected code %s, got %s (%s)",
			i, in.Kind, in.By, want.Code, res.Code, res.Message))
	}

	if res.Accepted && in.As != "" {
		r.orders[in.As] = res.OrderID
	}
	return nil
}

// customer resolves a customer alias. Unknown aliases are passed through.
func (r *runner) customer(alias string) string {
	if id, ok := r.customers[alias]; ok {
		return id
	}
	return alias
}

func (r *runner) order(alias string) (int64, error) {
	if id, ok := r.orders[alias]; ok {
		return id, nil
	}
	id, err := strconv.ParseInt(alias, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("unknown order %q", alias)
	}
	return id, nil
}

// FinalState is what the world looked like when the script ended.
type FinalState struct {
	// Customers and Orders hold the flattened fields final_state matches
	// against, keyed by session and order id.
	Customers map[string]map[string]string
	Orders    map[int64]map[string]string
	Stats     sim.Stats
}

func (r *runner) capture(ctx context.Context) (*FinalState, error) {
	final := &FinalState{
		Customers: make(map[string]map[string]string),
		Orders:    make(map[int64]map[string]string),
	}
	err := r.gw.Inspect(ctx, func(w *sim.World) {
		snap := w.Snapshot()
		for _, c := range snap.ActiveCustomers {
			final.Customers[c.SessionID] = customerFields(c)
		}
		for _, v := range snap.ActiveOrders {
			if o, err := w.Order(v.OrderID); err == nil {
				final.Orders[o.ID] = orderFields(o)
			}
		}
		for _, o := range w.History() {
			final.Orders[o.ID] = orderFields(o)
		}
		final.Stats = w.Stats()
	})
	if err != nil {
		return nil, err
	}
	return final, nil
}

func customerFields(c wire.CustomerView) map[string]string {
	f := map[string]string{
		"session":  c.SessionID,
		"name":     c.DisplayName,
		"state":    c.State.String(),
		"angry":    strconv.FormatBool(c.Angry),
		"patience": strconv.FormatFloat(c.Patience, 'f', -1, 64),
	}
	putNonEmpty(f, "seat", c.SeatID)
	putNonEmpty(f, "reason", string(c.Reason))
	if c.OrderID != 0 {
		f["order"] = strconv.FormatInt(c.OrderID, 10)
	}
	return f
}

func orderFields(o *order.Order) map[string]string {
	f := map[string]string{
		"order":   strconv.FormatInt(o.ID, 10),
		"session": o.OwnerSessionID,
		"status":  o.Status.String(),
		"total":   o.Total().StringFixed(2),
		"items":   strconv.Itoa(o.ItemCount()),
	}
	putNonEmpty(f, "taken_by", o.TakenBy)
	putNonEmpty(f, "reason", o.Reason)
	if !o.DeadlineAt.IsZero() {
		f["window"] = o.DeadlineAt.Sub(o.AcceptedAt).String()
	}
	return f
}

func statsFields(s sim.Stats) map[string]string {
	return map[string]string{
		"customers":     strconv.Itoa(s.Customers),
		"free_seats":    strconv.Itoa(s.FreeSeats),
		"served":        strconv.Itoa(s.Served),
		"walkouts":      strconv.Itoa(s.Walkouts),
		"active":        strconv.Itoa(s.Orders.Active),
		"orders_served": strconv.Itoa(s.Orders.Served),
		"completed":     strconv.Itoa(s.Orders.Completed),
		"failed":        strconv.Itoa(s.Orders.Failed),
		"cancelled":     strconv.Itoa(s.Orders.Cancelled),
		"revenue":       s.Orders.Revenue.StringFixed(2),
	}
}
