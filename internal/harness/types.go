package harness

import (
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/roach88/cafesync/internal/sim"
	"github.com/roach88/cafesync/internal/wire"
)

// TraceEvent is one broadcast delta, flattened for matching.
type TraceEvent struct {
	Seq    int64             `json:"seq"`
	At     time.Duration     `json:"at"` // since the scenario started
	Type   wire.Kind         `json:"type"`
	Fields map[string]string `json:"fields"`
}

// Line renders the event as "seq +at Type key=value ..." with keys sorted.
func (e TraceEvent) Line() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d +%s %s", e.Seq, e.At, e.Type)
	for _, k := range slices.Sorted(maps.Keys(e.Fields)) {
		fmt.Fprintf(&b, " %s=%s", k, e.Fields[k])
	}
	return b.String()
}

// Result is the outcome of a scenario run.
type Result struct {
	// Pass is true when every step expectation and assertion held.
	Pass bool `json:"pass"`

	Trace  []TraceEvent `json:"trace"`
	Errors []string     `json:"errors,omitempty"`

	// Stats are the world's totals when the script ended.
	Stats sim.Stats `json:"stats"`

	// Verified counts the checkpoints the replayed trace matched.
	Verified int `json:"verified"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// traceEvent flattens an envelope. start is the scenario's simulation start.
func traceEvent(env wire.Envelope, start time.Time) (TraceEvent, error) {
	p, err := env.Open()
	if err != nil {
		return TraceEvent{}, err
	}

	f := make(map[string]string)
	switch m := p.(type) {
	case wire.CustomerArrived:
		f["session"] = m.SessionID
		f["name"] = m.DisplayName
	case wire.CustomerStateChanged:
		f["session"] = m.SessionID
		f["state"] = m.NewState.String()
		putNonEmpty(f, "seat", m.SeatID)
	case wire.CustomerDeparted:
		f["session"] = m.SessionID
		f["angry"] = strconv.FormatBool(m.Angry)
		f["reason"] = string(m.Reason)
	case wire.CustomerRemoved:
		f["session"] = m.SessionID
	case wire.OrderCreated:
		f["order"] = strconv.FormatInt(m.OrderID, 10)
		f["session"] = m.SessionID
		f["total"] = m.Total.StringFixed(2)
		qty := 0
		for _, l := range m.LineItems {
			qty += l.Quantity
		}
		f["items"] = strconv.Itoa(qty)
	case wire.OrderStatusChanged:
		f["order"] = strconv.FormatInt(m.OrderID, 10)
		f["session"] = m.SessionID
		f["status"] = m.NewStatus.String()
		putNonEmpty(f, "taken_by", m.TakenBy)
		putNonEmpty(f, "reason", m.Reason)
	default:
		return TraceEvent{}, fmt.Errorf("unexpected %s in trace", env.Type)
	}

	return TraceEvent{Seq: env.Seq, At: env.At.Sub(start), Type: env.Type, Fields: f}, nil
}

func putNonEmpty(m map[string]string, k, v string) {
	if v != "" {
		m[k] = v
	}
}
