package harness

import (
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"
)

// AssertionContext carries what non-trace assertions need.
type AssertionContext struct {
	Final *FinalState

	// Customers and Orders map scenario aliases to ids.
	Customers map[string]string
	Orders    map[string]int64
}

// resolve rewrites session and order aliases in expected fields.
func (c *AssertionContext) resolve(fields map[string]string) map[string]string {
	if c == nil || len(fields) == 0 {
		return fields
	}
	out := maps.Clone(fields)
	if v, ok := out["session"]; ok {
		if id, found := c.Customers[v]; found {
			out["session"] = id
		}
	}
	if v, ok := out["order"]; ok {
		if id, found := c.Orders[v]; found {
			out["order"] = strconv.FormatInt(id, 10)
		}
	}
	return out
}

// AssertionError is returned when an assertion fails.
type AssertionError struct {
	Type     string
	Expected string
	Actual   string
	Trace    []TraceEvent
}

func (e *AssertionError) Error() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for _, event := range e.Trace {
			fmt.Fprintf(&buf, "  %s\n", event.Line())
		}
	}
	return buf.String()
}

// EvaluateAssertions runs every assertion and returns the failure messages.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var errs []string
	for i, a := range assertions {
		var err error
		switch a.Type {
		case AssertTraceContains:
			err = assertTraceContains(result.Trace, a, actx)
		case AssertTraceOrder:
			err = assertTraceOrder(result.Trace, a, actx)
		case AssertTraceCount:
			err = assertTraceCount(result.Trace, a, actx)
		case AssertFinalState:
			err = assertFinalState(a, actx)
		case AssertStats:
			err = assertStats(a, actx)
		default:
			err = fmt.Errorf("unknown assertion type %q", a.Type)
		}
		if err != nil {
			errs = append(errs, fmt.Sprintf("assertions[%d]: %v", i, err))
		}
	}
	return errs
}

func assertTraceContains(trace []TraceEvent, a Assertion, actx *AssertionContext) error {
	want := actx.resolve(a.Fields)
	for _, event := range trace {
		if event.Type == a.Event && matchFields(event.Fields, want) {
			return nil
		}
	}
	return &AssertionError{
		Type:     AssertTraceContains,
		Expected: fmt.Sprintf("%s with %s", a.Event, formatFields(want)),
		Actual:   "not found in trace",
		Trace:    trace,
	}
}

// assertTraceOrder finds each expected event after the previous match.
// Intervening events are allowed.
func assertTraceOrder(trace []TraceEvent, a Assertion, actx *AssertionContext) error {
	pos := 0
	for i, m := range a.Events {
		want := actx.resolve(m.Fields)
		found := false
		for ; pos < len(trace); pos++ {
			if trace[pos].Type == m.Event && matchFields(trace[pos].Fields, want) {
				found = true
				pos++
				break
			}
		}
		if !found {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("events in order: %s", formatMatches(a.Events)),
				Actual:   fmt.Sprintf("no %s with %s after event %d", m.Event, formatFields(want), i),
				Trace:    trace,
			}
		}
	}
	return nil
}

func assertTraceCount(trace []TraceEvent, a Assertion, actx *AssertionContext) error {
	want := actx.resolve(a.Fields)
	count := 0
	for _, event := range trace {
		if event.Type == a.Event && matchFields(event.Fields, want) {
			count++
		}
	}
	if count != a.Count {
		return &AssertionError{
			Type:     AssertTraceCount,
			Expected: fmt.Sprintf("%d occurrences of %s with %s", a.Count, a.Event, formatFields(want)),
			Actual:   fmt.Sprintf("%d occurrences", count),
			Trace:    trace,
		}
	}
	return nil
}

func assertFinalState(a Assertion, actx *AssertionContext) error {
	if actx == nil || actx.Final == nil {
		return fmt.Errorf("final_state needs the final world state")
	}

	var (
		what   string
		actual map[string]string
	)
	if a.Customer != "" {
		id := a.Customer
		if mapped, ok := actx.Customers[id]; ok {
			id = mapped
		}
		what = "customer " + a.Customer
		actual = actx.Final.Customers[id]
		if actual == nil {
			actual = map[string]string{"session": id, "state": StateGone}
		}
	} else {
		what = "order " + a.Order
		id, ok := actx.Orders[a.Order]
		if !ok {
			parsed, err := strconv.ParseInt(a.Order, 10, 64)
			if err != nil {
				return fmt.Errorf("unknown order %q", a.Order)
			}
			id = parsed
		}
		actual = actx.Final.Orders[id]
		if actual == nil {
			return &AssertionError{
				Type:     AssertFinalState,
				Expected: fmt.Sprintf("%s to exist", what),
				Actual:   "not found",
			}
		}
	}

	want := actx.resolve(a.Expect)
	if !matchFields(actual, want) {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("%s with %s", what, formatFields(want)),
			Actual:   formatFields(actual),
		}
	}
	return nil
}

func assertStats(a Assertion, actx *AssertionContext) error {
	if actx == nil || actx.Final == nil {
		return fmt.Errorf("stats needs the final world state")
	}
	actual := statsFields(actx.Final.Stats)
	for k := range a.Expect {
		if _, ok := actual[k]; !ok {
			return fmt.Errorf("unknown stat %q", k)
		}
	}
	if !matchFields(actual, a.Expect) {
		return &AssertionError{
			Type:     AssertStats,
			Expected: formatFields(a.Expect),
			Actual:   formatFields(actual),
		}
	}
	return nil
}

// matchFields reports whether actual carries every expected field.
// An expected empty value requires the field to be absent.
func matchFields(actual, expected map[string]string) bool {
	for k, want := range expected {
		got, ok := actual[k]
		if want == "" {
			if ok {
				return false
			}
			continue
		}
		if !ok || got != want {
			return false
		}
	}
	return true
}

func formatFields(fields map[string]string) string {
	if len(fields) == 0 {
		return "(any fields)"
	}
	parts := make([]string, 0, len(fields))
	for _, k := range slices.Sorted(maps.Keys(fields)) {
		parts = append(parts, k+"="+fields[k])
	}
	return strings.Join(parts, " ")
}

func formatMatches(ms []EventMatch) string {
	parts := make([]string, len(ms))
	for i, m := range ms {
		parts[i] = string(m.Event)
	}
	return strings.Join(parts, " -> ")
}
