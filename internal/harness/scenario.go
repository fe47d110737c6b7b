package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/cafesync/internal/wire"
)

// Scenario is one scripted run of the cafe.
type Scenario struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`

	// Menu is inline CUE menu source. MenuFile names a CUE file instead.
	// With neither, the house menu is served.
	Menu     string `yaml:"menu,omitempty"`
	MenuFile string `yaml:"menu_file,omitempty"`

	// World is decoded over the scenario defaults, see WorldConfig.
	World yaml.Node `yaml:"world,omitempty"`

	Steps      []Step      `yaml:"steps"`
	Assertions []Assertion `yaml:"assertions"`
}

// Step is one action of the script. Exactly one of Spawn, Tick,
// ReachedSeat, ReachedExit or Intent is set.
type Step struct {
	// Spawn admits a customer under this alias and display name.
	Spawn string `yaml:"spawn,omitempty"`

	// Tick advances simulation time, Times times (default once).
	Tick  time.Duration `yaml:"tick,omitempty"`
	Times int           `yaml:"times,omitempty"`

	ReachedSeat string `yaml:"reached_seat,omitempty"`
	ReachedExit string `yaml:"reached_exit,omitempty"`

	Intent *IntentStep `yaml:"intent,omitempty"`

	// Expect checks the intent result. Without it the intent must be
	// accepted.
	Expect *Expect `yaml:"expect,omitempty"`
}

// IntentStep describes an intent in scenario terms.
type IntentStep struct {
	Kind     wire.IntentKind `yaml:"kind"`
	By       string          `yaml:"by"`
	Customer string          `yaml:"customer,omitempty"`
	Order    string          `yaml:"order,omitempty"`
	Lines    []LineStep      `yaml:"lines,omitempty"`

	// As names the resulting order for later steps.
	As string `yaml:"as,omitempty"`
}

// LineStep is one requested line of a submitted order.
type LineStep struct {
	Item           int      `yaml:"item"`
	Qty            int      `yaml:"qty"`
	Customizations []string `yaml:"customizations,omitempty"`
}

// Expect is the expected outcome of an intent.
type Expect struct {
	Accepted bool   `yaml:"accepted"`
	Code     string `yaml:"code,omitempty"`
}

// Assertion checks the trace or the final state.
type Assertion struct {
	Type string `yaml:"type"`

	// Event and Fields select trace events (trace_contains, trace_count).
	Event  wire.Kind         `yaml:"event,omitempty"`
	Fields map[string]string `yaml:"fields,omitempty"`
	Count  int               `yaml:"count,omitempty"`

	// Events is the expected order (trace_order).
	Events []EventMatch `yaml:"events,omitempty"`

	// Customer or Order selects the entity for final_state.
	Customer string `yaml:"customer,omitempty"`
	Order    string `yaml:"order,omitempty"`

	// Expect holds the expected fields (final_state, stats).
	Expect map[string]string `yaml:"expect,omitempty"`
}

// EventMatch selects a trace event by type and a subset of its fields.
type EventMatch struct {
	Event  wire.Kind         `yaml:"event"`
	Fields map[string]string `yaml:"fields,omitempty"`
}

// Assertion type constants.
const (
	AssertTraceContains = "trace_contains"
	AssertTraceOrder    = "trace_order"
	AssertTraceCount    = "trace_count"
	AssertFinalState    = "final_state"
	AssertStats         = "stats"
)

// LoadScenario reads and parses a scenario file. A relative menu_file is
// resolved against the scenario's directory.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	s, err := ParseScenario(data)
	if err != nil {
		return nil, err
	}
	if s.MenuFile != "" && !filepath.IsAbs(s.MenuFile) {
		s.MenuFile = filepath.Join(filepath.Dir(path), s.MenuFile)
	}
	return s, nil
}

// ParseScenario parses scenario YAML. Unknown fields are rejected.
func ParseScenario(data []byte) (*Scenario, error) {
	var s Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&s); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&s); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &s, nil
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if s.Menu != "" && s.MenuFile != "" {
		return fmt.Errorf("menu and menu_file are mutually exclusive")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	for i, step := range s.Steps {
		if err := validateStep(i, &step); err != nil {
			return err
		}
	}
	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(index int, st *Step) error {
	set := 0
	for _, present := range []bool{
		st.Spawn != "", st.Tick != 0, st.ReachedSeat != "", st.ReachedExit != "", st.Intent != nil,
	} {
		if present {
			set++
		}
	}
	if set != 1 {
		return fmt.Errorf("steps[%d]: exactly one of spawn, tick, reached_seat, reached_exit or intent is required", index)
	}

	switch {
	case st.Tick < 0:
		return fmt.Errorf("steps[%d]: tick must be positive, got %s", index, st.Tick)
	case st.Times < 0:
		return fmt.Errorf("steps[%d]: times must be non-negative", index)
	case st.Times > 0 && st.Tick == 0:
		return fmt.Errorf("steps[%d]: times only applies to tick", index)
	case st.Expect != nil && st.Intent == nil:
		return fmt.Errorf("steps[%d]: expect only applies to intent", index)
	case st.Expect != nil && st.Expect.Accepted && st.Expect.Code != "":
		return fmt.Errorf("steps[%d]: an accepted intent has no error code", index)
	}

	if in := st.Intent; in != nil {
		if in.Kind == "" {
			return fmt.Errorf("steps[%d].intent: kind is required", index)
		}
		if in.By == "" {
			return fmt.Errorf("steps[%d].intent: by is required", index)
		}
	}
	return nil
}

func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertTraceContains:
		if a.Event == "" {
			return fmt.Errorf("assertions[%d]: event is required for trace_contains", index)
		}
	case AssertTraceOrder:
		if len(a.Events) == 0 {
			return fmt.Errorf("assertions[%d]: events list is required for trace_order", index)
		}
		for j, e := range a.Events {
			if e.Event == "" {
				return fmt.Errorf("assertions[%d].events[%d]: event is required", index, j)
			}
		}
	case AssertTraceCount:
		if a.Event == "" {
			return fmt.Errorf("assertions[%d]: event is required for trace_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for trace_count", index)
		}
	case AssertFinalState:
		if (a.Customer == "") == (a.Order == "") {
			return fmt.Errorf("assertions[%d]: exactly one of customer or order is required for final_state", index)
		}
		if len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect is required for final_state", index)
		}
	case AssertStats:
		if len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect is required for stats", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
