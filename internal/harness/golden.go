package harness

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/sebdah/goldie/v2"
)

// Transcript renders a result for golden comparison: a header naming the
// scenario, one line per delta, and the closing stats.
func Transcript(name string, result *Result) []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "# %s\n", name)
	for _, event := range result.Trace {
		fmt.Fprintln(&buf, event.Line())
	}
	s := result.Stats
	fmt.Fprintf(&buf, "# served=%d walkouts=%d completed=%d cancelled=%d failed=%d revenue=%s\n",
		s.Served, s.Walkouts, s.Orders.Completed, s.Orders.Cancelled, s.Orders.Failed, s.Orders.Revenue.StringFixed(2))
	return buf.Bytes()
}

// RunWithGolden executes a scenario and compares its transcript against
// testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return nil, err
	}
	AssertGolden(t, scenario.Name, result)
	return result, nil
}

// AssertGolden compares an existing result against its golden file.
func AssertGolden(t *testing.T, name string, result *Result) {
	t.Helper()

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, name, Transcript(name, result))
}
