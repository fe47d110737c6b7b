package testutil

import (
	"fmt"
	"sync"
)

// FixedIDs hands out preset ids in order, then falls back to
// "<fallback>-N" so a scenario that spawns more than expected still runs.
//
// Satisfies the session and observer id generator interfaces.
type FixedIDs struct {
	mu       sync.Mutex
	ids      []string
	fallback string
	n        int
}

// NewFixedIDs creates a generator over ids.
func NewFixedIDs(fallback string, ids ...string) *FixedIDs {
	if fallback == "" {
		fallback = "id"
	}
	return &FixedIDs{ids: ids, fallback: fallback}
}

// Generate returns the next id.
func (g *FixedIDs) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	if g.n <= len(g.ids) {
		return g.ids[g.n-1]
	}
	return fmt.Sprintf("%s-%d", g.fallback, g.n)
}
