package testutil

import "sync"

// ScriptedRand replays a fixed list of draws. Each value is reduced modulo
// the requested bound; when the script runs out it starts over.
type ScriptedRand struct {
	mu     sync.Mutex
	values []int
	i      int
}

// NewScriptedRand creates a source replaying values.
func NewScriptedRand(values ...int) *ScriptedRand {
	if len(values) == 0 {
		values = []int{0}
	}
	return &ScriptedRand{values: values}
}

// Intn returns the next scripted value in [0, n).
func (r *ScriptedRand) Intn(n int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	v := r.values[r.i%len(r.values)]
	r.i++
	if v < 0 {
		v = -v
	}
	return v % n
}
