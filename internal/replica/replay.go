package replica

import (
	"fmt"

	"github.com/roach88/cafesync/internal/wire"
)

// DivergenceError reports a checkpoint the replayed state does not match.
type DivergenceError struct {
	Seq  int64
	Want string
	Got  string
}

func (e *DivergenceError) Error() string {
	return fmt.Sprintf("state diverged at seq %d: checkpoint %s, replayed %s", e.Seq, short(e.Want), short(e.Got))
}

func short(d string) string {
	if len(d) > 12 {
		return d[:12]
	}
	return d
}

// Replayer rebuilds a journaled run from an empty world and checks it
// against stored digests.
type Replayer struct {
	proj        *Projection
	checkpoints map[int64]string
	verified    int
}

// NewReplayer starts from the empty world at seq 0. checkpoints maps a seq
// to the digest the authority recorded after that delta.
func NewReplayer(checkpoints map[int64]string) *Replayer {
	p := New()
	p.reset(wire.WelcomeSnapshot{})
	p.welcomed = true
	return &Replayer{proj: p, checkpoints: checkpoints}
}

// Apply applies one journaled delta and verifies a checkpoint at its seq.
func (r *Replayer) Apply(env wire.Envelope) error {
	if err := r.proj.Apply(env); err != nil {
		return err
	}
	want, ok := r.checkpoints[env.Seq]
	if !ok {
		return nil
	}
	got, err := r.proj.Digest()
	if err != nil {
		return err
	}
	if got != want {
		return &DivergenceError{Seq: env.Seq, Want: want, Got: got}
	}
	r.verified++
	return nil
}

// Verified returns how many checkpoints matched.
func (r *Replayer) Verified() int { return r.verified }

// Projection returns the replayed state.
func (r *Replayer) Projection() *Projection { return r.proj }
