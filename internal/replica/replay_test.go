package replica

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/cafesync/internal/wire"
)

// checkpointed plays the scenario and records a digest after every tick,
// the way the gateway checkpoints at batch boundaries.
func checkpointed(t *testing.T) (*authority, map[int64]string) {
	a := newAuthority(t)
	a.play(nil)
	checkpoints := map[int64]string{a.seq: a.digest()}
	a.tick(5 * time.Second)
	checkpoints[a.seq] = a.digest()
	return a, checkpoints
}

func TestReplayer_VerifiesCheckpoints(t *testing.T) {
	a, checkpoints := checkpointed(t)

	r := NewReplayer(checkpoints)
	for _, env := range a.log {
		require.NoError(t, r.Apply(env))
	}
	assert.Equal(t, len(checkpoints), r.Verified())
	assert.Equal(t, a.seq, r.Projection().Seq())

	got, err := r.Projection().Digest()
	require.NoError(t, err)
	assert.Equal(t, a.digest(), got)
}

func TestReplayer_DetectsDivergence(t *testing.T) {
	a, _ := checkpointed(t)
	last := a.log[len(a.log)-1].Seq

	r := NewReplayer(map[int64]string{last: "0000000000000000"})
	var err error
	for _, env := range a.log {
		if err = r.Apply(env); err != nil {
			break
		}
	}
	var div *DivergenceError
	require.ErrorAs(t, err, &div)
	assert.Equal(t, last, div.Seq)
	assert.Contains(t, div.Error(), "diverged at seq")
}

func TestReplayer_Gap(t *testing.T) {
	a, _ := checkpointed(t)
	require.Greater(t, len(a.log), 2)

	r := NewReplayer(nil)
	require.NoError(t, r.Apply(a.log[0]))
	err := r.Apply(a.log[2])
	assert.True(t, IsGap(err))
}

func TestReplayer_StartsWelcomedAtZero(t *testing.T) {
	r := NewReplayer(nil)
	assert.True(t, r.Projection().Welcomed())
	assert.Zero(t, r.Projection().Seq())

	empty, err := wire.Digest(wire.WelcomeSnapshot{})
	require.NoError(t, err)
	got, err := r.Projection().Digest()
	require.NoError(t, err)
	assert.Equal(t, empty, got)
}
