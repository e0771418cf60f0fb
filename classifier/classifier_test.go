package classifier

import (
	"testing"

	"github.com/stretchr/testify/require"

	"blobbackend/logging"
)

// TestSequentialAccessStaysClassifiedSequential covers P4: a ring full of
// strictly increasing offsets on a single fd keeps random_access false.
func TestSequentialAccessStaysClassifiedSequential(t *testing.T) {
	c := New(1<<40, logging.Default)
	for i := 0; i < RingCap; i++ {
		c.Observe(1, int64(i)*4096)
	}
	require.False(t, c.RandomAccess())
}

// TestScatteredAccessClassifiesRandom covers P4's counterpart: offsets
// spread over 0..693 (i*1_000_000_007 mod 1e9 is 7*i here) are far more
// dispersed than a vmTotalSq of 1 allows, so they trip the MSE threshold.
func TestScatteredAccessClassifiesRandom(t *testing.T) {
	c := New(1, logging.Default)
	for i := 0; i < RingCap; i++ {
		offset := int64(i) * 1_000_000_007 % 1_000_000_000
		c.Observe(1, offset)
	}
	require.True(t, c.RandomAccess())
}

func TestObserveOnlyClassifiesOnRingWrap(t *testing.T) {
	c := New(1<<40, logging.Default)
	for i := 0; i < RingCap-1; i++ {
		c.Observe(1, int64(i))
	}
	require.Equal(t, RingCap-1, c.writeIdx)
}

func TestTransitionHookFiresOnlyOnFlip(t *testing.T) {
	c := New(1, logging.Default)
	var transitions []bool
	c.SetTransitionHook(func(random bool) { transitions = append(transitions, random) })

	for i := 0; i < RingCap; i++ {
		offset := int64(i) * 1_000_000_007 % 1_000_000_000
		c.Observe(1, offset)
	}
	require.Equal(t, []bool{true}, transitions)

	for i := 0; i < RingCap; i++ {
		offset := int64(i) * 1_000_000_007 % 1_000_000_000
		c.Observe(1, offset)
	}
	require.Equal(t, []bool{true}, transitions, "no second callback when the verdict does not change")
}

func TestMultiFDWeightedMeanBiasKeepsSequentialClassification(t *testing.T) {
	c := New(1<<40, logging.Default)
	for i := 0; i < RingCap/2; i++ {
		c.Observe(1, int64(i)*4096)
	}
	for i := 0; i < RingCap/2; i++ {
		c.Observe(2, int64(i)*4096)
	}
	require.False(t, c.RandomAccess())
}
