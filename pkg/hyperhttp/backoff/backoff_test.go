package backoff

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestExponentialBackoffGrowsAndCaps(t *testing.T) {
	b := NewExponentialBackoff(100*time.Millisecond, time.Second, 2.0)

	require.Equal(t, 100*time.Millisecond, b.NextDelay(0, 0))
	require.Equal(t, 200*time.Millisecond, b.NextDelay(1, 0))
	require.Equal(t, 400*time.Millisecond, b.NextDelay(2, 0))
	// attempt 4 would be 1.6s uncapped; max is 1s
	require.Equal(t, time.Second, b.NextDelay(4, 0))
}

func TestExponentialBackoffJitterStaysInBounds(t *testing.T) {
	b := &ExponentialBackoff{
		Initial:    100 * time.Millisecond,
		Multiplier: 2.0,
		MaxBackoff: 10 * time.Second,
		Jitter:     true,
		Rand:       rand.New(rand.NewSource(42)),
	}

	d := b.NextDelay(1, 0)
	require.GreaterOrEqual(t, d, 100*time.Millisecond) // 200ms * 0.5
	require.LessOrEqual(t, d, 300*time.Millisecond)    // 200ms * 1.5
}

func TestDecorrelatedJitterBackoffBounds(t *testing.T) {
	b := &DecorrelatedJitterBackoff{
		Base:       100 * time.Millisecond,
		MaxBackoff: 10 * time.Second,
		Rand:       rand.New(rand.NewSource(7)),
	}

	require.Equal(t, 100*time.Millisecond, b.NextDelay(0, 0))

	prior := 100 * time.Millisecond
	for i := 1; i <= 5; i++ {
		d := b.NextDelay(i, prior)
		require.GreaterOrEqual(t, d, b.Base)
		require.LessOrEqual(t, d, b.MaxBackoff)
		prior = d
	}
}

func TestDecorrelatedJitterBackoffRespectsCapWhenPriorIsLarge(t *testing.T) {
	b := NewDecorrelatedJitterBackoff(100*time.Millisecond, time.Second)
	d := b.NextDelay(3, 900*time.Millisecond)
	require.LessOrEqual(t, d, time.Second)
}
