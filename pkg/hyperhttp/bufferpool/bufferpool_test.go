package bufferpool

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAcquireSizesToTier(t *testing.T) {
	p := New(nil)

	cases := []struct {
		name     string
		min      int
		expected int
	}{
		{"below smallest tier", 1024, Size2K},
		{"exact 2K", Size2K, Size2K},
		{"between 2K and 4K", 3 * 1024, Size4K},
		{"exact 1M", Size1M, Size1M},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ref := p.Acquire(tc.min)
			require.GreaterOrEqual(t, ref.Len(), tc.min)
			require.Equal(t, tc.expected, ref.Len())
			require.NoError(t, ref.Release())
		})
	}
}

func TestAcquireBeyondLargestTierAllocatesOffPool(t *testing.T) {
	p := New(nil)
	ref := p.Acquire(2 * Size1M)
	require.Equal(t, 2*Size1M, ref.Len())
	require.NoError(t, ref.Release())
}

func TestViewSharesRefcountWithoutCopy(t *testing.T) {
	p := New(nil)
	ref := p.Acquire(Size4K)
	copy(ref.Bytes(), []byte("hello"))

	view := ref.View(0, 5)
	require.Equal(t, "hello", string(view.Bytes()))

	// releasing the view must not free the parent while it is still held
	require.NoError(t, view.Release())
	require.NoError(t, ref.Release())
}

func TestDoubleReleaseIsReported(t *testing.T) {
	p := New(nil)
	ref := p.Acquire(Size4K)
	require.NoError(t, ref.Release())
	require.ErrorIs(t, ref.Release(), ErrDoubleRelease)
}

func TestReleaseReturnsBufferToTierForReuse(t *testing.T) {
	p := New(nil)

	first := p.Acquire(Size8K)
	require.NoError(t, first.Release())

	second := p.Acquire(Size8K)
	defer second.Release()

	stats := p.Stats()
	for _, s := range stats {
		if s.Size == Size8K {
			require.GreaterOrEqual(t, s.Hits, uint64(1))
			return
		}
	}
	t.Fatal("8K tier not found in stats")
}

func TestCapEnforcesSoftBudgetWithoutFailingAcquire(t *testing.T) {
	caps := make([]int32, 8)
	caps[1] = 1 // 4K tier capped at 1 parked buffer
	p := New(&Config{Caps: caps})

	a := p.Acquire(Size4K)
	b := p.Acquire(Size4K)

	require.NoError(t, a.Release())
	require.NoError(t, b.Release()) // exceeds cap; must still succeed (soft hint, never fails)

	c := p.Acquire(Size4K)
	require.NoError(t, c.Release())
}
