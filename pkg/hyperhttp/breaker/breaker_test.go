package breaker

import (
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
)

func TestClosedTripsOpenAfterFailureThreshold(t *testing.T) {
	clock := clockwork.NewFakeClock()
	cfg := DefaultConfig()
	cfg.FailureThreshold = 3
	cfg.Clock = clock
	b := New(cfg)

	for i := 0; i < 3; i++ {
		require.NoError(t, b.Allow("host"))
		b.OnFailure("host")
	}

	err := b.Allow("host")
	var openErr *ErrOpen
	require.ErrorAs(t, err, &openErr)
	require.Equal(t, Open, b.State("host"))
}

func TestOpenTransitionsToHalfClosedAfterRecoveryTimeout(t *testing.T) {
	clock := clockwork.NewFakeClock()
	cfg := DefaultConfig()
	cfg.FailureThreshold = 1
	cfg.RecoveryTimeout = time.Second
	cfg.Clock = clock
	b := New(cfg)

	require.NoError(t, b.Allow("host"))
	b.OnFailure("host")
	require.Equal(t, Open, b.State("host"))

	require.Error(t, b.Allow("host"))

	clock.Advance(999 * time.Millisecond)
	require.Error(t, b.Allow("host"))

	clock.Advance(2 * time.Millisecond)
	require.NoError(t, b.Allow("host")) // recovery_timeout elapsed, probe admitted
	require.Equal(t, HalfClosed, b.State("host"))
}

func TestHalfClosedClosesAfterSuccessThreshold(t *testing.T) {
	clock := clockwork.NewFakeClock()
	cfg := DefaultConfig()
	cfg.FailureThreshold = 1
	cfg.RecoveryTimeout = time.Second
	cfg.SuccessThreshold = 2
	cfg.Clock = clock
	b := New(cfg)

	require.NoError(t, b.Allow("host"))
	b.OnFailure("host")
	clock.Advance(2 * time.Second)
	require.NoError(t, b.Allow("host"))
	require.Equal(t, HalfClosed, b.State("host"))

	b.OnSuccess("host")
	require.Equal(t, HalfClosed, b.State("host"))
	b.OnSuccess("host")
	require.Equal(t, Closed, b.State("host"))
}

func TestHalfClosedFailureReopens(t *testing.T) {
	clock := clockwork.NewFakeClock()
	cfg := DefaultConfig()
	cfg.FailureThreshold = 1
	cfg.RecoveryTimeout = time.Second
	cfg.Clock = clock
	b := New(cfg)

	require.NoError(t, b.Allow("host"))
	b.OnFailure("host")
	clock.Advance(2 * time.Second)
	require.NoError(t, b.Allow("host"))
	require.Equal(t, HalfClosed, b.State("host"))

	b.OnFailure("host")
	require.Equal(t, Open, b.State("host"))
}

func TestPerHostLRUEvictsOldestBeyondMaxHosts(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxHosts = 2
	b := New(cfg)

	require.NoError(t, b.Allow("a"))
	require.NoError(t, b.Allow("b"))
	require.NoError(t, b.Allow("c")) // evicts "a"

	// re-touching "a" after eviction starts a fresh Closed entry, not an error
	require.NoError(t, b.Allow("a"))
	require.Equal(t, 2, len(b.byKey))
}

func TestOpenPerformsNoWorkUntilRecovery(t *testing.T) {
	clock := clockwork.NewFakeClock()
	cfg := DefaultConfig()
	cfg.FailureThreshold = 1
	cfg.RecoveryTimeout = time.Minute
	cfg.Clock = clock
	b := New(cfg)

	require.NoError(t, b.Allow("host"))
	b.OnFailure("host")

	admitted := false
	for i := 0; i < 5; i++ {
		if err := b.Allow("host"); err == nil {
			admitted = true
		}
	}
	require.False(t, admitted, "no probe should be admitted before recovery_timeout elapses")
}
