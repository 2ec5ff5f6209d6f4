// Package backoff implements two delay strategies: exponential-with-
// jitter and decorrelated jitter. Both are pure functions of (attempt,
// prior delay) given a seeded random source, so retry tests can assert
// exact bounds instead of sleeping for real.
package backoff

import (
	"math/rand"
	"time"

	cenkalti "github.com/cenkalti/backoff/v4"
)

// Strategy is the common contract consulted by the retry engine.
type Strategy interface {
	// NextDelay returns the delay before attempt n, given the delay used
	// for the previous attempt (0 for the first attempt).
	NextDelay(attempt int, prior time.Duration) time.Duration
}

// ExponentialBackoff implements delay(n) = min(initial * multiplier^n,
// max), optionally scaled by a uniform(0.5, 1.5) jitter factor. The core
// multiplier/cap arithmetic is delegated to cenkalti/backoff's
// ExponentialBackOff so the growth curve matches a widely-used, already
//-vetted implementation instead of a hand-rolled pow().
type ExponentialBackoff struct {
	Initial    time.Duration
	Multiplier float64
	MaxBackoff time.Duration
	Jitter     bool

	// Rand is consulted only when Jitter is true. Nil uses
	// rand.NewSource(1) so NextDelay is reproducible without being
	// statically zero.
	Rand *rand.Rand
}

// NewExponentialBackoff returns an ExponentialBackoff with the given
// parameters and jitter disabled. Use the struct literal directly to
// enable jitter or supply a seeded Rand.
func NewExponentialBackoff(initial, max time.Duration, multiplier float64) *ExponentialBackoff {
	return &ExponentialBackoff{Initial: initial, Multiplier: multiplier, MaxBackoff: max}
}

func (b *ExponentialBackoff) backoff() *cenkalti.ExponentialBackOff {
	eb := cenkalti.NewExponentialBackOff()
	eb.InitialInterval = b.Initial
	eb.Multiplier = b.Multiplier
	eb.MaxInterval = b.MaxBackoff
	eb.MaxElapsedTime = 0 // the retry engine owns max_retries, not elapsed time
	eb.RandomizationFactor = 0
	eb.Reset()
	return eb
}

// NextDelay implements Strategy.
func (b *ExponentialBackoff) NextDelay(attempt int, _ time.Duration) time.Duration {
	eb := b.backoff()
	var d time.Duration
	for i := 0; i <= attempt; i++ {
		d = eb.NextBackOff()
	}
	if d > b.MaxBackoff {
		d = b.MaxBackoff
	}
	if b.Jitter {
		r := b.Rand
		if r == nil {
			r = rand.New(rand.NewSource(1))
		}
		factor := 0.5 + r.Float64() // uniform(0.5, 1.5)
		d = time.Duration(float64(d) * factor)
	}
	return d
}

// DecorrelatedJitterBackoff implements delay(0) = base, delay(n) =
// min(uniform(base, prior*3), max). Not available in cenkalti/backoff,
// so this is implemented directly.
type DecorrelatedJitterBackoff struct {
	Base       time.Duration
	MaxBackoff time.Duration
	Rand       *rand.Rand
}

// NewDecorrelatedJitterBackoff constructs a DecorrelatedJitterBackoff with
// an unseeded (but deterministic) random source.
func NewDecorrelatedJitterBackoff(base, max time.Duration) *DecorrelatedJitterBackoff {
	return &DecorrelatedJitterBackoff{Base: base, MaxBackoff: max}
}

// NextDelay implements Strategy.
func (b *DecorrelatedJitterBackoff) NextDelay(attempt int, prior time.Duration) time.Duration {
	if attempt <= 0 || prior <= 0 {
		return b.Base
	}
	r := b.Rand
	if r == nil {
		r = rand.New(rand.NewSource(1))
	}
	upper := prior * 3
	if upper > b.MaxBackoff {
		upper = b.MaxBackoff
	}
	if upper <= b.Base {
		return b.Base
	}
	span := int64(upper - b.Base)
	d := b.Base + time.Duration(r.Int63n(span+1))
	if d > b.MaxBackoff {
		d = b.MaxBackoff
	}
	return d
}
