// Package breaker implements a circuit breaker: a closed/open/half-open
// state machine, usable either as one global instance or keyed per host
// with LRU eviction beyond max_hosts. Half-open admits a bounded number
// of probe requests and only closes once SuccessThreshold of them
// succeed.
package breaker

import (
	"container/list"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// State is the breaker's current admission mode.
type State int

const (
	Closed State = iota
	Open
	HalfClosed
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfClosed:
		return "half-closed"
	default:
		return "unknown"
	}
}

// ErrOpen is returned by Allow when the breaker is rejecting admission.
type ErrOpen struct{ Key string }

func (e *ErrOpen) Error() string { return "breaker: circuit open for " + e.Key }

// Config holds a breaker's failure/recovery thresholds and scope.
type Config struct {
	FailureThreshold int
	RecoveryTimeout  time.Duration
	SuccessThreshold int
	Window           time.Duration
	MaxHosts         int // only meaningful for per-host breakers; 0 = unbounded
	Clock            clockwork.Clock
}

// DefaultConfig returns reasonable production defaults.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		RecoveryTimeout:  30 * time.Second,
		SuccessThreshold: 2,
		Window:           10 * time.Second,
		MaxHosts:         1000,
		Clock:            clockwork.NewRealClock(),
	}
}

type entry struct {
	key              string
	state            State
	failures         int
	windowStart      time.Time
	openedAt         time.Time
	probesRemaining  int
	successes        int
	mu               sync.Mutex
	listElem         *list.Element
}

// Breaker is a per-key (or singleton, for global scope) circuit breaker.
type Breaker struct {
	cfg   Config
	mu    sync.Mutex
	byKey map[string]*entry
	lru   *list.List // front = most recently used
}

// New constructs a Breaker. Pass GlobalKey as the key for a global
// (single-key) breaker, or a per-host key for per-host scope.
func New(cfg Config) *Breaker {
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	return &Breaker{cfg: cfg, byKey: make(map[string]*entry), lru: list.New()}
}

func (b *Breaker) get(key string) *entry {
	b.mu.Lock()
	defer b.mu.Unlock()

	if e, ok := b.byKey[key]; ok {
		b.lru.MoveToFront(e.listElem)
		return e
	}

	e := &entry{key: key, state: Closed, windowStart: b.cfg.Clock.Now()}
	e.listElem = b.lru.PushFront(e)
	b.byKey[key] = e

	if b.cfg.MaxHosts > 0 && len(b.byKey) > b.cfg.MaxHosts {
		oldest := b.lru.Back()
		if oldest != nil {
			victim := oldest.Value.(*entry)
			b.lru.Remove(oldest)
			delete(b.byKey, victim.key)
		}
	}

	return e
}

// Allow must be consulted before connection acquisition. It returns
// *ErrOpen when the breaker is in Open state and has not yet reached
// RecoveryTimeout.
func (b *Breaker) Allow(key string) error {
	e := b.get(key)
	e.mu.Lock()
	defer e.mu.Unlock()

	now := b.cfg.Clock.Now()

	switch e.state {
	case Closed:
		if now.Sub(e.windowStart) >= b.cfg.Window {
			e.windowStart = now
			e.failures = 0
		}
		return nil
	case Open:
		if now.Sub(e.openedAt) >= b.cfg.RecoveryTimeout {
			e.state = HalfClosed
			e.probesRemaining = b.cfg.SuccessThreshold
			e.successes = 0
			return nil
		}
		return &ErrOpen{Key: key}
	case HalfClosed:
		if e.probesRemaining <= 0 {
			// All probe slots in flight; treat as open until one resolves.
			return &ErrOpen{Key: key}
		}
		e.probesRemaining--
		return nil
	default:
		return nil
	}
}

// OnSuccess records a successful outcome for key.
func (b *Breaker) OnSuccess(key string) {
	e := b.get(key)
	e.mu.Lock()
	defer e.mu.Unlock()

	switch e.state {
	case HalfClosed:
		e.successes++
		if e.successes >= b.cfg.SuccessThreshold {
			e.state = Closed
			e.failures = 0
			e.windowStart = b.cfg.Clock.Now()
		}
	case Closed:
		// no-op: failures reset on window rollover, not on every success
	}
}

// OnFailure records a failed outcome for key. Only categories
// {TRANSIENT, SERVER, CONNECTION, TIMEOUT} should ever reach here —
// callers are expected to have filtered via classify.Category before
// calling OnFailure.
func (b *Breaker) OnFailure(key string) {
	e := b.get(key)
	e.mu.Lock()
	defer e.mu.Unlock()

	now := b.cfg.Clock.Now()

	switch e.state {
	case Closed:
		if now.Sub(e.windowStart) >= b.cfg.Window {
			e.windowStart = now
			e.failures = 0
		}
		e.failures++
		if e.failures >= b.cfg.FailureThreshold {
			e.state = Open
			e.openedAt = now
		}
	case HalfClosed:
		e.state = Open
		e.openedAt = now
		e.probesRemaining = 0
		e.successes = 0
	case Open:
		// already open; nothing to do
	}
}

// State returns the current state for key (for diagnostics/tests).
func (b *Breaker) State(key string) State {
	e := b.get(key)
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// GlobalKey is the key used by a breaker configured for global scope.
const GlobalKey = ""
