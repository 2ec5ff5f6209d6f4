package pool

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrConnectAcquireTimeout is returned when acquire suspends past the
// per-host wait budget.
var ErrConnectAcquireTimeout = errors.New("pool: connection acquire timed out")

// HostPoolConfig configures a single host's bounded connection set.
type HostPoolConfig struct {
	MaxConnectionsPerHost int
	MaxKeepalive          time.Duration // idle reap threshold (default 300s)
	WaitTimeout           time.Duration // per-host acquire wait budget
}

// HostPool bounds the connections to one (scheme, host, port), sharing
// a single cap across both Idle and InUse connections.
type HostPool struct {
	key    HostKey
	cfg    HostPoolConfig
	dial   Dialer

	mu    sync.Mutex
	conns []Conn // all non-evicted connections, Idle or InUse
	waitC chan struct{} // broadcast-by-replace signal for waiters
}

// NewHostPool constructs a HostPool for key.
func NewHostPool(key HostKey, cfg HostPoolConfig, dial Dialer) *HostPool {
	return &HostPool{key: key, cfg: cfg, dial: dial, waitC: make(chan struct{})}
}

func (hp *HostPool) notify() {
	close(hp.waitC)
	hp.waitC = make(chan struct{})
}

// pickIdleLocked selects an idle connection to reuse: prefer an H2
// connection with spare stream capacity when preferH2 is set; otherwise
// the most-recently-used Idle connection of either protocol, tie-broken
// by lowest request count.
func (hp *HostPool) pickIdleLocked(preferH2 bool) Conn {
	if preferH2 {
		var best Conn
		for _, c := range hp.conns {
			if c.Protocol() != H2 || c.StreamCapacity() <= 0 {
				continue
			}
			if c.State() != Idle && c.State() != InUse {
				continue
			}
			if best == nil || c.RequestCount() < best.RequestCount() {
				best = c
			}
		}
		if best != nil {
			return best
		}
	}

	var best Conn
	for _, c := range hp.conns {
		if c.State() != Idle {
			continue
		}
		if best == nil {
			best = c
			continue
		}
		if c.LastUsed().After(best.LastUsed()) {
			best = c
		} else if c.LastUsed().Equal(best.LastUsed()) && c.RequestCount() < best.RequestCount() {
			best = c
		}
	}
	return best
}

func (hp *HostPool) countLocked() (total, idle int) {
	for _, c := range hp.conns {
		switch c.State() {
		case Idle:
			idle++
			total++
		case InUse:
			total++
		}
	}
	return
}

// Acquire returns an Idle connection, multiplexes onto an H2 connection
// with spare capacity, or dials a new one if under cap. It suspends on the
// host's wait budget if the cap is reached and nothing is available.
func (hp *HostPool) Acquire(ctx context.Context, preferH2 bool) (Conn, error) {
	for {
		hp.mu.Lock()
		hp.evictDeadLocked()

		if c := hp.pickIdleLocked(preferH2); c != nil {
			c.SetState(InUse)
			hp.mu.Unlock()
			return c, nil
		}

		total, _ := hp.countLocked()
		if total < hp.cfg.MaxConnectionsPerHost {
			hp.mu.Unlock()
			conn, err := hp.dial(hp.key, preferH2)
			if err != nil {
				return nil, err
			}
			conn.SetState(InUse)
			hp.mu.Lock()
			hp.conns = append(hp.conns, conn)
			hp.mu.Unlock()
			return conn, nil
		}

		waitCh := hp.waitC
		hp.mu.Unlock()

		timeout := hp.cfg.WaitTimeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		timer := time.NewTimer(timeout)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
			return nil, ErrConnectAcquireTimeout
		case <-waitCh:
			timer.Stop()
			// loop and retry acquisition
		}
	}
}

// Release returns conn to Idle (or evicts it if Broken/Closed/Closing).
func (hp *HostPool) Release(conn Conn) {
	hp.mu.Lock()
	defer hp.mu.Unlock()

	switch conn.State() {
	case Broken, Closed, Closing:
		hp.removeLocked(conn)
		conn.Close()
	default:
		conn.Touch()
		conn.SetState(Idle)
	}
	hp.notify()
}

func (hp *HostPool) removeLocked(conn Conn) {
	for i, c := range hp.conns {
		if c == conn {
			hp.conns = append(hp.conns[:i], hp.conns[i+1:]...)
			return
		}
	}
}

// evictDeadLocked drops Broken/Closed entries; callers must hold hp.mu.
func (hp *HostPool) evictDeadLocked() {
	kept := hp.conns[:0]
	for _, c := range hp.conns {
		if c.State() == Broken || c.State() == Closed {
			c.Close()
			continue
		}
		kept = append(kept, c)
	}
	hp.conns = kept
}

// ReapIdle evicts Idle connections whose age exceeds MaxKeepalive, in
// bounded batches to avoid a long pause under a pool with many hosts.
func (hp *HostPool) ReapIdle(now time.Time, batchSize int) int {
	hp.mu.Lock()
	defer hp.mu.Unlock()

	reaped := 0
	kept := hp.conns[:0]
	for _, c := range hp.conns {
		if reaped < batchSize && c.State() == Idle && now.Sub(c.LastUsed()) > hp.cfg.MaxKeepalive {
			c.Close()
			reaped++
			continue
		}
		kept = append(kept, c)
	}
	hp.conns = kept
	if reaped > 0 {
		hp.notify()
	}
	return reaped
}

// Stats reports this host's current counts.
type Stats struct {
	Total  int
	Idle   int
	InUse  int
}

// Stats returns a snapshot of this host's connection counts.
func (hp *HostPool) Stats() Stats {
	hp.mu.Lock()
	defer hp.mu.Unlock()
	total, idle := hp.countLocked()
	return Stats{Total: total, Idle: idle, InUse: total - idle}
}

// IdleConns returns the current Idle connections, used by ConnectionPool
// for cross-host LRU eviction under global pressure.
func (hp *HostPool) IdleConns() []Conn {
	hp.mu.Lock()
	defer hp.mu.Unlock()
	var out []Conn
	for _, c := range hp.conns {
		if c.State() == Idle {
			out = append(out, c)
		}
	}
	return out
}

// EvictOne forcibly closes and removes a specific idle connection (used
// for cross-host LRU eviction). Returns true if conn was found and
// removed.
func (hp *HostPool) EvictOne(conn Conn) bool {
	hp.mu.Lock()
	defer hp.mu.Unlock()
	for i, c := range hp.conns {
		if c == conn {
			hp.conns = append(hp.conns[:i], hp.conns[i+1:]...)
			c.Close()
			hp.notify()
			return true
		}
	}
	return false
}

// CloseAll closes every connection tracked by this host pool.
func (hp *HostPool) CloseAll() {
	hp.mu.Lock()
	defer hp.mu.Unlock()
	for _, c := range hp.conns {
		c.Close()
	}
	hp.conns = nil
}
