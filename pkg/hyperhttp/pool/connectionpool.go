package pool

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// ErrPoolClosed is returned once Close has been called.
var ErrPoolClosed = errors.New("pool: connection pool closed")

// Config configures a ConnectionPool's caps, reap cadence, and wait
// budget.
type Config struct {
	MaxConnections        int           // global cap
	MaxConnectionsPerHost int           // per-host idle+in-use cap
	MaxKeepalive          time.Duration // idle reap threshold
	WaitTimeout           time.Duration // per-host/global acquire wait budget
	IdleCheckInterval     time.Duration
	ReapBatchSize         int
}

// DefaultConfig returns reasonable production defaults.
func DefaultConfig() Config {
	return Config{
		MaxConnections:        100,
		MaxConnectionsPerHost: 20,
		MaxKeepalive:          300 * time.Second,
		WaitTimeout:           30 * time.Second,
		IdleCheckInterval:     30 * time.Second,
		ReapBatchSize:         32,
	}
}

// ConnectionPool partitions pooled connections by HostKey and enforces
// a global cap across all hosts: acquisition waits on a
// golang.org/x/sync/semaphore.Weighted-backed global FIFO queue, and
// when the pool is saturated an idle connection on another host can be
// evicted (LRU) to make room.
type ConnectionPool struct {
	cfg  Config
	dial Dialer

	sem *semaphore.Weighted

	mu     sync.RWMutex
	hosts  map[HostKey]*HostPool
	closed bool
	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New constructs a ConnectionPool. dial creates a fresh Conn for a given
// HostKey (supplied by the caller, e.g. transport/h1 or transport/h2's
// Dial functions).
func New(cfg Config, dial Dialer) *ConnectionPool {
	cp := &ConnectionPool{
		cfg:    cfg,
		dial:   dial,
		sem:    semaphore.NewWeighted(int64(cfg.MaxConnections)),
		hosts:  make(map[HostKey]*HostPool),
		stopCh: make(chan struct{}),
	}
	cp.wg.Add(1)
	go cp.reapLoop()
	return cp
}

func (cp *ConnectionPool) hostPool(key HostKey) *HostPool {
	cp.mu.RLock()
	hp, ok := cp.hosts[key]
	cp.mu.RUnlock()
	if ok {
		return hp
	}

	cp.mu.Lock()
	defer cp.mu.Unlock()
	if hp, ok := cp.hosts[key]; ok {
		return hp
	}

	hpCfg := HostPoolConfig{
		MaxConnectionsPerHost: cp.cfg.MaxConnectionsPerHost,
		MaxKeepalive:          cp.cfg.MaxKeepalive,
		WaitTimeout:           cp.cfg.WaitTimeout,
	}
	hp = NewHostPool(key, hpCfg, cp.globalGatedDial)
	cp.hosts[key] = hp
	return hp
}

// semConn decorates a Conn so its Close also releases the global semaphore
// permit acquired when it was dialed. Every connection created through
// this pool holds exactly one such permit for its whole lifetime.
type semConn struct {
	Conn
	sem      *semaphore.Weighted
	released bool
	mu       sync.Mutex
}

// Unwrap returns the transport-level Conn this pool wrapped, so callers
// that need to type-switch on the concrete connection (e.g. a Client
// dispatching to transport/h1 vs transport/h2) can see past the
// semaphore-release decoration.
func Unwrap(c Conn) Conn {
	if sc, ok := c.(*semConn); ok {
		return sc.Conn
	}
	return c
}

func (c *semConn) Close() error {
	err := c.Conn.Close()
	c.mu.Lock()
	if !c.released {
		c.sem.Release(1)
		c.released = true
	}
	c.mu.Unlock()
	return err
}

// globalGatedDial acquires a global permit before dialing a new
// connection for key, evicting cross-host idle capacity first if the
// pool is saturated.
func (cp *ConnectionPool) globalGatedDial(key HostKey, preferH2 bool) (Conn, error) {
	ctx, cancel := context.WithTimeout(context.Background(), cp.waitTimeout())
	defer cancel()

	if !cp.sem.TryAcquire(1) {
		cp.evictLargestIdleHost(key) // best-effort; falls through to blocking acquire regardless
		if !cp.sem.TryAcquire(1) {
			if err := cp.sem.Acquire(ctx, 1); err != nil {
				return nil, err
			}
		}
	}

	conn, err := cp.dial(key, preferH2)
	if err != nil {
		cp.sem.Release(1)
		return nil, err
	}
	return &semConn{Conn: conn, sem: cp.sem}, nil
}

func (cp *ConnectionPool) waitTimeout() time.Duration {
	if cp.cfg.WaitTimeout > 0 {
		return cp.cfg.WaitTimeout
	}
	return 30 * time.Second
}

// evictLargestIdleHost picks the host pool with the largest Idle set and
// evicts its LRU idle connection, freeing one global slot. Returns true
// if it freed a slot (the caller still needs to TryAcquire/Acquire the
// freed permit).
func (cp *ConnectionPool) evictLargestIdleHost(except HostKey) bool {
	cp.mu.RLock()
	var victim *HostPool
	var victimIdle []Conn
	for k, hp := range cp.hosts {
		if k == except {
			continue
		}
		idle := hp.IdleConns()
		if len(idle) > len(victimIdle) {
			victim, victimIdle = hp, idle
		}
	}
	cp.mu.RUnlock()

	if victim == nil || len(victimIdle) == 0 {
		return false
	}

	lru := victimIdle[0]
	for _, c := range victimIdle[1:] {
		if c.LastUsed().Before(lru.LastUsed()) {
			lru = c
		}
	}
	return victim.EvictOne(lru)
}

// Acquire resolves a connection for key, respecting the global cap and
// preferH2 (H2 multiplexing preferred over one-shot H1 reuse).
func (cp *ConnectionPool) Acquire(ctx context.Context, key HostKey, preferH2 bool) (Conn, error) {
	cp.mu.RLock()
	closed := cp.closed
	cp.mu.RUnlock()
	if closed {
		return nil, ErrPoolClosed
	}
	return cp.hostPool(key).Acquire(ctx, preferH2)
}

// Release returns conn to its host pool.
func (cp *ConnectionPool) Release(conn Conn) {
	cp.hostPool(conn.HostKey()).Release(conn)
}

func (cp *ConnectionPool) reapLoop() {
	defer cp.wg.Done()
	interval := cp.cfg.IdleCheckInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-cp.stopCh:
			return
		case <-ticker.C:
			cp.reapOnce(time.Now())
		}
	}
}

func (cp *ConnectionPool) reapOnce(now time.Time) {
	cp.mu.RLock()
	pools := make([]*HostPool, 0, len(cp.hosts))
	for _, hp := range cp.hosts {
		pools = append(pools, hp)
	}
	cp.mu.RUnlock()

	batch := cp.cfg.ReapBatchSize
	if batch <= 0 {
		batch = 32
	}
	for _, hp := range pools {
		hp.ReapIdle(now, batch)
	}
}

// GlobalStats aggregates every host's Stats plus per-host detail.
type GlobalStats struct {
	Total int
	Idle  int
	InUse int
	Hosts map[HostKey]Stats
}

// Stats returns a point-in-time snapshot across all hosts.
func (cp *ConnectionPool) Stats() GlobalStats {
	cp.mu.RLock()
	defer cp.mu.RUnlock()

	out := GlobalStats{Hosts: make(map[HostKey]Stats, len(cp.hosts))}
	for k, hp := range cp.hosts {
		s := hp.Stats()
		out.Hosts[k] = s
		out.Total += s.Total
		out.Idle += s.Idle
		out.InUse += s.InUse
	}
	return out
}

// Close shuts down the pool, closing every connection and stopping the
// idle reaper.
func (cp *ConnectionPool) Close() error {
	cp.mu.Lock()
	if cp.closed {
		cp.mu.Unlock()
		return ErrPoolClosed
	}
	cp.closed = true
	cp.mu.Unlock()

	close(cp.stopCh)
	cp.wg.Wait()

	cp.mu.RLock()
	pools := make([]*HostPool, 0, len(cp.hosts))
	for _, hp := range cp.hosts {
		pools = append(pools, hp)
	}
	cp.mu.RUnlock()

	for _, hp := range pools {
		hp.CloseAll()
	}
	return nil
}
