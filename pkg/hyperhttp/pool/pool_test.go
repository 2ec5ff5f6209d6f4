package pool

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

// TestMain verifies every pool's reapLoop goroutine, spawned in New, is
// actually stopped by Close — a pool that isn't Closed in a test below
// would otherwise leak silently.
func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeConn is a minimal Conn for exercising HostPool/ConnectionPool
// without a real transport.
type fakeConn struct {
	key       HostKey
	proto     Protocol
	state     int32
	created   time.Time
	mu        sync.Mutex
	lastUsed  time.Time
	requests  uint64
	streamCap int32
	closed    atomic.Bool
}

func newFakeConn(key HostKey, proto Protocol) *fakeConn {
	now := time.Now()
	return &fakeConn{key: key, proto: proto, state: int32(Idle), created: now, lastUsed: now, streamCap: 1}
}

func (c *fakeConn) HostKey() HostKey  { return c.key }
func (c *fakeConn) Protocol() Protocol { return c.proto }
func (c *fakeConn) State() State       { return State(atomic.LoadInt32(&c.state)) }
func (c *fakeConn) SetState(s State)   { atomic.StoreInt32(&c.state, int32(s)) }
func (c *fakeConn) CreatedAt() time.Time { return c.created }
func (c *fakeConn) LastUsed() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastUsed
}
func (c *fakeConn) Touch() {
	c.mu.Lock()
	c.lastUsed = time.Now()
	c.mu.Unlock()
}
func (c *fakeConn) RequestCount() uint64    { return atomic.LoadUint64(&c.requests) }
func (c *fakeConn) IncrementRequests()      { atomic.AddUint64(&c.requests, 1) }
func (c *fakeConn) StreamCapacity() int     { return int(atomic.LoadInt32(&c.streamCap)) }
func (c *fakeConn) Close() error {
	c.closed.Store(true)
	c.SetState(Closed)
	return nil
}

func fakeDialer() (Dialer, *int32) {
	var n int32
	return func(key HostKey, preferH2 bool) (Conn, error) {
		atomic.AddInt32(&n, 1)
		proto := H1
		if preferH2 {
			proto = H2
		}
		return newFakeConn(key, proto), nil
	}, &n
}

func TestHostPoolAcquireDialsUpToCapThenWaits(t *testing.T) {
	dial, dials := fakeDialer()
	hp := NewHostPool(NewHostKey(SchemeHTTPS, "example.com", 443), HostPoolConfig{
		MaxConnectionsPerHost: 1,
		WaitTimeout:           50 * time.Millisecond,
	}, dial)

	c1, err := hp.Acquire(context.Background(), false)
	require.NoError(t, err)
	require.Equal(t, int32(1), *dials)

	_, err = hp.Acquire(context.Background(), false)
	require.ErrorIs(t, err, ErrConnectAcquireTimeout)

	hp.Release(c1)
	c2, err := hp.Acquire(context.Background(), false)
	require.NoError(t, err)
	require.Same(t, c1, c2)
}

func TestHostPoolPrefersIdleH2WithCapacityOverDialingNew(t *testing.T) {
	dial, dials := fakeDialer()
	hp := NewHostPool(NewHostKey(SchemeHTTPS, "example.com", 443), HostPoolConfig{
		MaxConnectionsPerHost: 5,
	}, dial)

	c1, err := hp.Acquire(context.Background(), true)
	require.NoError(t, err)
	hp.Release(c1)
	require.Equal(t, int32(1), *dials)

	c2, err := hp.Acquire(context.Background(), true)
	require.NoError(t, err)
	require.Same(t, c1, c2)
	require.Equal(t, int32(1), *dials, "should reuse the idle H2 connection instead of dialing")
}

func TestHostPoolReapIdleEvictsPastKeepalive(t *testing.T) {
	dial, _ := fakeDialer()
	hp := NewHostPool(NewHostKey(SchemeHTTP, "example.com", 80), HostPoolConfig{
		MaxConnectionsPerHost: 5,
		MaxKeepalive:          time.Minute,
	}, dial)

	c, err := hp.Acquire(context.Background(), false)
	require.NoError(t, err)
	hp.Release(c)

	reaped := hp.ReapIdle(time.Now().Add(2*time.Minute), 10)
	require.Equal(t, 1, reaped)
	require.Equal(t, Stats{Total: 0, Idle: 0, InUse: 0}, hp.Stats())
}

func TestConnectionPoolEnforcesGlobalCapAcrossHosts(t *testing.T) {
	dial, _ := fakeDialer()
	cp := New(Config{
		MaxConnections:        1,
		MaxConnectionsPerHost: 5,
		WaitTimeout:           50 * time.Millisecond,
		IdleCheckInterval:     time.Hour,
	}, dial)
	defer cp.Close()

	keyA := NewHostKey(SchemeHTTPS, "a.example.com", 443)
	keyB := NewHostKey(SchemeHTTPS, "b.example.com", 443)

	connA, err := cp.Acquire(context.Background(), keyA, false)
	require.NoError(t, err)

	_, err = cp.Acquire(context.Background(), keyB, false)
	require.Error(t, err, "global cap of 1 should block a second host's dial")

	cp.Release(connA)
}

func TestConnectionPoolCrossHostEvictionFreesGlobalSlot(t *testing.T) {
	dial, _ := fakeDialer()
	cp := New(Config{
		MaxConnections:        1,
		MaxConnectionsPerHost: 5,
		WaitTimeout:           time.Second,
		IdleCheckInterval:     time.Hour,
	}, dial)
	defer cp.Close()

	keyA := NewHostKey(SchemeHTTPS, "a.example.com", 443)
	keyB := NewHostKey(SchemeHTTPS, "b.example.com", 443)

	connA, err := cp.Acquire(context.Background(), keyA, false)
	require.NoError(t, err)
	cp.Release(connA) // idle, so it becomes the cross-host eviction victim

	connB, err := cp.Acquire(context.Background(), keyB, false)
	require.NoError(t, err)
	require.NotNil(t, connB)

	stats := cp.Stats()
	require.Equal(t, 0, stats.Hosts[keyA].Total, "idle conn on host A should have been evicted for host B")
	require.Equal(t, 1, stats.Hosts[keyB].Total)
}

func TestConnectionPoolStatsAggregatesAcrossHosts(t *testing.T) {
	dial, _ := fakeDialer()
	cp := New(Config{
		MaxConnections:        10,
		MaxConnectionsPerHost: 5,
		IdleCheckInterval:     time.Hour,
	}, dial)
	defer cp.Close()

	keyA := NewHostKey(SchemeHTTPS, "a.example.com", 443)
	keyB := NewHostKey(SchemeHTTPS, "b.example.com", 443)

	connA, err := cp.Acquire(context.Background(), keyA, false)
	require.NoError(t, err)
	_, err = cp.Acquire(context.Background(), keyB, false)
	require.NoError(t, err)
	cp.Release(connA)

	stats := cp.Stats()
	require.Equal(t, 2, stats.Total)
	require.Equal(t, 1, stats.Idle)
	require.Equal(t, 1, stats.InUse)
}

func TestConnectionPoolCloseClosesAllConnections(t *testing.T) {
	dial, _ := fakeDialer()
	cp := New(Config{
		MaxConnections:        10,
		MaxConnectionsPerHost: 5,
		IdleCheckInterval:     time.Hour,
	}, dial)

	key := NewHostKey(SchemeHTTPS, "example.com", 443)
	conn, err := cp.Acquire(context.Background(), key, false)
	require.NoError(t, err)
	cp.Release(conn)

	require.NoError(t, cp.Close())
	require.ErrorIs(t, cp.Close(), ErrPoolClosed)

	fc := conn.(*semConn).Conn.(*fakeConn)
	require.True(t, fc.closed.Load())
}
