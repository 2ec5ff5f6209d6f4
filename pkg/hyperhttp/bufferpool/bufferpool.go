// Package bufferpool implements a tiered, reference-counted byte buffer
// pool. It is the leaf dependency of the connection-lifecycle subsystem.
// The top-level Client uses it for the scratch buffer that drains an
// unread response body; transport/h1 and transport/h2 do not read or
// write through it.
package bufferpool

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/valyala/bytebufferpool"
)

// Tier sizes: power-of-two size classes from 2K up through 1M, so that
// small control-plane bodies and large payload bodies each land in a
// tier sized close to their actual footprint instead of sharing one
// oversized buffer.
const (
	Size2K   = 2 * 1024
	Size4K   = 4 * 1024
	Size8K   = 8 * 1024
	Size16K  = 16 * 1024
	Size32K  = 32 * 1024
	Size64K  = 64 * 1024
	Size256K = 256 * 1024
	Size1M   = 1024 * 1024
)

var tierSizes = [...]int{Size2K, Size4K, Size8K, Size16K, Size32K, Size64K, Size256K, Size1M}

// ErrDoubleRelease is returned when Release is called on a ref whose
// count is already zero. A
// double-free is a programmer error; returning it as an error lets
// callers surface it instead of silently corrupting pool state.
var ErrDoubleRelease = errors.New("bufferpool: release of already-released buffer")

// tier is one size class: a bytebufferpool-backed free list plus a budget
// cap and hit/miss counters.
type tier struct {
	size    int
	cap     int32 // soft cap on buffers parked in the free list; 0 = unbounded
	pool    bytebufferpool.Pool
	parked  atomic.Int32 // approx buffers currently sitting in the free list
	gets    atomic.Uint64
	hits    atomic.Uint64
	misses  atomic.Uint64
	offPool atomic.Uint64 // allocations/releases that bypassed the pool (budget exceeded)
}

func (t *tier) get() *bytebufferpool.ByteBuffer {
	t.gets.Add(1)
	if t.parked.Load() > 0 {
		t.parked.Add(-1)
		t.hits.Add(1)
	} else {
		t.misses.Add(1)
	}
	return t.pool.Get()
}

func (t *tier) put(b *bytebufferpool.ByteBuffer) {
	if t.cap > 0 && t.parked.Load() >= t.cap {
		t.offPool.Add(1)
		return // soft budget exceeded: drop instead of growing the free list unbounded
	}
	t.parked.Add(1)
	t.pool.Put(b)
}

// Pool is a tiered, reference-counted buffer pool. The zero value is not
// usable; construct with New.
type Pool struct {
	tiers [len(tierSizes)]*tier
}

// Config bounds each tier's soft budget (number of buffers kept pooled
// before Release starts discarding instead of recycling). A zero Caps
// entry means unbounded.
type Config struct {
	// Caps, when non-nil, must have one entry per tier (2K..1M, ascending).
	// Caps[i] <= 0 means that tier is unbounded.
	Caps []int32
}

// New constructs a Pool with the given soft per-tier caps (or unbounded
// tiers if cfg is nil).
func New(cfg *Config) *Pool {
	p := &Pool{}
	for i, sz := range tierSizes {
		var c int32
		if cfg != nil && i < len(cfg.Caps) {
			c = cfg.Caps[i]
		}
		p.tiers[i] = &tier{size: sz, cap: c}
	}
	return p
}

func (p *Pool) tierFor(minSize int) (*tier, bool) {
	for _, t := range p.tiers {
		if minSize <= t.size {
			return t, true
		}
	}
	return nil, false
}

// BufferRef is a reference-counted handle onto a pooled (or, beyond the
// largest tier, freshly allocated) buffer. A ref with refcount > 1 must
// only be mutated through an append-only window owned by a single
// writer; View() is the only way to create such a shared ref, and
// callers that took a View must treat the bytes as read-only.
type BufferRef struct {
	pool   *Pool
	tier   *tier // nil for off-pool/oversized allocations
	bb     *bytebufferpool.ByteBuffer
	buf    []byte // the live window: bb.B[off:off+length], or raw buf for oversized
	off    int
	length int
	rc     *atomic.Int32 // shared with every View of the same underlying buffer
}

// Bytes returns the buffer's current readable/writable window.
func (r *BufferRef) Bytes() []byte { return r.buf }

// Len returns the length of the current window.
func (r *BufferRef) Len() int { return r.length }

// Acquire returns a buffer whose capacity is at least minSize, from the
// smallest tier that satisfies it. Never fails: beyond the largest tier
// it allocates off-pool. A tier's soft cap is not checked here; it is
// applied only on Release, which drops buffers once the tier's free list
// is full, so Acquire always draws from the tier.
func (p *Pool) Acquire(minSize int) *BufferRef {
	t, ok := p.tierFor(minSize)
	if !ok {
		buf := make([]byte, minSize)
		rc := &atomic.Int32{}
		rc.Store(1)
		return &BufferRef{pool: p, buf: buf, length: minSize, rc: rc}
	}

	bb := t.get()
	bb.B = bb.B[:0]
	bb.B = append(bb.B, make([]byte, t.size)...)
	rc := &atomic.Int32{}
	rc.Store(1)
	return &BufferRef{pool: p, tier: t, bb: bb, buf: bb.B, length: t.size, rc: rc}
}

// View increments the refcount and returns a new ref aliasing
// buf[offset:offset+length] without copying. A view never crosses
// tiers: it always shares the same backing tier/allocation as its
// parent.
func (r *BufferRef) View(offset, length int) *BufferRef {
	if offset < 0 || length < 0 || offset+length > len(r.buf) {
		panic("bufferpool: view out of range")
	}
	r.rc.Add(1)
	return &BufferRef{
		pool:   r.pool,
		tier:   r.tier,
		bb:     r.bb,
		buf:    r.buf[offset : offset+length],
		length: length,
		rc:     r.rc,
	}
}

// Release decrements the refcount; at zero it returns the backing buffer
// to its tier (if under the tier's cap) or frees it. Calling Release after
// the refcount has already reached zero returns ErrDoubleRelease rather
// than corrupting the free list.
func (r *BufferRef) Release() error {
	n := r.rc.Add(-1)
	if n > 0 {
		return nil
	}
	if n < 0 {
		return ErrDoubleRelease
	}
	if r.tier != nil && r.bb != nil {
		r.tier.put(r.bb)
	}
	return nil
}

// Metrics reports hit/miss/off-pool counts per tier, for the observability
// layer and for tests asserting pool-hit behavior.
type Metrics struct {
	Size    int
	Gets    uint64
	Hits    uint64
	Misses  uint64
	OffPool uint64
}

// Stats returns a snapshot of every tier's counters.
func (p *Pool) Stats() []Metrics {
	out := make([]Metrics, len(p.tiers))
	for i, t := range p.tiers {
		out[i] = Metrics{
			Size:    t.size,
			Gets:    t.gets.Load(),
			Hits:    t.hits.Load(),
			Misses:  t.misses.Load(),
			OffPool: t.offPool.Load(),
		}
	}
	return out
}

// Default is a lazily-initialized, process-wide pool for convenience
// callers that do not need per-client isolation.
var defaultOnce sync.Once
var defaultPool *Pool

// Default returns the lazily-initialized default pool.
func Default() *Pool {
	defaultOnce.Do(func() { defaultPool = New(nil) })
	return defaultPool
}
