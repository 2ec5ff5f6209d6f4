package h2

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/net/http2/hpack"

	"github.com/lmousom/hyperhttp/pkg/hyperhttp/pool"
)

// ErrGoAway is returned by RoundTrip for a stream that was never admitted
// because the connection already received (or is sending) GOAWAY.
var ErrGoAway = errors.New("h2: connection is going away")

// Connection is a client-side HTTP/2 connection over one TCP/TLS socket,
// multiplexing many concurrent streams. It implements pool.Conn: it
// sends the client preface, allocates odd stream IDs, and tracks the
// peer's GOAWAY last-processed-stream-id for retry eligibility.
type Connection struct {
	key pool.HostKey
	nc  net.Conn
	r   *bufio.Reader

	writeMu sync.Mutex // serializes frame writes (HPACK state demands in-order header blocks)
	w       *bufio.Writer
	hp      *hpackCodec

	nextStreamID atomic.Uint32

	streamsMu sync.Mutex
	streams   map[uint32]*stream

	connSendWindow *flowWindow
	connRecvWindow *flowWindow

	peerMaxConcurrentStreams atomic.Int32
	peerMaxFrameSize         atomic.Uint32

	state   atomic.Int32
	created time.Time
	lastUsed atomicTime
	requests atomic.Uint64

	goAway       atomic.Bool
	lastStreamID atomic.Uint32

	pingInFlight atomic.Bool
	pingMu       sync.Mutex
	pingAcked    chan struct{}

	readErr   atomic.Value // error
	closeOnce sync.Once
	closed    chan struct{}
}

type atomicTime struct{ v atomic.Value }

func (a *atomicTime) Store(t time.Time) { a.v.Store(t) }
func (a *atomicTime) Load() time.Time {
	t, _ := a.v.Load().(time.Time)
	return t
}

// Dial opens a new HTTP/2 connection: TCP/TLS connect (via dialFn),
// client preface, initial SETTINGS, then starts the background frame
// reader.
func Dial(ctx context.Context, key pool.HostKey, dialFn func(ctx context.Context, network, addr string) (net.Conn, error)) (*Connection, error) {
	nc, err := dialFn(ctx, "tcp", key.Address())
	if err != nil {
		return nil, fmt.Errorf("h2: dial %s: %w", key.Address(), err)
	}

	c := &Connection{
		key:            key,
		nc:             nc,
		r:              bufio.NewReaderSize(nc, 16*1024),
		w:              bufio.NewWriterSize(nc, 16*1024),
		hp:             newHpackCodec(DefaultHeaderTableSize),
		streams:        make(map[uint32]*stream),
		connSendWindow: newFlowWindow(DefaultInitialWindowSize),
		connRecvWindow: newFlowWindow(InitialConnWindowSize),
		created:        time.Now(),
		pingAcked:      make(chan struct{}),
		closed:         make(chan struct{}),
	}
	c.nextStreamID.Store(1)
	c.peerMaxConcurrentStreams.Store(100) // conservative default until SETTINGS arrives
	c.peerMaxFrameSize.Store(DefaultMaxFrameSize)
	c.state.Store(int32(pool.Idle))
	c.lastUsed.Store(time.Now())

	if err := c.handshake(); err != nil {
		nc.Close()
		return nil, err
	}

	go c.readLoop()
	go c.keepaliveLoop()

	return c, nil
}

func (c *Connection) handshake() error {
	if _, err := c.w.WriteString(ClientPreface); err != nil {
		return err
	}
	// Initial SETTINGS: advertise defaults explicitly so the peer need not
	// guess; ENABLE_PUSH=0 since server push is out of scope.
	settings := encodeSettings([]settingPair{
		{SettingEnablePush, 0},
		{SettingInitialWindowSize, InitialConnWindowSize},
		{SettingMaxFrameSize, DefaultMaxFrameSize},
	})
	if err := writeFrame(c.w, FrameHeader{Type: FrameSettings}, settings); err != nil {
		return err
	}
	// Grant the connection-level receive window headroom beyond the
	// default 64KiB up to InitialConnWindowSize.
	if delta := InitialConnWindowSize - DefaultInitialWindowSize; delta > 0 {
		var payload [4]byte
		putUint31(payload[:], uint32(delta))
		if err := writeFrame(c.w, FrameHeader{Type: FrameWindowUpdate}, payload[:]); err != nil {
			return err
		}
	}
	return c.w.Flush()
}

func (c *Connection) HostKey() pool.HostKey   { return c.key }
func (c *Connection) Protocol() pool.Protocol { return pool.H2 }
func (c *Connection) State() pool.State       { return pool.State(c.state.Load()) }
func (c *Connection) SetState(s pool.State)   { c.state.Store(int32(s)) }
func (c *Connection) CreatedAt() time.Time    { return c.created }
func (c *Connection) LastUsed() time.Time     { return c.lastUsed.Load() }
func (c *Connection) Touch()                  { c.lastUsed.Store(time.Now()) }
func (c *Connection) RequestCount() uint64    { return c.requests.Load() }
func (c *Connection) IncrementRequests()      { c.requests.Add(1) }

// StreamCapacity reports how many more streams the peer will currently
// admit, per SETTINGS_MAX_CONCURRENT_STREAMS.
func (c *Connection) StreamCapacity() int {
	if c.goAway.Load() {
		return 0
	}
	c.streamsMu.Lock()
	active := len(c.streams)
	c.streamsMu.Unlock()
	cap := int(c.peerMaxConcurrentStreams.Load()) - active
	if cap < 0 {
		return 0
	}
	return cap
}

func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.SetState(pool.Closed)
		close(c.closed)
		err = c.nc.Close()
		c.streamsMu.Lock()
		for _, s := range c.streams {
			s.fail(net.ErrClosed)
		}
		c.streams = nil
		c.streamsMu.Unlock()
	})
	return err
}

// LastProcessedStreamID reports the peer's GOAWAY last-stream-id, or
// (0, false) if no GOAWAY has been received. A stream ID greater than
// this value was never processed by the peer and is safe to retry on a
// fresh connection; readLoop fails such streams with a *GoAwayError.
func (c *Connection) LastProcessedStreamID() (uint32, bool) {
	if !c.goAway.Load() {
		return 0, false
	}
	return c.lastStreamID.Load(), true
}

// RoundTrip opens a new stream, sends req, and waits for the response
// headers (the body streams lazily through Response.Body).
func (c *Connection) RoundTrip(ctx context.Context, req *Request) (*Response, error) {
	if c.goAway.Load() {
		return nil, ErrGoAway
	}

	id := c.nextStreamID.Add(2) - 2

	st := newStream(id, DefaultInitialWindowSize, InitialConnWindowSize)
	c.streamsMu.Lock()
	c.streams[id] = st
	c.streamsMu.Unlock()

	if err := c.sendRequest(id, req); err != nil {
		c.streamsMu.Lock()
		delete(c.streams, id)
		c.streamsMu.Unlock()
		return nil, err
	}

	select {
	case resp := <-st.respCh:
		return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: st.bodyR}, nil
	case err := <-st.errCh:
		return nil, err
	case <-ctx.Done():
		c.resetStream(id, ErrCancel)
		return nil, ctx.Err()
	}
}

func (c *Connection) sendRequest(id uint32, req *Request) error {
	fields := []hpack.HeaderField{
		{Name: ":method", Value: req.Method},
		{Name: ":scheme", Value: req.Scheme},
		{Name: ":authority", Value: req.Authority},
		{Name: ":path", Value: req.Path},
	}
	if req.Header != nil {
		req.Header.Each(func(name, value string) {
			fields = append(fields, hpack.HeaderField{Name: lowerASCII(name), Value: value})
		})
	}

	c.writeMu.Lock()
	block, err := c.hp.encode(fields)
	if err != nil {
		c.writeMu.Unlock()
		return err
	}
	endStream := req.Body == nil
	if err := c.writeHeaderBlock(id, block, endStream); err != nil {
		c.writeMu.Unlock()
		return err
	}
	c.writeMu.Unlock()

	if req.Body != nil {
		return c.sendBody(id, req.Body)
	}
	return nil
}

func (c *Connection) writeHeaderBlock(id uint32, block []byte, endStream bool) error {
	maxFrame := int(c.peerMaxFrameSize.Load())
	first := true
	for len(block) > 0 || first {
		n := len(block)
		if n > maxFrame {
			n = maxFrame
		}
		chunk := block[:n]
		block = block[n:]

		var flags Flags
		var typ FrameType
		if first {
			typ = FrameHeaders
			if endStream {
				flags |= FlagEndStream
			}
		} else {
			typ = FrameContinuation
		}
		if len(block) == 0 {
			flags |= FlagEndHeaders
		}
		if err := writeFrame(c.w, FrameHeader{Type: typ, Flags: flags, StreamID: id}, chunk); err != nil {
			return err
		}
		first = false
	}
	return c.w.Flush()
}

func (c *Connection) sendBody(id uint32, body io.Reader) error {
	buf := make([]byte, 16*1024)
	for {
		n, rerr := body.Read(buf)
		if n > 0 {
			if err := c.sendData(id, buf[:n], false); err != nil {
				return err
			}
		}
		if rerr == io.EOF {
			return c.sendData(id, nil, true)
		}
		if rerr != nil {
			return rerr
		}
	}
}

func (c *Connection) sendData(id uint32, p []byte, endStream bool) error {
	c.streamsMu.Lock()
	st := c.streams[id]
	c.streamsMu.Unlock()
	if st == nil {
		return &StreamError{StreamID: id, Code: ErrStreamClosed, Msg: "stream closed"}
	}

	remaining := p
	for len(remaining) > 0 {
		n := st.sendWindow.take(int32(len(remaining)))
		n = minInt32(n, int32(c.connSendWindow.take(n)))
		chunk := remaining[:n]
		remaining = remaining[n:]

		c.writeMu.Lock()
		var flags Flags
		if endStream && len(remaining) == 0 {
			flags |= FlagEndStream
		}
		err := writeFrame(c.w, FrameHeader{Type: FrameData, Flags: flags, StreamID: id}, chunk)
		if err == nil {
			err = c.w.Flush()
		}
		c.writeMu.Unlock()
		if err != nil {
			return err
		}
	}
	if len(p) == 0 && endStream {
		c.writeMu.Lock()
		err := writeFrame(c.w, FrameHeader{Type: FrameData, Flags: FlagEndStream, StreamID: id}, nil)
		if err == nil {
			err = c.w.Flush()
		}
		c.writeMu.Unlock()
		return err
	}
	return nil
}

func (c *Connection) resetStream(id uint32, code ErrorCode) {
	c.streamsMu.Lock()
	delete(c.streams, id)
	c.streamsMu.Unlock()

	c.writeMu.Lock()
	var payload [4]byte
	putUint31(payload[:], uint32(code))
	writeFrame(c.w, FrameHeader{Type: FrameRSTStream, StreamID: id}, payload[:])
	c.w.Flush()
	c.writeMu.Unlock()
}

type settingPair struct {
	ID    SettingID
	Value uint32
}

func encodeSettings(pairs []settingPair) []byte {
	out := make([]byte, 0, len(pairs)*6)
	for _, p := range pairs {
		var b [6]byte
		b[0] = byte(p.ID >> 8)
		b[1] = byte(p.ID)
		b[2] = byte(p.Value >> 24)
		b[3] = byte(p.Value >> 16)
		b[4] = byte(p.Value >> 8)
		b[5] = byte(p.Value)
		out = append(out, b[:]...)
	}
	return out
}

func putUint31(b []byte, v uint32) {
	b[0] = byte(v >> 24)
	b[1] = byte(v >> 16)
	b[2] = byte(v >> 8)
	b[3] = byte(v)
}

func minInt32(a, b int32) int32 {
	if a < b {
		return a
	}
	return b
}

func lowerASCII(s string) string {
	needsLower := false
	for i := 0; i < len(s); i++ {
		if s[i] >= 'A' && s[i] <= 'Z' {
			needsLower = true
			break
		}
	}
	if !needsLower {
		return s
	}
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + 32
		}
	}
	return string(b)
}
