package h1

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/lmousom/hyperhttp/internal/headers"
	"github.com/lmousom/hyperhttp/pkg/hyperhttp/pool"
)

// Phase is the fine-grained protocol state within one request/response
// cycle, distinct from pool.State (which only tracks pool membership):
// it also tracks the client-side write phases that precede the server's
// response.
type Phase int32

const (
	PhaseIdle Phase = iota
	PhaseSendingHeaders
	PhaseSendingBody
	PhaseAwaitingResponse
	PhaseReadingHeaders
	PhaseReadingBody
	PhaseClosing
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseSendingHeaders:
		return "sending-headers"
	case PhaseSendingBody:
		return "sending-body"
	case PhaseAwaitingResponse:
		return "awaiting-response"
	case PhaseReadingHeaders:
		return "reading-headers"
	case PhaseReadingBody:
		return "reading-body"
	case PhaseClosing:
		return "closing"
	default:
		return "unknown"
	}
}

// ErrMalformedResponse is returned for a response that cannot be parsed.
var ErrMalformedResponse = errors.New("h1: malformed response")

// continueTimeout bounds how long Do waits for a "100 Continue" interim
// response before sending the request body regardless (RFC 7231 §5.1.1
// permits proceeding after a reasonable delay).
const continueTimeout = 1 * time.Second

// Connection is a client-side HTTP/1.1 connection. It implements
// pool.Conn so it can be pooled by pool.HostPool/ConnectionPool, driving
// a write-then-parse request flow over hyperhttp's Headers type.
// Responses are parsed from a bufio.Reader; no bufferpool buffers are
// used.
type Connection struct {
	key   pool.HostKey
	nc    net.Conn
	r     *bufio.Reader
	w     *bufio.Writer

	state   atomic.Int32 // pool.State
	phase   atomic.Int32 // Phase
	created time.Time

	lastUsed atomicTime
	requests atomic.Uint64
}

// atomicTime is a tiny helper wrapping a time.Time behind an atomic
// pointer so LastUsed/Touch never race with concurrent reads.
type atomicTime struct {
	v atomic.Value // time.Time
}

func (a *atomicTime) Store(t time.Time) { a.v.Store(t) }
func (a *atomicTime) Load() time.Time {
	t, _ := a.v.Load().(time.Time)
	return t
}

// Dial opens a new client connection to key's address through dialFn,
// which is always called and performs any TLS handshake itself
// (NewDialer's dialFn does so for SchemeHTTPS keys).
func Dial(ctx context.Context, key pool.HostKey, dialFn func(ctx context.Context, network, addr string) (net.Conn, error)) (*Connection, error) {
	nc, err := dialFn(ctx, "tcp", key.Address())
	if err != nil {
		return nil, fmt.Errorf("h1: dial %s: %w", key.Address(), err)
	}
	c := &Connection{
		key:     key,
		nc:      nc,
		r:       bufio.NewReaderSize(nc, 4096),
		w:       bufio.NewWriterSize(nc, 4096),
		created: time.Now(),
	}
	c.state.Store(int32(pool.Idle))
	c.phase.Store(int32(PhaseIdle))
	c.lastUsed.Store(time.Now())
	return c, nil
}

func (c *Connection) HostKey() pool.HostKey  { return c.key }
func (c *Connection) Protocol() pool.Protocol { return pool.H1 }
func (c *Connection) State() pool.State       { return pool.State(c.state.Load()) }
func (c *Connection) SetState(s pool.State)   { c.state.Store(int32(s)) }
func (c *Connection) CreatedAt() time.Time    { return c.created }
func (c *Connection) LastUsed() time.Time     { return c.lastUsed.Load() }
func (c *Connection) Touch()                  { c.lastUsed.Store(time.Now()) }
func (c *Connection) RequestCount() uint64    { return c.requests.Load() }
func (c *Connection) IncrementRequests()      { c.requests.Add(1) }

// StreamCapacity is 1 when Idle (a fresh request may claim this
// connection) and 0 once InUse — H1 connections never multiplex.
func (c *Connection) StreamCapacity() int {
	if c.State() == pool.Idle {
		return 1
	}
	return 0
}

func (c *Connection) Close() error {
	c.phase.Store(int32(PhaseClosing))
	c.SetState(pool.Closed)
	return c.nc.Close()
}

// Phase reports the current fine-grained protocol phase.
func (c *Connection) Phase() Phase { return Phase(c.phase.Load()) }

// Do writes req and reads back its response, driving the connection
// through Idle -> SendingHeaders -> SendingBody -> AwaitingResponse ->
// ReadingHeaders -> ReadingBody -> Idle|Closing (spec's H1 state
// machine). The returned Response's Body must be closed by the caller to
// release the connection back to the pool.
func (c *Connection) Do(ctx context.Context, req *Request) (*Response, error) {
	if deadline, ok := ctx.Deadline(); ok {
		c.nc.SetDeadline(deadline)
	} else {
		c.nc.SetDeadline(time.Time{})
	}

	c.phase.Store(int32(PhaseSendingHeaders))
	if err := c.writeHeaders(req); err != nil {
		c.SetState(pool.Broken)
		return nil, err
	}

	if req.Expect100 {
		if err := c.w.Flush(); err != nil {
			c.SetState(pool.Broken)
			return nil, err
		}
		cont, err := c.awaitContinueOrProceed()
		if err != nil {
			c.SetState(pool.Broken)
			return nil, err
		}
		if !cont {
			// Peer rejected the request outright (e.g. 417); still read
			// whatever status/headers it already sent.
			return c.readResponse(req)
		}
	}

	c.phase.Store(int32(PhaseSendingBody))
	if err := c.writeBody(req); err != nil {
		c.SetState(pool.Broken)
		return nil, err
	}
	if err := c.w.Flush(); err != nil {
		c.SetState(pool.Broken)
		return nil, err
	}

	c.phase.Store(int32(PhaseAwaitingResponse))
	return c.readResponse(req)
}

func (c *Connection) writeHeaders(req *Request) error {
	if _, err := fmt.Fprintf(c.w, "%s %s HTTP/1.1\r\n", req.Method, req.Path); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(c.w, "Host: %s\r\n", req.Host); err != nil {
		return err
	}

	chunked := req.ContentLength < 0 && req.Body != nil
	wroteContentLength := false
	wroteTransferEncoding := false

	if req.Header != nil {
		req.Header.Each(func(name, value string) {
			if strings.EqualFold(name, "content-length") {
				wroteContentLength = true
			}
			if strings.EqualFold(name, "transfer-encoding") {
				wroteTransferEncoding = true
			}
			fmt.Fprintf(c.w, "%s: %s\r\n", name, value)
		})
	}

	if req.Body != nil {
		if !wroteContentLength && !chunked {
			fmt.Fprintf(c.w, "Content-Length: %d\r\n", req.ContentLength)
		}
		if chunked && !wroteTransferEncoding {
			c.w.WriteString("Transfer-Encoding: chunked\r\n")
		}
	}
	if req.Expect100 {
		c.w.WriteString("Expect: 100-continue\r\n")
	}

	_, err := c.w.WriteString("\r\n")
	return err
}

func (c *Connection) writeBody(req *Request) error {
	if req.Body == nil {
		return nil
	}
	if req.ContentLength >= 0 {
		_, err := io.CopyN(c.w, req.Body, req.ContentLength)
		if err == io.EOF {
			return nil
		}
		return err
	}
	return writeChunked(c.w, req.Body)
}

// awaitContinueOrProceed waits briefly for a "100 Continue" interim
// response. Returns true if the body should be sent (either 100 was seen,
// or the wait timed out and the client proceeds optimistically).
func (c *Connection) awaitContinueOrProceed() (bool, error) {
	c.nc.SetReadDeadline(time.Now().Add(continueTimeout))
	defer c.nc.SetReadDeadline(time.Time{})

	line, err := c.r.ReadSlice('\n')
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return true, nil
		}
		return false, err
	}
	status, _, _, err := parseStatusLine(line)
	if err != nil {
		return false, err
	}
	if status == 100 {
		// Consume the (typically empty) header block following 100 Continue.
		if err := skipHeaderBlock(c.r); err != nil {
			return false, err
		}
		return true, nil
	}
	// Peer responded early (e.g. 417 Expectation Failed); push the status
	// line back so readResponse can parse it as the real response.
	c.r = prependLine(c.r, line)
	return false, nil
}

func (c *Connection) readResponse(req *Request) (*Response, error) {
	c.phase.Store(int32(PhaseReadingHeaders))
	var status int
	var proto, reason string
	for {
		line, err := c.r.ReadSlice('\n')
		if err != nil {
			return nil, fmt.Errorf("h1: read status line: %w", err)
		}
		status, proto, reason, err = parseStatusLine(line)
		if err != nil {
			return nil, err
		}
		if status < 100 || status >= 200 || status == 101 {
			break
		}
		// Interim 1xx response: discard it and read the final one.
		if err := skipHeaderBlock(c.r); err != nil {
			return nil, fmt.Errorf("h1: read header: %w", err)
		}
	}

	hdrs := headers.New()
	for {
		hl, err := c.r.ReadSlice('\n')
		if err != nil {
			return nil, fmt.Errorf("h1: read header: %w", err)
		}
		if len(hl) <= 2 {
			break
		}
		name, value, ok := parseHeaderLine(hl)
		if !ok {
			continue
		}
		hdrs.Add(name, value)
	}

	resp := &Response{StatusCode: status, Status: reason, Proto: proto, Header: hdrs, ContentLength: -1}

	closeConn := strings.EqualFold(hdrs.Get("Connection"), "close") || proto == "HTTP/1.0" && !strings.EqualFold(hdrs.Get("Connection"), "keep-alive")
	resp.Close = closeConn

	c.phase.Store(int32(PhaseReadingBody))

	noBody := req.Method == "HEAD" || status == 204 || status == 304 || (status >= 100 && status < 200)
	switch {
	case noBody:
		resp.Body = io.NopCloser(bytes.NewReader(nil))
	case strings.EqualFold(hdrs.Get("Transfer-Encoding"), "chunked"):
		resp.Body = &bodyReader{inner: newChunkedReader(c.r), conn: c, closeAfter: closeConn}
	case hdrs.Has("Content-Length"):
		n, perr := strconv.ParseInt(hdrs.Get("Content-Length"), 10, 64)
		if perr != nil || n < 0 {
			return nil, fmt.Errorf("%w: bad content-length", ErrMalformedResponse)
		}
		resp.ContentLength = n
		resp.Body = &bodyReader{inner: io.LimitReader(c.r, n), conn: c, closeAfter: closeConn}
	default:
		resp.Body = &bodyReader{inner: c.r, conn: c, closeAfter: true}
		resp.Close = true
	}

	return resp, nil
}

func parseStatusLine(line []byte) (status int, proto, reason string, err error) {
	line = trimCRLF(line)
	sp1 := bytes.IndexByte(line, ' ')
	if sp1 < 0 {
		return 0, "", "", fmt.Errorf("%w: status line", ErrMalformedResponse)
	}
	proto = string(line[:sp1])
	rest := line[sp1+1:]
	sp2 := bytes.IndexByte(rest, ' ')
	var codeBytes []byte
	if sp2 < 0 {
		codeBytes = rest
	} else {
		codeBytes = rest[:sp2]
		reason = string(rest[sp2+1:])
	}
	status, err = strconv.Atoi(string(codeBytes))
	if err != nil {
		return 0, "", "", fmt.Errorf("%w: status code", ErrMalformedResponse)
	}
	return status, proto, reason, nil
}

func parseHeaderLine(line []byte) (name, value string, ok bool) {
	line = trimCRLF(line)
	colon := bytes.IndexByte(line, ':')
	if colon < 0 {
		return "", "", false
	}
	name = string(bytes.TrimSpace(line[:colon]))
	value = string(bytes.TrimSpace(line[colon+1:]))
	return name, value, true
}

func trimCRLF(line []byte) []byte {
	if n := len(line); n >= 2 && line[n-2] == '\r' && line[n-1] == '\n' {
		return line[:n-2]
	}
	if n := len(line); n >= 1 && line[n-1] == '\n' {
		return line[:n-1]
	}
	return line
}

func skipHeaderBlock(r *bufio.Reader) error {
	for {
		line, err := r.ReadSlice('\n')
		if err != nil {
			return err
		}
		if len(line) <= 2 {
			return nil
		}
	}
}

// prependLine is used only when a peer sends an early non-100 status in
// response to Expect: 100-continue; it hands the already-read bytes back
// to a fresh reader chained in front of the connection's buffer.
func prependLine(r *bufio.Reader, line []byte) *bufio.Reader {
	return bufio.NewReader(io.MultiReader(bytes.NewReader(line), r))
}

// bodyReader drains any unread body bytes on Close so the connection is
// safe to return to the pool, and marks the connection for eviction when
// the response said Connection: close (or framing required it).
type bodyReader struct {
	inner      io.Reader
	conn       *Connection
	closeAfter bool
	closed     bool
}

func (b *bodyReader) Read(p []byte) (int, error) { return b.inner.Read(p) }

func (b *bodyReader) Close() error {
	if b.closed {
		return nil
	}
	b.closed = true
	io.Copy(io.Discard, b.inner)

	b.conn.phase.Store(int32(PhaseIdle))
	if b.closeAfter {
		b.conn.SetState(pool.Closing)
	}
	return nil
}
