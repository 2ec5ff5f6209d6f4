package hyperhttp

import (
	"fmt"
	"io"
	"sync"

	"github.com/lmousom/hyperhttp/internal/headers"
	"github.com/lmousom/hyperhttp/pkg/hyperhttp/bufferpool"
	"github.com/lmousom/hyperhttp/pkg/hyperhttp/classify"
	"github.com/lmousom/hyperhttp/pkg/hyperhttp/pool"
)

// Response is the convenience-layer response returned to callers.
// Closing it drains and releases the underlying connection back to the
// pool (H1) or tears down the stream (H2).
type Response struct {
	StatusCode int
	Header     *headers.Headers
	Protocol   pool.Protocol

	body   io.ReadCloser
	conn   pool.Conn
	pool   *pool.ConnectionPool
	bufs   *bufferpool.Pool
	req    *Request
	once   sync.Once
	closed bool
}

// ClientError is the HTTPError raised by RaiseForStatus for a 4xx
// response.
type ClientError struct{ *classify.Error }

// ServerError is the HTTPError raised by RaiseForStatus for a 5xx
// response.
type ServerError struct{ *classify.Error }

// RaiseForStatus returns nil for a successful (< 400) status, a
// *ClientError for 4xx, or a *ServerError for 5xx, each wrapping a
// classify.Error carrying the response's status and the originating
// request for diagnostics.
func (r *Response) RaiseForStatus() error {
	if r.StatusCode < 400 {
		return nil
	}
	msg := fmt.Errorf("hyperhttp: %d response", r.StatusCode)
	ce := classify.NewHTTPError(r.StatusCode, msg)
	if r.req != nil {
		ce.Request = &classify.RequestInfo{Method: r.req.Method, URL: r.req.URL.String()}
	}
	if r.StatusCode >= 500 {
		return &ServerError{ce}
	}
	return &ClientError{ce}
}

// Read implements io.Reader, delegating to the transport body.
func (r *Response) Read(p []byte) (int, error) { return r.body.Read(p) }

// Close drains any unread body (using a pooled drain buffer so callers
// who abandon a response mid-read don't force an allocation), closes the
// transport body, and releases the connection to the pool. Safe to call
// more than once.
func (r *Response) Close() error {
	var err error
	r.once.Do(func() {
		ref := r.bufs.Acquire(bufferpool.Size16K)
		_, _ = io.CopyBuffer(io.Discard, r.body, ref.Bytes())
		_ = ref.Release()

		err = r.body.Close()
		r.closed = true

		if r.conn != nil && r.pool != nil {
			if r.conn.State() != pool.Broken {
				r.conn.SetState(pool.Idle)
			}
			r.pool.Release(r.conn)
		}
	})
	return err
}

func wrapResponse(statusCode int, hdr *headers.Headers, body io.ReadCloser, proto pool.Protocol, conn pool.Conn, cp *pool.ConnectionPool, bufs *bufferpool.Pool, req *Request) *Response {
	return &Response{
		StatusCode: statusCode,
		Header:     hdr,
		Protocol:   proto,
		body:       body,
		conn:       conn,
		pool:       cp,
		bufs:       bufs,
		req:        req,
	}
}
