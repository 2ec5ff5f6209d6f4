package hyperhttp

import (
	"bytes"
	"io"
	"net/url"
	"time"

	"github.com/lmousom/hyperhttp/internal/headers"
)

// BodyReader is the capability a request body must provide. Len reports
// the body's total size, or -1 when it is unknown (forcing chunked
// encoding on H1 or an EOF-terminated DATA sequence on H2). A small
// capability interface, rather than a single concrete io.Reader field,
// lets Client and the retry engine ask "is this safe to resend" without
// type-switching on a concrete body implementation.
type BodyReader interface {
	io.Reader
	Len() int64
}

// RestartableBody is a BodyReader that can be rewound to its start for a
// retried attempt. Only restartable bodies (or empty ones) keep a
// non-idempotent request eligible for retry.
type RestartableBody interface {
	BodyReader
	Rewind() error
}

// FixedBody is an in-memory, restartable body: the common case (JSON
// payloads, form bodies, anything already fully materialized).
type FixedBody struct {
	data []byte
	r    *bytes.Reader
}

// NewFixedBody wraps b as a restartable, known-length request body.
func NewFixedBody(b []byte) *FixedBody {
	return &FixedBody{data: b, r: bytes.NewReader(b)}
}

func (f *FixedBody) Read(p []byte) (int, error) { return f.r.Read(p) }
func (f *FixedBody) Len() int64                 { return int64(len(f.data)) }

// Rewind implements RestartableBody.
func (f *FixedBody) Rewind() error {
	_, err := f.r.Seek(0, io.SeekStart)
	return err
}

var (
	_ RestartableBody = (*FixedBody)(nil)
)

// StreamBody wraps an arbitrary, non-seekable io.Reader as a request
// body of unknown length. It does not implement RestartableBody: a
// request carrying one is only retried when the failure is provably
// pre-processing (per retry.Engine's eligibility rules).
type StreamBody struct {
	r io.Reader
}

// NewStreamBody wraps r as a non-restartable, length-unknown body.
func NewStreamBody(r io.Reader) *StreamBody {
	return &StreamBody{r: r}
}

func (s *StreamBody) Read(p []byte) (int, error) { return s.r.Read(p) }
func (s *StreamBody) Len() int64                 { return -1 }

var _ BodyReader = (*StreamBody)(nil)

// idempotentMethods per RFC 7231 §4.2.2; used to default Request.Idempotent
// when the caller doesn't set it explicitly.
var idempotentMethods = map[string]bool{
	"GET": true, "HEAD": true, "PUT": true, "DELETE": true,
	"OPTIONS": true, "TRACE": true,
}

// Request is the convenience-layer request Client consumes. Unlike
// transport/h1.Request and transport/h2.Request, it carries a parsed
// URL rather than pre-split host/path/scheme fields; Client does that
// split once per attempt.
type Request struct {
	Method string
	URL    *url.URL
	Header *headers.Headers
	Body   BodyReader

	// Idempotent overrides the RFC 7231 §4.2.2 default derived from
	// Method. Set explicitly when a POST is known-safe to retry (e.g.
	// it carries an idempotency key the server de-duplicates on).
	Idempotent *bool

	// PreferH2 requests Client prefer an H2 connection with available
	// stream capacity over reusing an idle H1 connection. Defaults to
	// the Client's EnableHTTP2 config when nil.
	PreferH2 *bool

	Timeout time.Duration // overrides Config.RequestTimeout for this call
}

// NewRequest builds a Request from a raw URL string and an optional body.
func NewRequest(method, rawURL string, body BodyReader) (*Request, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, err
	}
	return &Request{Method: method, URL: u, Header: headers.New(), Body: body}, nil
}

func (r *Request) isIdempotent() bool {
	if r.Idempotent != nil {
		return *r.Idempotent
	}
	return idempotentMethods[r.Method]
}

func (r *Request) hasBody() bool {
	return r.Body != nil
}

func (r *Request) rewind() func() error {
	rb, ok := r.Body.(RestartableBody)
	if !ok {
		return nil
	}
	return rb.Rewind
}

func (r *Request) bodyLen() int64 {
	if r.Body == nil {
		return 0
	}
	return r.Body.Len()
}
