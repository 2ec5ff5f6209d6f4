package h1

import (
	"io"

	"github.com/lmousom/hyperhttp/internal/headers"
)

// Request is the wire-level request this transport writes. The top-level
// Client builds one of these from its own Request type before handing it
// to a Connection.
type Request struct {
	Method        string
	Path          string // path?query, already escaped
	Host          string // Host header value (host[:port])
	Header        *headers.Headers
	Body          io.Reader
	ContentLength int64 // -1 if unknown (forces chunked or close-delimited)
	Expect100     bool
}

// Response is the wire-level response this transport produces.
type Response struct {
	StatusCode    int
	Status        string
	Proto         string
	Header        *headers.Headers
	Body          io.ReadCloser
	ContentLength int64 // -1 if unknown
	Close         bool  // peer requested (or protocol implies) connection close
}
