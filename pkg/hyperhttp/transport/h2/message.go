package h2

import (
	"io"

	"github.com/lmousom/hyperhttp/internal/headers"
)

// Request is the wire-level request this transport sends as a HEADERS
// (+ optional CONTINUATION) frame followed by zero or more DATA frames.
type Request struct {
	Method        string
	Scheme        string
	Authority     string // ":authority" pseudo-header (host[:port])
	Path          string
	Header        *headers.Headers
	Body          io.Reader
	ContentLength int64 // -1 if unknown; DATA frames are simply sent until EOF
}

// Response is the wire-level response assembled from a stream's HEADERS
// frame(s) plus its DATA frames.
type Response struct {
	StatusCode int
	Header     *headers.Headers
	Body       io.ReadCloser
}
