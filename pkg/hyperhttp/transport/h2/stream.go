package h2

import (
	"io"
	"sync"

	"github.com/lmousom/hyperhttp/internal/headers"
)

// StreamResponse carries a stream's HEADERS-derived response metadata;
// the body streams separately through the io.Pipe installed on the
// stream, returned to the caller as Response.Body.
type StreamResponse struct {
	StatusCode int
	Header     *headers.Headers
}

// stream is one client-initiated HTTP/2 stream: no server push state, no
// request-side header parsing (the client only ever decodes responses).
type stream struct {
	id uint32

	sendWindow *flowWindow
	recvWindow *flowWindow

	respCh chan *StreamResponse
	errCh  chan error

	bodyW *io.PipeWriter
	bodyR *io.PipeReader

	mu            sync.Mutex
	headerBlock   []byte // unused: readLoop accumulates HEADERS + CONTINUATION fragments itself
	gotHeaders    bool
	endStreamSeen bool
	closed        bool
}

func newStream(id uint32, initialSendWindow, initialRecvWindow int32) *stream {
	pr, pw := io.Pipe()
	return &stream{
		id:         id,
		sendWindow: newFlowWindow(initialSendWindow),
		recvWindow: newFlowWindow(initialRecvWindow),
		respCh:     make(chan *StreamResponse, 1),
		errCh:      make(chan error, 1),
		bodyW:      pw,
		bodyR:      pr,
	}
}

// deliverHeaders publishes a StreamResponse that finishHeaders has
// already decoded; called by the connection's read loop once END_HEADERS
// is seen, holding no lock on the stream itself (each stream is only
// ever touched by one read-loop goroutine at a time).
func (s *stream) deliverHeaders(resp *StreamResponse) {
	select {
	case s.respCh <- resp:
	default:
	}
}

func (s *stream) deliverData(p []byte) error {
	if len(p) == 0 {
		return nil
	}
	_, err := s.bodyW.Write(p)
	return err
}

func (s *stream) endStream() {
	s.bodyW.Close()
}

func (s *stream) fail(err error) {
	select {
	case s.errCh <- err:
	default:
	}
	s.bodyW.CloseWithError(err)
}
