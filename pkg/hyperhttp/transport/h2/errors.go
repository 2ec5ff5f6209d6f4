package h2

import "fmt"

// ErrorCode is an HTTP/2 error code (RFC 7540 §7).
type ErrorCode uint32

const (
	ErrNoError            ErrorCode = 0x0
	ErrProtocolError      ErrorCode = 0x1
	ErrInternalError      ErrorCode = 0x2
	ErrFlowControlError   ErrorCode = 0x3
	ErrSettingsTimeout    ErrorCode = 0x4
	ErrStreamClosed       ErrorCode = 0x5
	ErrFrameSizeError     ErrorCode = 0x6
	ErrRefusedStream      ErrorCode = 0x7
	ErrCancel             ErrorCode = 0x8
	ErrCompressionError   ErrorCode = 0x9
	ErrConnectError       ErrorCode = 0xa
	ErrEnhanceYourCalm    ErrorCode = 0xb
	ErrInadequateSecurity ErrorCode = 0xc
	ErrHTTP11Required     ErrorCode = 0xd
)

// ConnError is a connection-level HTTP/2 error: the whole connection must
// be torn down (a GOAWAY sent, if not already received).
type ConnError struct {
	Code ErrorCode
	Msg  string
}

func (e *ConnError) Error() string {
	return fmt.Sprintf("h2: connection error %d: %s", e.Code, e.Msg)
}

// StreamError is a stream-level HTTP/2 error: only StreamID is reset, the
// connection otherwise continues.
type StreamError struct {
	StreamID uint32
	Code     ErrorCode
	Msg      string
}

func (e *StreamError) Error() string {
	return fmt.Sprintf("h2: stream %d error %d: %s", e.StreamID, e.Code, e.Msg)
}

// GoAwayError reports that the peer sent GOAWAY. Requests on streams above
// LastStreamID were never processed and are safe to retry on a new
// connection.
type GoAwayError struct {
	LastStreamID uint32
	Code         ErrorCode
	Debug        string
}

func (e *GoAwayError) Error() string {
	return fmt.Sprintf("h2: GOAWAY received, last processed stream %d, code %d: %s", e.LastStreamID, e.Code, e.Debug)
}
