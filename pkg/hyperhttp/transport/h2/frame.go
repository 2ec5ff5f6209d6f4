// Package h2 implements a client-side HTTP/2 transport: frame I/O, HPACK
// header compression (via golang.org/x/net/http2/hpack), per-stream and
// per-connection flow control, and GOAWAY-aware stream bookkeeping:
// client-initiated odd stream IDs, a client connection preface, and
// retry-eligibility tracking via the peer's last processed stream ID.
package h2

import (
	"encoding/binary"
	"fmt"
	"io"
)

// FrameType identifies an HTTP/2 frame type (RFC 7540 §4.1).
type FrameType uint8

const (
	FrameData         FrameType = 0x0
	FrameHeaders      FrameType = 0x1
	FramePriority     FrameType = 0x2
	FrameRSTStream    FrameType = 0x3
	FrameSettings     FrameType = 0x4
	FramePushPromise  FrameType = 0x5
	FramePing         FrameType = 0x6
	FrameGoAway       FrameType = 0x7
	FrameWindowUpdate FrameType = 0x8
	FrameContinuation FrameType = 0x9
)

func (t FrameType) String() string {
	switch t {
	case FrameData:
		return "DATA"
	case FrameHeaders:
		return "HEADERS"
	case FramePriority:
		return "PRIORITY"
	case FrameRSTStream:
		return "RST_STREAM"
	case FrameSettings:
		return "SETTINGS"
	case FramePushPromise:
		return "PUSH_PROMISE"
	case FramePing:
		return "PING"
	case FrameGoAway:
		return "GOAWAY"
	case FrameWindowUpdate:
		return "WINDOW_UPDATE"
	case FrameContinuation:
		return "CONTINUATION"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", uint8(t))
	}
}

// Flags holds a frame's 8-bit flag field (RFC 7540 §4.1).
type Flags uint8

const (
	FlagEndStream  Flags = 0x1
	FlagAck        Flags = 0x1
	FlagEndHeaders Flags = 0x4
	FlagPadded     Flags = 0x8
	FlagPriority   Flags = 0x20
)

func (f Flags) Has(flag Flags) bool { return f&flag != 0 }

// FrameHeader is the 9-byte header prefixing every frame.
type FrameHeader struct {
	Length   uint32
	Type     FrameType
	Flags    Flags
	StreamID uint32
}

func parseFrameHeader(b [9]byte) FrameHeader {
	return FrameHeader{
		Length:   uint32(b[0])<<16 | uint32(b[1])<<8 | uint32(b[2]),
		Type:     FrameType(b[3]),
		Flags:    Flags(b[4]),
		StreamID: binary.BigEndian.Uint32(b[5:9]) & 0x7fffffff,
	}
}

func writeFrameHeader(b []byte, fh FrameHeader) {
	b[0] = byte(fh.Length >> 16)
	b[1] = byte(fh.Length >> 8)
	b[2] = byte(fh.Length)
	b[3] = byte(fh.Type)
	b[4] = byte(fh.Flags)
	binary.BigEndian.PutUint32(b[5:9], fh.StreamID&0x7fffffff)
}

// Frame is one parsed HTTP/2 frame: header plus raw, unframed payload.
type Frame struct {
	Header  FrameHeader
	Payload []byte
}

// MaxFrameSize is the default SETTINGS_MAX_FRAME_SIZE hyperhttp advertises
// and enforces on frames it reads, per RFC 7540 §6.5.2's floor value.
const MaxFrameSize = 16384

// readFrame reads one frame from r into a freshly allocated payload,
// rejecting frames longer than maxSize.
func readFrame(r io.Reader, maxSize uint32) (Frame, error) {
	var hb [9]byte
	if _, err := io.ReadFull(r, hb[:]); err != nil {
		return Frame{}, err
	}
	fh := parseFrameHeader(hb)
	if fh.Length > maxSize {
		return Frame{}, &ConnError{Code: ErrFrameSizeError, Msg: "frame exceeds SETTINGS_MAX_FRAME_SIZE"}
	}
	payload := make([]byte, fh.Length)
	if fh.Length > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			return Frame{}, err
		}
	}
	return Frame{Header: fh, Payload: payload}, nil
}

func writeFrame(w io.Writer, fh FrameHeader, payload []byte) error {
	fh.Length = uint32(len(payload))
	var hb [9]byte
	writeFrameHeader(hb[:], fh)
	if _, err := w.Write(hb[:]); err != nil {
		return err
	}
	if len(payload) > 0 {
		if _, err := w.Write(payload); err != nil {
			return err
		}
	}
	return nil
}

// stripPadding removes DATA/HEADERS frame padding (RFC 7540 §6.1/§6.2),
// returning the unpadded payload. When padded is set, payload still
// begins with the pad-length byte, which is read and removed here.
func stripPadding(payload []byte, padded bool) ([]byte, error) {
	if !padded {
		return payload, nil
	}
	if len(payload) < 1 {
		return nil, &ConnError{Code: ErrProtocolError, Msg: "padded frame too short"}
	}
	padLen := int(payload[0])
	payload = payload[1:]
	if padLen > len(payload) {
		return nil, &ConnError{Code: ErrProtocolError, Msg: "pad length exceeds frame payload"}
	}
	return payload[:len(payload)-padLen], nil
}
