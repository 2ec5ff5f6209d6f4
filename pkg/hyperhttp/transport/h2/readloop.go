package h2

import (
	"encoding/binary"
	"io"
	"strings"
	"time"

	"github.com/lmousom/hyperhttp/internal/headers"
	"github.com/lmousom/hyperhttp/pkg/hyperhttp/pool"
)

// readLoop is the connection's single frame-reading goroutine. All
// stream delivery (deliverHeaders/deliverData/endStream/fail) happens
// here, so streams themselves need no internal locking against
// concurrent readers.
func (c *Connection) readLoop() {
	var pendingStreamID uint32
	var pendingBuf []byte
	var pendingEndStream bool
	var pendingActive bool

	for {
		fr, err := readFrame(c.r, MaxFrameSize)
		if err != nil {
			c.fail(err)
			return
		}

		switch fr.Header.Type {
		case FrameHeaders:
			payload, perr := stripPadding(fr.Payload, fr.Header.Flags.Has(FlagPadded))
			if perr != nil {
				c.fail(perr)
				return
			}
			if fr.Header.Flags.Has(FlagPriority) && len(payload) >= 5 {
				payload = payload[5:] // discard stream-dependency/weight, client never needs it
			}
			pendingStreamID = fr.Header.StreamID
			pendingBuf = append([]byte(nil), payload...)
			pendingEndStream = fr.Header.Flags.Has(FlagEndStream)
			pendingActive = true
			if fr.Header.Flags.Has(FlagEndHeaders) {
				c.finishHeaders(pendingStreamID, pendingBuf, pendingEndStream)
				pendingActive = false
			}

		case FrameContinuation:
			if !pendingActive || fr.Header.StreamID != pendingStreamID {
				c.fail(&ConnError{Code: ErrProtocolError, Msg: "CONTINUATION without matching HEADERS"})
				return
			}
			pendingBuf = append(pendingBuf, fr.Payload...)
			if fr.Header.Flags.Has(FlagEndHeaders) {
				c.finishHeaders(pendingStreamID, pendingBuf, pendingEndStream)
				pendingActive = false
			}

		case FrameData:
			c.handleData(fr)

		case FrameRSTStream:
			c.handleRSTStream(fr)

		case FrameSettings:
			c.handleSettings(fr)

		case FrameWindowUpdate:
			c.handleWindowUpdate(fr)

		case FramePing:
			c.handlePing(fr)

		case FrameGoAway:
			c.handleGoAway(fr)

		case FramePriority, FramePushPromise:
			// Priority hints and server push are both out of scope; the
			// frame's bytes are already fully consumed by readFrame.
		}
	}
}

func (c *Connection) lookupStream(id uint32) *stream {
	c.streamsMu.Lock()
	defer c.streamsMu.Unlock()
	if c.streams == nil {
		return nil
	}
	return c.streams[id]
}

func (c *Connection) finishHeaders(streamID uint32, block []byte, endStream bool) {
	fields, err := c.hp.decode(block)
	if err != nil {
		c.fail(&ConnError{Code: ErrCompressionError, Msg: err.Error()})
		return
	}

	st := c.lookupStream(streamID)
	if st == nil {
		return // stream already gone (e.g. context-cancelled and reset locally)
	}

	resp := &StreamResponse{StatusCode: 0, Header: headers.New()}
	for _, f := range fields {
		if f.Name == ":status" {
			resp.StatusCode = atoiLoose(f.Value)
			continue
		}
		if strings.HasPrefix(f.Name, ":") {
			continue
		}
		resp.Header.Add(f.Name, f.Value)
	}

	st.deliverHeaders(resp)
	if endStream {
		st.endStream()
	}
}

func (c *Connection) handleData(fr Frame) {
	payload, err := stripPadding(fr.Payload, fr.Header.Flags.Has(FlagPadded))
	if err != nil {
		c.fail(err)
		return
	}

	c.connRecvWindow.consume(int32(fr.Header.Length))

	st := c.lookupStream(fr.Header.StreamID)
	if st != nil {
		st.recvWindow.consume(int32(fr.Header.Length))
		if err := st.deliverData(payload); err != nil {
			return
		}
		if fr.Header.Flags.Has(FlagEndStream) {
			st.endStream()
		}
	}

	// Replenish both windows immediately; hyperhttp does not attempt the
	// batched WINDOW_UPDATE coalescing a high-throughput server would
	// bother with, since the client only ever has a handful of concurrent
	// streams per connection.
	if fr.Header.Length > 0 {
		c.sendWindowUpdate(0, fr.Header.Length)
		if st != nil {
			c.sendWindowUpdate(fr.Header.StreamID, fr.Header.Length)
		}
	}
}

func (c *Connection) sendWindowUpdate(streamID uint32, n uint32) {
	var payload [4]byte
	putUint31(payload[:], n)
	c.writeMu.Lock()
	writeFrame(c.w, FrameHeader{Type: FrameWindowUpdate, StreamID: streamID}, payload[:])
	c.w.Flush()
	c.writeMu.Unlock()
}

func (c *Connection) handleRSTStream(fr Frame) {
	if len(fr.Payload) < 4 {
		c.fail(&ConnError{Code: ErrFrameSizeError, Msg: "short RST_STREAM"})
		return
	}
	code := ErrorCode(binary.BigEndian.Uint32(fr.Payload))
	c.streamsMu.Lock()
	st := c.streams[fr.Header.StreamID]
	delete(c.streams, fr.Header.StreamID)
	c.streamsMu.Unlock()
	if st != nil {
		st.fail(&StreamError{StreamID: fr.Header.StreamID, Code: code, Msg: "reset by peer"})
	}
}

func (c *Connection) handleSettings(fr Frame) {
	if fr.Header.Flags.Has(FlagAck) {
		return
	}
	for i := 0; i+6 <= len(fr.Payload); i += 6 {
		id := SettingID(binary.BigEndian.Uint16(fr.Payload[i:]))
		val := binary.BigEndian.Uint32(fr.Payload[i+2:])
		switch id {
		case SettingMaxConcurrentStreams:
			c.peerMaxConcurrentStreams.Store(int32(val))
		case SettingMaxFrameSize:
			c.peerMaxFrameSize.Store(val)
		}
	}
	c.writeMu.Lock()
	writeFrame(c.w, FrameHeader{Type: FrameSettings, Flags: FlagAck}, nil)
	c.w.Flush()
	c.writeMu.Unlock()
}

func (c *Connection) handleWindowUpdate(fr Frame) {
	if len(fr.Payload) < 4 {
		c.fail(&ConnError{Code: ErrFrameSizeError, Msg: "short WINDOW_UPDATE"})
		return
	}
	delta := int32(binary.BigEndian.Uint32(fr.Payload) & 0x7fffffff)
	if fr.Header.StreamID == 0 {
		c.connSendWindow.add(delta)
		return
	}
	if st := c.lookupStream(fr.Header.StreamID); st != nil {
		st.sendWindow.add(delta)
	}
}

func (c *Connection) handlePing(fr Frame) {
	if fr.Header.Flags.Has(FlagAck) {
		if c.pingInFlight.CompareAndSwap(true, false) {
			c.pingMu.Lock()
			close(c.pingAcked)
			c.pingAcked = make(chan struct{})
			c.pingMu.Unlock()
		}
		return
	}
	c.writeMu.Lock()
	writeFrame(c.w, FrameHeader{Type: FramePing, Flags: FlagAck}, fr.Payload)
	c.w.Flush()
	c.writeMu.Unlock()
}

func (c *Connection) handleGoAway(fr Frame) {
	if len(fr.Payload) < 8 {
		c.fail(&ConnError{Code: ErrFrameSizeError, Msg: "short GOAWAY"})
		return
	}
	lastID := binary.BigEndian.Uint32(fr.Payload) & 0x7fffffff
	code := ErrorCode(binary.BigEndian.Uint32(fr.Payload[4:]))
	debug := string(fr.Payload[8:])

	c.goAway.Store(true)
	c.lastStreamID.Store(lastID)
	c.SetState(pool.Closing)

	goAwayErr := &GoAwayError{LastStreamID: lastID, Code: code, Debug: debug}
	c.streamsMu.Lock()
	for id, st := range c.streams {
		if id > lastID {
			st.fail(goAwayErr)
			delete(c.streams, id)
		}
	}
	c.streamsMu.Unlock()
}

// fail tears down the connection after an unrecoverable read error,
// failing every still-open stream.
func (c *Connection) fail(err error) {
	c.readErr.Store(err)
	c.streamsMu.Lock()
	for id, st := range c.streams {
		st.fail(err)
		delete(c.streams, id)
	}
	c.streamsMu.Unlock()
	c.SetState(pool.Broken)
	c.nc.Close()
}

func (c *Connection) keepaliveLoop() {
	ticker := time.NewTicker(PingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-c.closed:
			return
		case <-ticker.C:
		}

		if c.State() == pool.Closed || c.State() == pool.Broken {
			return
		}
		if !c.pingInFlight.CompareAndSwap(false, true) {
			continue // previous ping still outstanding
		}
		c.pingMu.Lock()
		acked := c.pingAcked
		c.pingMu.Unlock()
		c.writeMu.Lock()
		var payload [8]byte
		err := writeFrame(c.w, FrameHeader{Type: FramePing}, payload[:])
		if err == nil {
			err = c.w.Flush()
		}
		c.writeMu.Unlock()
		if err != nil {
			c.fail(err)
			return
		}

		select {
		case <-acked:
		case <-time.After(PingTimeout):
			c.fail(io.ErrUnexpectedEOF)
			return
		case <-c.closed:
			return
		}
	}
}

func atoiLoose(s string) int {
	n := 0
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return n
		}
		n = n*10 + int(s[i]-'0')
	}
	return n
}
