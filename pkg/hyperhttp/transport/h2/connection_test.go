package h2

import (
	"bufio"
	"context"
	"io"
	"net"
	"testing"
	"time"

	"golang.org/x/net/http2/hpack"

	"github.com/lmousom/hyperhttp/internal/headers"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

// TestMain verifies every Connection's readLoop goroutine, spawned in
// newTestConnection, is actually stopped by Close.
func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// newTestConnection wires a Connection directly to one end of a net.Pipe,
// bypassing Dial/handshake so tests can drive the wire protocol by hand
// from the "server" end.
func newTestConnection(t *testing.T) (*Connection, net.Conn) {
	t.Helper()
	client, server := net.Pipe()
	c := &Connection{
		nc:             client,
		r:              bufio.NewReaderSize(client, 16*1024),
		w:              bufio.NewWriterSize(client, 16*1024),
		hp:             newHpackCodec(DefaultHeaderTableSize),
		streams:        make(map[uint32]*stream),
		connSendWindow: newFlowWindow(DefaultInitialWindowSize),
		connRecvWindow: newFlowWindow(InitialConnWindowSize),
		created:        time.Now(),
		pingAcked:      make(chan struct{}),
		closed:         make(chan struct{}),
	}
	c.nextStreamID.Store(1)
	c.peerMaxConcurrentStreams.Store(100)
	c.peerMaxFrameSize.Store(DefaultMaxFrameSize)
	go c.readLoop()
	t.Cleanup(func() { c.Close() })
	return c, server
}

func readPreface(t *testing.T, br *bufio.Reader) {
	t.Helper()
	buf := make([]byte, len(ClientPreface))
	_, err := io.ReadFull(br, buf)
	require.NoError(t, err)
	require.Equal(t, ClientPreface, string(buf))
}

func serverEncodeHeaders(t *testing.T, status string, extra ...hpack.HeaderField) []byte {
	t.Helper()
	var buf []byte
	enc := hpack.NewEncoder(writerFunc(func(p []byte) (int, error) {
		buf = append(buf, p...)
		return len(p), nil
	}))
	require.NoError(t, enc.WriteField(hpack.HeaderField{Name: ":status", Value: status}))
	for _, f := range extra {
		require.NoError(t, enc.WriteField(f))
	}
	return buf
}

type writerFunc func(p []byte) (int, error)

func (f writerFunc) Write(p []byte) (int, error) { return f(p) }

func TestRoundTripDeliversHeadersAndBody(t *testing.T) {
	c, server := newTestConnection(t)

	go func() {
		br := bufio.NewReader(server)
		// newTestConnection bypasses Dial/handshake, so the first (and
		// only) frame on the wire is the request's own HEADERS frame.
		var hb [9]byte
		io.ReadFull(br, hb[:])
		fh := parseFrameHeader(hb)
		reqBlock := make([]byte, fh.Length)
		io.ReadFull(br, reqBlock)

		block := serverEncodeHeaders(t, "200")
		writeFrame(server, FrameHeader{Type: FrameHeaders, Flags: FlagEndHeaders, StreamID: fh.StreamID}, block)
		writeFrame(server, FrameHeader{Type: FrameData, Flags: FlagEndStream, StreamID: fh.StreamID}, []byte("hello"))
	}()

	req := &Request{Method: "GET", Scheme: "https", Authority: "example.com", Path: "/", Header: headers.New()}
	resp, err := c.RoundTrip(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, 200, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Equal(t, "hello", string(body))
}

func TestGoAwayFailsStreamsAboveLastProcessed(t *testing.T) {
	c, server := newTestConnection(t)

	st := newStream(3, DefaultInitialWindowSize, InitialConnWindowSize)
	c.streams[3] = st

	go func() {
		var payload [8]byte
		putUint31(payload[:4], 1) // last-stream-id = 1
		putUint31(payload[4:], uint32(ErrNoError))
		writeFrame(server, FrameHeader{Type: FrameGoAway}, payload[:])
	}()

	select {
	case err := <-st.errCh:
		var goAway *GoAwayError
		require.ErrorAs(t, err, &goAway)
		require.Equal(t, uint32(1), goAway.LastStreamID)
	case <-time.After(2 * time.Second):
		t.Fatal("stream was never failed after GOAWAY")
	}

	last, ok := c.LastProcessedStreamID()
	require.True(t, ok)
	require.Equal(t, uint32(1), last)
}

func TestStreamCapacityReflectsPeerSettings(t *testing.T) {
	c, _ := newTestConnection(t)
	c.peerMaxConcurrentStreams.Store(2)
	require.Equal(t, 2, c.StreamCapacity())

	c.streams[1] = newStream(1, DefaultInitialWindowSize, InitialConnWindowSize)
	require.Equal(t, 1, c.StreamCapacity())

	c.goAway.Store(true)
	require.Equal(t, 0, c.StreamCapacity())
}
