package hyperhttp

import (
	"context"
	"errors"
	"io"
	"net"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lmousom/hyperhttp/pkg/hyperhttp/pool"
	"github.com/lmousom/hyperhttp/pkg/hyperhttp/transport/h2"
)

// dialTestH2Connection drives h2.Dial over an in-memory net.Pipe, with a
// background drain on the "server" side so the handshake's synchronous
// writes don't block.
func dialTestH2Connection(t *testing.T) *h2.Connection {
	t.Helper()
	client, server := net.Pipe()
	go io.Copy(io.Discard, server)

	key := pool.NewHostKey(pool.SchemeHTTPS, "example.test", 443)
	conn, err := h2.Dial(context.Background(), key, func(ctx context.Context, network, addr string) (net.Conn, error) {
		return client, nil
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		conn.Close()
		server.Close()
	})
	return conn
}

func TestIsH2StreamLevelError(t *testing.T) {
	t.Run("RST_STREAM on a healthy connection is stream-level", func(t *testing.T) {
		conn := dialTestH2Connection(t)
		err := &h2.StreamError{StreamID: 7, Code: h2.ErrCancel, Msg: "reset by peer"}
		require.True(t, isH2StreamLevelError(conn, err))
	})

	t.Run("GOAWAY-before-admission on a healthy connection is stream-level", func(t *testing.T) {
		conn := dialTestH2Connection(t)
		err := &h2.GoAwayError{LastStreamID: 5, Code: h2.ErrNoError}
		require.True(t, isH2StreamLevelError(conn, err))
	})

	t.Run("rejection by an already-going-away connection is stream-level", func(t *testing.T) {
		conn := dialTestH2Connection(t)
		require.True(t, isH2StreamLevelError(conn, h2.ErrGoAway))
	})

	t.Run("context cancellation is stream-level", func(t *testing.T) {
		conn := dialTestH2Connection(t)
		require.True(t, isH2StreamLevelError(conn, context.Canceled))
	})

	t.Run("a connection already marked Broken is never stream-level", func(t *testing.T) {
		conn := dialTestH2Connection(t)
		conn.SetState(pool.Broken)
		err := &h2.StreamError{StreamID: 7, Code: h2.ErrCancel, Msg: "reset by peer"}
		require.False(t, isH2StreamLevelError(conn, err))
	})

	t.Run("an unrecognized connection type is never stream-level", func(t *testing.T) {
		require.False(t, isH2StreamLevelError(nil, errors.New("boom")))
	})
}
