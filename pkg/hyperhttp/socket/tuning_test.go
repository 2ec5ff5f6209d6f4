package socket

import (
	"net"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	require.True(t, cfg.NoDelay)
	require.Equal(t, 256*1024, cfg.RecvBuffer)
	require.Equal(t, 256*1024, cfg.SendBuffer)
	require.True(t, cfg.KeepAlive)
}

func TestApplyTunesRealTCPConn(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer listener.Close()

	go func() {
		c, err := listener.Accept()
		if err == nil {
			c.Close()
		}
	}()

	conn, err := net.Dial("tcp", listener.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, Apply(conn, DefaultConfig()))
}

func TestApplyNilConfigUsesDefaults(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer listener.Close()

	go func() {
		c, err := listener.Accept()
		if err == nil {
			c.Close()
		}
	}()

	conn, err := net.Dial("tcp", listener.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, Apply(conn, nil))
}

func TestApplyOnNonTCPConnIsNoop(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	require.NoError(t, Apply(client, DefaultConfig()))
}
