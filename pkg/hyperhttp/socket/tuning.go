//go:build !windows

package socket

import (
	"net"

	"golang.org/x/sys/unix"
)

// Apply tunes conn per cfg. Only *net.TCPConn (including one not yet
// wrapped in TLS) can be tuned; any other net.Conn is left untouched.
// TCP_NODELAY failing is returned; the buffer-size and keepalive options
// are best-effort and never fail the dial.
func Apply(conn net.Conn, cfg *Config) error {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	tcpConn, ok := conn.(*net.TCPConn)
	if !ok {
		return nil
	}

	rawConn, err := tcpConn.SyscallConn()
	if err != nil {
		return err
	}

	var criticalErr error
	ctrlErr := rawConn.Control(func(fd uintptr) {
		if cfg.NoDelay {
			if e := unix.SetsockoptInt(int(fd), unix.IPPROTO_TCP, unix.TCP_NODELAY, 1); e != nil {
				criticalErr = e
				return
			}
		}
		if cfg.RecvBuffer > 0 {
			_ = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_RCVBUF, cfg.RecvBuffer)
		}
		if cfg.SendBuffer > 0 {
			_ = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_SNDBUF, cfg.SendBuffer)
		}
		if cfg.KeepAlive {
			_ = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_KEEPALIVE, 1)
		}
		applyPlatformOptions(int(fd), cfg)
	})
	if ctrlErr != nil {
		return ctrlErr
	}
	return criticalErr
}
