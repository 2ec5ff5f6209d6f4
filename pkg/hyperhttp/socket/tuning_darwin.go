//go:build darwin

package socket

import "golang.org/x/sys/unix"

// applyPlatformOptions applies Darwin-specific socket options. Called
// from Apply in tuning.go.
func applyPlatformOptions(fd int, cfg *Config) {
	_ = unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_NOSIGPIPE, 1)
	if cfg.KeepAlive {
		// TCP_KEEPALIVE on Darwin sets the idle time in seconds; there's
		// no separate interval/count knob like Linux's TCP_KEEPINTVL.
		_ = unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_KEEPALIVE, 60)
	}
}
