//go:build linux

package socket

import "golang.org/x/sys/unix"

// applyPlatformOptions applies Linux-specific socket options. Called
// from Apply in tuning.go.
func applyPlatformOptions(fd int, cfg *Config) {
	if cfg.KeepAlive {
		// Start probing after 60s idle, then every 10s, up to 6 probes
		// before the connection is considered dead — tighter than the
		// OS default so a stalled peer is noticed within a pool's idle
		// reap window rather than after several minutes.
		_ = unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_KEEPIDLE, 60)
		_ = unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_KEEPINTVL, 10)
		_ = unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_KEEPCNT, 6)
	}
	_ = unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_USER_TIMEOUT, 10000)
}
