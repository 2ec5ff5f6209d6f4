//go:build windows

package socket

import "net"

// Apply is a no-op on Windows: the raw socket options this package
// tunes are exposed through golang.org/x/sys/unix, which Windows doesn't
// build. net.Dialer's own defaults apply instead.
func Apply(conn net.Conn, cfg *Config) error {
	return nil
}
