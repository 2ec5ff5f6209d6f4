// Package socket applies dialer-side TCP tuning to connections hyperhttp
// opens: the options a client dialer can use. Listener-side knobs —
// TCP_DEFER_ACCEPT, TFO queue length, persistent TCP_QUICKACK — have no
// client-side equivalent and are out of scope here.
package socket

// Config is dialer-side socket tuning. Zero value means "use system
// defaults" for the buffer sizes; NoDelay/KeepAlive still apply since a
// false bool is a meaningful choice for those, so DefaultConfig sets them
// explicitly rather than relying on the zero value.
type Config struct {
	// NoDelay disables Nagle's algorithm (TCP_NODELAY). Recommended for
	// both HTTP/1.1 and HTTP/2, where request/response framing already
	// batches writes at the application layer.
	NoDelay bool

	// RecvBuffer/SendBuffer set SO_RCVBUF/SO_SNDBUF in bytes. 0 leaves
	// the system default in place.
	RecvBuffer int
	SendBuffer int

	// KeepAlive enables SO_KEEPALIVE so a dead peer is detected even
	// while a pooled connection sits idle between requests.
	KeepAlive bool
}

// DefaultConfig is the tuning hyperhttp's dialers apply unless a Client
// is configured otherwise.
func DefaultConfig() *Config {
	return &Config{
		NoDelay:    true,
		RecvBuffer: 256 * 1024,
		SendBuffer: 256 * 1024,
		KeepAlive:  true,
	}
}
