package h2

import "time"

// ClientPreface is sent by every HTTP/2 client before the first frame
// (RFC 7540 §3.5).
const ClientPreface = "PRI * HTTP/2.0\r\n\r\nSM\r\n\r\n"

// SettingID identifies an entry in a SETTINGS frame (RFC 7540 §6.5.2).
type SettingID uint16

const (
	SettingHeaderTableSize      SettingID = 0x1
	SettingEnablePush           SettingID = 0x2
	SettingMaxConcurrentStreams SettingID = 0x3
	SettingInitialWindowSize    SettingID = 0x4
	SettingMaxFrameSize         SettingID = 0x5
	SettingMaxHeaderListSize    SettingID = 0x6
)

// Default connection-level parameters the client advertises in its
// initial SETTINGS frame, per RFC 7540 §6.5.2's documented defaults.
const (
	DefaultHeaderTableSize   = 4096
	DefaultInitialWindowSize = 65535
	DefaultMaxFrameSize      = MaxFrameSize
	InitialConnWindowSize    = 1 << 20 // 1MiB, matches a typical server's advertised window
)

// PingPeriod is the interval between liveness PINGs; keepaliveLoop sends
// one every period whether or not other frames have been read in the
// meantime. PingTimeout bounds how long the client waits for a PING
// ACK before treating the connection as dead.
const (
	PingPeriod  = 30 * time.Second
	PingTimeout = 10 * time.Second
)
