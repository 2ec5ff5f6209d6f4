package h2

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/lmousom/hyperhttp/pkg/hyperhttp/pool"
	"github.com/lmousom/hyperhttp/pkg/hyperhttp/socket"
)

// ErrNoALPNH2 is returned when TLS negotiation completes without the
// "h2" protocol, meaning the peer cannot speak HTTP/2 on this connection.
var ErrNoALPNH2 = errors.New("h2: server did not negotiate h2 via ALPN")

// DialerConfig configures NewDialer. HTTP/2 is only ever dialed over TLS
// here — cleartext h2c is out of scope — so a SchemeHTTP key is always
// rejected.
type DialerConfig struct {
	ConnectTimeout time.Duration
	TLSConfig      *tls.Config
	SocketTuning   *socket.Config // nil uses socket.DefaultConfig
}

// NewDialer builds a pool.Dialer that dials TLS with ALPN negotiation for
// "h2", failing closed if the peer doesn't support it.
func NewDialer(cfg DialerConfig) pool.Dialer {
	return func(key pool.HostKey, preferH2 bool) (pool.Conn, error) {
		if key.Scheme != pool.SchemeHTTPS {
			return nil, fmt.Errorf("h2: refusing cleartext h2c for %s", key)
		}

		netDialer := &net.Dialer{Timeout: cfg.ConnectTimeout}
		dialFn := func(ctx context.Context, network, addr string) (net.Conn, error) {
			raw, err := netDialer.DialContext(ctx, network, addr)
			if err != nil {
				return nil, err
			}
			if err := socket.Apply(raw, cfg.SocketTuning); err != nil {
				raw.Close()
				return nil, err
			}

			tlsCfg := cfg.TLSConfig
			if tlsCfg == nil {
				tlsCfg = &tls.Config{}
			}
			tlsCfg = tlsCfg.Clone()
			tlsCfg.ServerName = key.Host
			tlsCfg.NextProtos = []string{"h2"}

			conn := tls.Client(raw, tlsCfg)
			if err := conn.HandshakeContext(ctx); err != nil {
				conn.Close()
				return nil, err
			}
			if conn.ConnectionState().NegotiatedProtocol != "h2" {
				conn.Close()
				return nil, ErrNoALPNH2
			}
			return conn, nil
		}

		ctx := context.Background()
		if cfg.ConnectTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, cfg.ConnectTimeout)
			defer cancel()
		}

		conn, err := Dial(ctx, key, dialFn)
		if err != nil {
			return nil, err
		}
		return conn, nil
	}
}
