package h1

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"time"

	"github.com/lmousom/hyperhttp/pkg/hyperhttp/pool"
	"github.com/lmousom/hyperhttp/pkg/hyperhttp/socket"
)

// DialerConfig configures how NewDialer reaches a TCP or TLS peer.
type DialerConfig struct {
	ConnectTimeout time.Duration
	TLSConfig      *tls.Config    // non-nil enables TLS for SchemeHTTPS keys
	SocketTuning   *socket.Config // nil uses socket.DefaultConfig
}

// NewDialer builds a pool.Dialer that opens plain TCP connections for
// SchemeHTTP keys and TLS connections (negotiating "http/1.1" only) for
// SchemeHTTPS keys.
func NewDialer(cfg DialerConfig) pool.Dialer {
	return func(key pool.HostKey, preferH2 bool) (pool.Conn, error) {
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

			if key.Scheme != pool.SchemeHTTPS {
				return raw, nil
			}

			tlsCfg := cfg.TLSConfig
			if tlsCfg == nil {
				tlsCfg = &tls.Config{}
			}
			tlsCfg = tlsCfg.Clone()
			tlsCfg.ServerName = key.Host
			tlsCfg.NextProtos = []string{"http/1.1"}

			tlsConn := tls.Client(raw, tlsCfg)
			if err := tlsConn.HandshakeContext(ctx); err != nil {
				tlsConn.Close()
				return nil, err
			}
			return tlsConn, nil
		}

		ctx := context.Background()
		if cfg.ConnectTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, cfg.ConnectTimeout)
			defer cancel()
		}

		conn, err := Dial(ctx, key, dialFn)
		if err != nil {
			return nil, fmt.Errorf("h1: dial %s: %w", key, err)
		}
		return conn, nil
	}
}
