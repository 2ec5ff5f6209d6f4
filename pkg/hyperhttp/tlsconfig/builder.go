// Package tlsconfig builds *tls.Config values for a Client's dialers: a
// builder chain covering what a client actually configures — minimum
// and maximum protocol version, cipher suites, a trusted root CA
// bundle, and an optional client certificate for mTLS. Certificate
// issuance/rotation (ACME and friends) is a server concern and out of
// scope here.
package tlsconfig

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
)

// Builder accumulates client-side TLS settings before Build produces the
// *tls.Config a dialer clones per connection (for per-host ServerName/
// NextProtos).
type Builder struct {
	minVersion   uint16
	maxVersion   uint16
	cipherSuites []uint16
	rootCAs      *x509.CertPool
	clientCert   *tls.Certificate
}

// New returns a Builder seeded with SecureDefaults.
func New() *Builder {
	d := SecureDefaults()
	return &Builder{
		minVersion:   d.MinVersion,
		maxVersion:   d.MaxVersion,
		cipherSuites: d.CipherSuites,
	}
}

// WithMinVersion sets the minimum negotiated TLS version.
func (b *Builder) WithMinVersion(v uint16) *Builder { b.minVersion = v; return b }

// WithMaxVersion sets the maximum negotiated TLS version.
func (b *Builder) WithMaxVersion(v uint16) *Builder { b.maxVersion = v; return b }

// WithCipherSuites overrides the TLS 1.2 cipher suite preference list.
// Ignored once the peer negotiates TLS 1.3, whose suites Go selects
// internally.
func (b *Builder) WithCipherSuites(suites []uint16) *Builder {
	b.cipherSuites = suites
	return b
}

// WithRootCAsPEM trusts the CA certificates in the PEM file at path
// instead of the system root pool, for talking to hosts with a private
// or self-signed chain.
func (b *Builder) WithRootCAsPEM(path string) (*Builder, error) {
	pem, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("tlsconfig: reading root CA bundle: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("tlsconfig: no certificates found in %s", path)
	}
	b.rootCAs = pool
	return b, nil
}

// WithClientCert configures an mTLS client certificate presented during
// the handshake, loaded from a PEM cert/key pair on disk.
func (b *Builder) WithClientCert(certFile, keyFile string) (*Builder, error) {
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, fmt.Errorf("tlsconfig: loading client certificate: %w", err)
	}
	b.clientCert = &cert
	return b, nil
}

// Build produces the *tls.Config. ServerName and NextProtos are left
// unset: transport/h1 and transport/h2's dialers clone this per dial and
// fill those in per host/protocol.
func (b *Builder) Build() *tls.Config {
	cfg := &tls.Config{
		MinVersion:   b.minVersion,
		MaxVersion:   b.maxVersion,
		CipherSuites: b.cipherSuites,
		RootCAs:      b.rootCAs,
	}
	if b.clientCert != nil {
		cfg.Certificates = []tls.Certificate{*b.clientCert}
	}
	return cfg
}

// Defaults is SecureDefaults' plain-data return value, kept separate
// from Builder so a caller can inspect the defaults without constructing
// a Builder.
type Defaults struct {
	MinVersion   uint16
	MaxVersion   uint16
	CipherSuites []uint16
}

// SecureDefaults returns TLS 1.2 minimum, TLS 1.3 maximum, and a
// PFS-only TLS 1.2 cipher suite list.
func SecureDefaults() *Defaults {
	return &Defaults{
		MinVersion: tls.VersionTLS12,
		MaxVersion: tls.VersionTLS13,
		CipherSuites: []uint16{
			tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
			tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
			tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
			tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
			tls.TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305,
			tls.TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305,
		},
	}
}
