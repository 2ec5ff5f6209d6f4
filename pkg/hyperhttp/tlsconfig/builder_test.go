package tlsconfig

import (
	"crypto/tls"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewUsesSecureDefaults(t *testing.T) {
	cfg := New().Build()

	require.Equal(t, uint16(tls.VersionTLS12), cfg.MinVersion)
	require.Equal(t, uint16(tls.VersionTLS13), cfg.MaxVersion)
	require.NotEmpty(t, cfg.CipherSuites)
}

func TestBuilderChainOverridesVersion(t *testing.T) {
	cfg := New().
		WithMinVersion(tls.VersionTLS13).
		WithMaxVersion(tls.VersionTLS13).
		Build()

	require.Equal(t, uint16(tls.VersionTLS13), cfg.MinVersion)
	require.Equal(t, uint16(tls.VersionTLS13), cfg.MaxVersion)
}

func TestWithRootCAsPEMRejectsMissingFile(t *testing.T) {
	_, err := New().WithRootCAsPEM("/nonexistent/ca-bundle.pem")
	require.Error(t, err)
}

func TestWithClientCertRejectsMissingFiles(t *testing.T) {
	_, err := New().WithClientCert("/nonexistent/cert.pem", "/nonexistent/key.pem")
	require.Error(t, err)
}
