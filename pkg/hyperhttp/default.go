package hyperhttp

import "sync"

var (
	defaultClientOnce sync.Once
	defaultClient     *Client
	defaultClientErr  error
)

// DefaultClient lazily builds and returns a package-level Client using
// DefaultConfig, for callers that don't need custom pool/retry/breaker
// tuning. Explicit construction via New is preferred elsewhere.
func DefaultClient() (*Client, error) {
	defaultClientOnce.Do(func() {
		defaultClient, defaultClientErr = New(DefaultConfig())
	})
	return defaultClient, defaultClientErr
}
