// Package hyperhttp wires bufferpool, backoff, classify, breaker, pool,
// transport/h1, transport/h2 and retry into an end-to-end request
// executor: Client holds a connection pool and default settings, Do
// drives one request to completion through breaker consultation, H1/H2
// dispatch, and a retry loop, and closing a response returns the
// connection to the pool.
package hyperhttp

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/net/http/httpguts"

	"github.com/lmousom/hyperhttp/internal/headers"
	"github.com/lmousom/hyperhttp/pkg/hyperhttp/backoff"
	"github.com/lmousom/hyperhttp/pkg/hyperhttp/breaker"
	"github.com/lmousom/hyperhttp/pkg/hyperhttp/bufferpool"
	"github.com/lmousom/hyperhttp/pkg/hyperhttp/classify"
	"github.com/lmousom/hyperhttp/pkg/hyperhttp/pool"
	"github.com/lmousom/hyperhttp/pkg/hyperhttp/retry"
	"github.com/lmousom/hyperhttp/pkg/hyperhttp/tlsconfig"
	"github.com/lmousom/hyperhttp/pkg/hyperhttp/transport/h1"
	"github.com/lmousom/hyperhttp/pkg/hyperhttp/transport/h2"
)

// ErrInvalidRequest is returned by Validate for a malformed Request
// (bad URL, a header containing CR/LF, or an empty method).
var ErrInvalidRequest = errors.New("hyperhttp: invalid request")

// Client is the end-to-end HTTP client: connection pool, breaker(s), and
// retry engine wired together.
type Client struct {
	cfg Config

	pool   *pool.ConnectionPool
	bufs   *bufferpool.Pool
	tracer Tracer
	metric Metrics

	globalBreaker *breaker.Breaker // non-nil only when scope == global
	hostBreaker   *breaker.Breaker // non-nil only when scope == per_host
	retryPolicy   retry.Policy
}

// New validates cfg and builds a Client with its own connection pool,
// breaker(s), and retry policy. The pool's dialer prefers H2 (with ALPN
// fallback to H1) when cfg.EnableHTTP2, and refuses to fall back when
// cfg.HTTP2Only (a hard failure rather than a silent downgrade).
func New(cfg Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("hyperhttp: invalid config: %w", err)
	}

	c := &Client{
		cfg:    cfg,
		bufs:   bufferpool.Default(),
		tracer: cfg.Tracer,
		metric: cfg.Metrics,
	}
	if c.tracer == nil {
		c.tracer = noopTracer{}
	}
	if c.metric == nil {
		c.metric = noopMetrics{}
	}
	if c.cfg.TLSConfig == nil {
		c.cfg.TLSConfig = tlsconfig.New().Build()
	}

	dial := c.buildDialer()
	c.pool = pool.New(pool.Config{
		MaxConnections:        cfg.MaxConnections,
		MaxConnectionsPerHost: cfg.MaxKeepaliveConns,
		MaxKeepalive:          cfg.MaxKeepalive,
		WaitTimeout:           cfg.ConnectTimeout,
		IdleCheckInterval:     30 * time.Second,
		ReapBatchSize:         32,
	}, dial)

	switch cfg.CircuitBreaker.Scope {
	case BreakerScopeGlobal:
		c.globalBreaker = breaker.New(breakerConfig(cfg.CircuitBreaker))
	default:
		c.hostBreaker = breaker.New(breakerConfig(cfg.CircuitBreaker))
	}

	c.retryPolicy = buildRetryPolicy(cfg.RetryPolicy)
	return c, nil
}

func breakerConfig(c CircuitBreakerConfig) breaker.Config {
	d := breaker.DefaultConfig()
	d.FailureThreshold = c.FailureThreshold
	d.RecoveryTimeout = c.RecoveryTimeout
	d.SuccessThreshold = c.SuccessThreshold
	d.Window = c.Window
	d.MaxHosts = c.MaxHosts
	return d
}

func buildRetryPolicy(c RetryPolicyConfig) retry.Policy {
	// Seeded per Client (not per attempt) so concurrent clients don't
	// share the same jitter sequence and retry in lockstep.
	seed := rand.New(rand.NewSource(time.Now().UnixNano()))

	var strat backoff.Strategy
	if c.BackoffStrategy == "decorrelated_jitter" {
		strat = &backoff.DecorrelatedJitterBackoff{Base: c.BackoffInitial, MaxBackoff: c.BackoffMax, Rand: seed}
	} else {
		strat = &backoff.ExponentialBackoff{
			Initial: c.BackoffInitial, Multiplier: c.BackoffMultiplier,
			MaxBackoff: c.BackoffMax, Jitter: true, Rand: seed,
		}
	}
	return retry.Policy{
		MaxRetries:        c.MaxRetries,
		RetryCategories:   c.RetryCategories,
		StatusForceList:   c.StatusForceList,
		BackoffStrategy:   strat,
		RetryIfResult:     c.RetryIfResult,
		RespectRetryAfter: c.RespectRetryAfter,
	}
}

// buildDialer returns a pool.Dialer that tries H2 first (ALPN-negotiated)
// when H2 is enabled and the caller prefers it, falling back to H1
// unless HTTP2Only forbids the downgrade.
func (c *Client) buildDialer() pool.Dialer {
	h1Dial := h1.NewDialer(h1.DialerConfig{ConnectTimeout: c.cfg.ConnectTimeout, TLSConfig: c.cfg.TLSConfig, SocketTuning: c.cfg.SocketTuning})
	h2Dial := h2.NewDialer(h2.DialerConfig{ConnectTimeout: c.cfg.ConnectTimeout, TLSConfig: c.cfg.TLSConfig, SocketTuning: c.cfg.SocketTuning})

	return func(key pool.HostKey, preferH2 bool) (pool.Conn, error) {
		wantH2 := c.cfg.EnableHTTP2 && preferH2 && key.Scheme == pool.SchemeHTTPS
		if !wantH2 {
			if c.cfg.HTTP2Only {
				return nil, classify.New(classify.KindProtocolError,
					fmt.Errorf("hyperhttp: http2_only set but %s cannot use h2", key))
			}
			conn, err := h1Dial(key, false)
			if err == nil {
				c.metric.IncCounter(MetricConnectionsCreated, 1, key.String(), "h1")
			}
			return conn, err
		}

		conn, err := h2Dial(key, true)
		if err == nil {
			c.metric.IncCounter(MetricConnectionsCreated, 1, key.String(), "h2")
			return conn, nil
		}
		if c.cfg.HTTP2Only {
			return nil, classify.New(classify.KindProtocolError, err)
		}
		conn, err = h1Dial(key, false)
		if err == nil {
			c.metric.IncCounter(MetricConnectionsCreated, 1, key.String(), "h1")
		}
		return conn, err
	}
}

// Validate checks req for the malformed-request conditions Do must
// reject before attempting any connection.
func Validate(req *Request) error {
	if req.Method == "" {
		return fmt.Errorf("%w: empty method", ErrInvalidRequest)
	}
	if req.URL == nil || req.URL.Host == "" {
		return fmt.Errorf("%w: missing host", ErrInvalidRequest)
	}
	if req.URL.Scheme != "http" && req.URL.Scheme != "https" {
		return fmt.Errorf("%w: unsupported scheme %q", ErrInvalidRequest, req.URL.Scheme)
	}
	if req.Header != nil {
		var badHeader error
		req.Header.Each(func(name, value string) {
			if badHeader != nil {
				return
			}
			if !httpguts.ValidHeaderFieldName(name) || !httpguts.ValidHeaderFieldValue(value) {
				badHeader = fmt.Errorf("%w: invalid header %q", ErrInvalidRequest, name)
			}
		})
		if badHeader != nil {
			return badHeader
		}
	}
	return nil
}

func hostKeyFor(u *url.URL) pool.HostKey {
	scheme := pool.SchemeHTTP
	defaultPort := 80
	if u.Scheme == "https" {
		scheme = pool.SchemeHTTPS
		defaultPort = 443
	}
	host := u.Hostname()
	port := defaultPort
	if p := u.Port(); p != "" {
		if n, err := strconv.Atoi(p); err == nil {
			port = n
		}
	}
	return pool.NewHostKey(scheme, host, port)
}

// Do executes req end-to-end: validate, apply defaults, consult the
// breaker(s), acquire a connection, hand off to the matching transport,
// and retry through retry.Engine on eligible failures.
func (c *Client) Do(ctx context.Context, req *Request) (*Response, error) {
	start := time.Now()
	c.metric.IncCounter(MetricRequestsTotal, 1)

	if err := Validate(req); err != nil {
		c.metric.IncCounter(MetricRequestsFailed, 1)
		return nil, err
	}

	timeout := req.Timeout
	if timeout == 0 {
		timeout = c.cfg.RequestTimeout
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	key := hostKeyFor(req.URL)
	preferH2 := c.cfg.EnableHTTP2
	if req.PreferH2 != nil {
		preferH2 = *req.PreferH2
	}

	engine := retry.New(c.retryPolicy, c.hostBreaker)
	retryReq := retry.Request{
		Key:        key.String(),
		Idempotent: req.isIdempotent(),
		HasBody:    req.hasBody(),
		Rewind:     req.rewind(),
	}

	reqInfo := &classify.RequestInfo{Method: req.Method, URL: req.URL.String()}

	out, err := engine.Do(ctx, retryReq, func(ctx context.Context, n int) (*retry.Outcome, error) {
		if n > 0 {
			c.metric.IncCounter(MetricRetriesTotal, 1, key.String())
		}

		if c.globalBreaker != nil {
			if bErr := c.globalBreaker.Allow(breaker.GlobalKey); bErr != nil {
				c.metric.IncCounter(MetricCircuitTrips, 1)
				ce := classify.New(classify.KindCircuitOpen, bErr)
				ce.Request = reqInfo
				return nil, ce
			}
		}

		waitStart := time.Now()
		conn, dialErr := c.pool.Acquire(ctx, key, preferH2)
		c.metric.ObserveHistogram(MetricPoolWaitNanos, float64(time.Since(waitStart)), key.String())
		c.tracer.Trace(PhaseConnect, req.URL.String(), time.Since(waitStart), "", dialErr)
		if dialErr != nil {
			ce := classify.New(classify.KindPoolExhausted, dialErr)
			ce.Request = reqInfo
			return nil, ce
		}
		conn = pool.Unwrap(conn)

		reused := conn.RequestCount() > 0
		if reused {
			c.metric.IncCounter(MetricConnectionsReused, 1, key.String())
		}

		resp, rtErr := c.roundTrip(ctx, conn, req)
		if rtErr != nil {
			if !isH2StreamLevelError(conn, rtErr) {
				conn.SetState(pool.Broken)
			}
			c.pool.Release(conn)
			attachRequestInfo(rtErr, reqInfo)
			c.tracer.Trace(PhaseComplete, req.URL.String(), time.Since(start), conn.Protocol().String(), rtErr)
			return nil, rtErr
		}

		conn.IncrementRequests()
		c.tracer.Trace(PhaseFirstByte, req.URL.String(), time.Since(start), conn.Protocol().String(), nil)

		wrapped := wrapResponse(resp.status, resp.header, resp.body, conn.Protocol(), conn, c.pool, c.bufs, req)
		return &retry.Outcome{StatusCode: wrapped.StatusCode, Header: wrapped.Header, Response: wrapped}, nil
	})

	c.tracer.Trace(PhaseComplete, req.URL.String(), time.Since(start), "", err)
	if err != nil {
		c.metric.IncCounter(MetricRequestsFailed, 1)
		return nil, err
	}
	resp, _ := out.Response.(*Response)
	return resp, nil
}

// transportResponse is the protocol-agnostic shape roundTrip produces,
// before it's wrapped as a *Response tied to the acquired connection.
type transportResponse struct {
	status int
	header *headers.Headers
	body   interface {
		Read([]byte) (int, error)
		Close() error
	}
}

// attachRequestInfo records info on err's underlying *classify.Error, if
// it has one, so diagnostics (logs, RaiseForStatus) can trace a failure
// back to the request that produced it.
func attachRequestInfo(err error, info *classify.RequestInfo) {
	var ce *classify.Error
	if errors.As(err, &ce) {
		ce.Request = info
	}
}

// isH2StreamLevelError reports whether err reflects the failure of a
// single multiplexed stream rather than the whole H2 connection. An H2
// connection is shared by every concurrent request multiplexed onto it
// (pool.HostPool hands the same *h2.Connection to several Acquire
// callers at once), so a stream-level failure must drop only that
// stream: marking the shared Conn Broken would tear down every other
// in-flight stream along with it. Connection-level failures (read-loop
// errors, frame protocol errors, failed pings) already leave the
// connection in pool.Broken via h2.Connection.fail, so they
// fall through to the ordinary Broken/Release-to-close path.
func isH2StreamLevelError(conn pool.Conn, err error) bool {
	h2c, ok := conn.(*h2.Connection)
	if !ok {
		return false
	}
	if h2c.State() == pool.Broken {
		return false
	}
	var streamErr *h2.StreamError
	var goAwayErr *h2.GoAwayError
	if errors.As(err, &streamErr) || errors.As(err, &goAwayErr) || errors.Is(err, h2.ErrGoAway) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	return false
}

// roundTrip dispatches to transport/h1 or transport/h2 depending on the
// acquired connection's concrete type, translating the protocol-agnostic
// Request into each transport's own wire-level Request type.
func (c *Client) roundTrip(ctx context.Context, conn pool.Conn, req *Request) (*transportResponse, error) {
	switch tc := conn.(type) {
	case *h1.Connection:
		h1req := &h1.Request{
			Method:        req.Method,
			Path:          requestPath(req.URL),
			Host:          req.URL.Host,
			Header:        req.Header,
			ContentLength: req.bodyLen(),
		}
		if req.Body != nil {
			h1req.Body = req.Body
		}
		resp, err := tc.Do(ctx, h1req)
		if err != nil {
			return nil, classify.Classify(err)
		}
		return &transportResponse{status: resp.StatusCode, header: resp.Header, body: resp.Body}, nil

	case *h2.Connection:
		h2req := &h2.Request{
			Method:        req.Method,
			Scheme:        req.URL.Scheme,
			Authority:     req.URL.Host,
			Path:          requestPath(req.URL),
			Header:        req.Header,
			ContentLength: req.bodyLen(),
		}
		if req.Body != nil {
			h2req.Body = req.Body
		}
		resp, err := tc.RoundTrip(ctx, h2req)
		if err != nil {
			ce := classify.Classify(err)
			var goAway *h2.GoAwayError
			if errors.As(err, &goAway) {
				// The stream's id is above the peer's last processed
				// id: the peer did not process it, so a non-idempotent
				// retry is still safe even though its frames were sent.
				return nil, classify.New(ce.Kind, retry.MarkPreProcessing(err))
			}
			return nil, ce
		}
		return &transportResponse{status: resp.StatusCode, header: resp.Header, body: resp.Body}, nil

	default:
		return nil, classify.New(classify.KindProtocolError, fmt.Errorf("hyperhttp: unknown connection type %T", conn))
	}
}

func requestPath(u *url.URL) string {
	p := u.EscapedPath()
	if p == "" {
		p = "/"
	}
	if u.RawQuery != "" {
		p += "?" + u.RawQuery
	}
	return p
}

// Stats reports the pool's current global/per-host connection counts.
func (c *Client) Stats() pool.GlobalStats { return c.pool.Stats() }

// Close shuts down the connection pool, closing every pooled connection.
func (c *Client) Close() error { return c.pool.Close() }
