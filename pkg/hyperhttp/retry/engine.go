// Package retry runs a bounded attempt loop against a transport call,
// consulting a circuit breaker on every attempt, rewinding the request
// body for replay, and gating non-idempotent requests behind proof that
// the prior attempt never reached the wire.
package retry

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/lmousom/hyperhttp/internal/headers"
	"github.com/lmousom/hyperhttp/pkg/hyperhttp/backoff"
	"github.com/lmousom/hyperhttp/pkg/hyperhttp/breaker"
	"github.com/lmousom/hyperhttp/pkg/hyperhttp/classify"
)

// Outcome is the minimal per-attempt result the engine inspects to
// decide retry eligibility (status_force_list, retry_if_result,
// Retry-After). Response carries the actual transport response through
// to the caller once the engine stops retrying.
type Outcome struct {
	StatusCode int
	Header     *headers.Headers
	Response   any
}

// AttemptFunc performs one transport round trip. attempt is 0-indexed.
type AttemptFunc func(ctx context.Context, attempt int) (*Outcome, error)

// ProvablyPreProcessing marks an error as having occurred before the
// request body was (or could have been) transmitted, making it safe to
// retry even a non-idempotent request (e.g. a connect failure, or an H2
// stream whose id was never admitted past a GOAWAY's
// last_processed_stream_id).
type ProvablyPreProcessing interface {
	PreProcessing() bool
}

type preProcessingErr struct{ error }

func (preProcessingErr) PreProcessing() bool { return true }
func (p preProcessingErr) Unwrap() error     { return p.error }

// MarkPreProcessing wraps err so the engine treats it as pre-processing
// regardless of the request's idempotency. Callers that can prove a
// request never reached the wire (e.g. Client comparing a failed stream
// id against GOAWAY's last_processed_stream_id) use this to make an
// otherwise-unsafe retry safe.
func MarkPreProcessing(err error) error { return preProcessingErr{err} }

func isPreProcessing(err error) bool {
	var pp ProvablyPreProcessing
	if errors.As(err, &pp) && pp.PreProcessing() {
		return true
	}
	ce := classify.Classify(err)
	return ce.Kind == classify.KindConnectTimeout || ce.Kind == classify.KindConnectionError
}

// Policy configures which failures the engine retries and how long it
// waits between attempts.
type Policy struct {
	MaxRetries        int
	RetryCategories   []classify.Category
	StatusForceList   []int
	BackoffStrategy   backoff.Strategy
	RetryIfResult     func(*Outcome) bool
	RespectRetryAfter bool
}

func (p *Policy) hasCategory(cat classify.Category) bool {
	for _, c := range p.RetryCategories {
		if c == cat {
			return true
		}
	}
	return false
}

func (p *Policy) forcedStatus(status int) bool {
	for _, s := range p.StatusForceList {
		if s == status {
			return true
		}
	}
	return false
}

// Request carries the per-call context the engine needs beyond the
// policy: the breaker key, whether the method is idempotent, and
// whether the body can be rewound for a retried attempt.
type Request struct {
	Key        string // breaker key: HostKey string or "" for global scope
	Idempotent bool
	HasBody    bool
	Rewind     func() error // nil if the body is empty or cannot be rewound
}

// bodyReplayable reports whether req's body can safely be resent.
// A non-restartable stream disables retry for the request, treated as
// if the request were non-idempotent.
func (r Request) bodyReplayable() bool {
	return !r.HasBody || r.Rewind != nil
}

// Engine orchestrates attempts against a breaker and a retry policy.
type Engine struct {
	Policy  Policy
	Breaker *breaker.Breaker
}

// New constructs an Engine. breaker may be nil to disable breaker
// consultation entirely (tests, or a deployment that opts out).
func New(policy Policy, b *breaker.Breaker) *Engine {
	return &Engine{Policy: policy, Breaker: b}
}

// Do runs the attempt loop: consult the breaker, perform the attempt,
// classify any failure, and either
// retry from a fresh acquisition or return the final outcome/error to
// the caller. The returned Outcome is always the most recent attempt's
// result, even when retries were exhausted without ever getting a
// transport-level error (e.g. a 503 that outlived status_force_list).
func (e *Engine) Do(ctx context.Context, req Request, attempt AttemptFunc) (*Outcome, error) {
	var errs *multierror.Error
	var priorDelay time.Duration
	var lastOut *Outcome
	var lastErr error

	for n := 0; n <= e.Policy.MaxRetries; n++ {
		if e.Breaker != nil {
			if bErr := e.Breaker.Allow(req.Key); bErr != nil {
				return nil, bErr
			}
		}

		if n > 0 && req.Rewind != nil {
			if rErr := req.Rewind(); rErr != nil {
				return nil, rErr
			}
		}

		out, err := attempt(ctx, n)
		lastOut, lastErr = out, err

		var ce *classify.Error
		if err != nil {
			ce = classify.Classify(err)
			if e.Breaker != nil && breakerRelevant(ce) {
				e.Breaker.OnFailure(req.Key)
			}
			errs = multierror.Append(errs, err)
		} else if e.Breaker != nil {
			e.Breaker.OnSuccess(req.Key)
		}

		if !e.eligibleByOutcome(ce, out) {
			return out, err
		}
		if n >= e.Policy.MaxRetries {
			break
		}
		if !e.eligibleByBody(err, req) {
			break
		}

		delay := e.Policy.BackoffStrategy.NextDelay(n, priorDelay)
		if e.Policy.RespectRetryAfter && out != nil {
			if ra, ok := parseRetryAfter(out.Header); ok && ra > delay {
				delay = ra
			}
		}
		priorDelay = delay

		if !sleepWithContext(ctx, delay) {
			return nil, ctx.Err()
		}
	}

	if lastErr != nil && errs != nil {
		return lastOut, errs.ErrorOrNil()
	}
	return lastOut, lastErr
}

// eligibleByOutcome reports retry eligibility by category membership, a
// forced status code, or a caller predicate, OR-combined.
func (e *Engine) eligibleByOutcome(ce *classify.Error, out *Outcome) bool {
	if ce != nil {
		for _, cat := range ce.Categories {
			if e.Policy.hasCategory(cat) {
				return true
			}
		}
	}
	if out != nil {
		if e.Policy.forcedStatus(out.StatusCode) {
			return true
		}
		if e.Policy.RetryIfResult != nil && e.Policy.RetryIfResult(out) {
			return true
		}
	}
	return false
}

// eligibleByBody reports whether req's body state permits a retry:
// idempotent requests with a replayable body may always retry;
// non-idempotent requests may only retry when the failure is provably
// pre-processing (the body was never actually sent).
func (e *Engine) eligibleByBody(err error, req Request) bool {
	if req.Idempotent && req.bodyReplayable() {
		return true
	}
	return err != nil && isPreProcessing(err)
}

// breakerRelevant reports whether ce should count against a circuit
// breaker: only {TRANSIENT, SERVER, CONNECTION, TIMEOUT} failures do;
// RATE_LIMIT and classification-only errors (ValidationError etc.) never
// trip it.
func breakerRelevant(ce *classify.Error) bool {
	for _, c := range ce.Categories {
		switch c {
		case classify.Transient, classify.Server, classify.Connection, classify.Timeout:
			return true
		}
	}
	return false
}

// parseRetryAfter reads the Retry-After header as either a delta-second
// count or an HTTP-date (RFC 7231 §7.1.3), returning the wait duration.
func parseRetryAfter(h *headers.Headers) (time.Duration, bool) {
	if h == nil {
		return 0, false
	}
	v := h.Get("Retry-After")
	if v == "" {
		return 0, false
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0, false
		}
		return time.Duration(secs) * time.Second, true
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d, true
		}
		return 0, true
	}
	return 0, false
}

func sleepWithContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		select {
		case <-ctx.Done():
			return false
		default:
			return true
		}
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
