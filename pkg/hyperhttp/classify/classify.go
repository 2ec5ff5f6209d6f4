// Package classify maps raw transport failures to a closed error
// taxonomy, and further reduces each error kind to the category set
// {TRANSIENT, TIMEOUT, SERVER, RATE_LIMIT, CONNECTION} that the circuit
// breaker and retry engine reason about. Classification is pure
// value/type inspection, so this package is intentionally stdlib-only.
package classify

import (
	"context"
	"errors"
	"net"
)

// Category is one of the retry/breaker-relevant failure buckets.
type Category string

const (
	Transient Category = "TRANSIENT"
	Timeout   Category = "TIMEOUT"
	Server    Category = "SERVER"
	RateLimit Category = "RATE_LIMIT"
	Connection Category = "CONNECTION"
	// None marks errors that are never retried and never trip the
	// breaker (ValidationError, ProtocolError absent a pre-processing
	// retry path, TooManyRedirects, CircuitOpen, Cancelled).
	None Category = ""
)

// Kind identifies which failure shape produced an error.
type Kind int

const (
	KindValidation Kind = iota
	KindConnectTimeout
	KindReadTimeout
	KindConnectionError
	KindProtocolError
	KindHTTPError
	KindTooManyRedirects
	KindCircuitOpen
	KindPoolExhausted
	KindCancelled
)

// RequestInfo is a diagnostic snapshot of the request that produced an
// Error: just enough to identify it in logs or error messages. It is a
// plain struct rather than the client's own Request type, since that
// type lives in the package that imports classify.
type RequestInfo struct {
	Method string
	URL    string
}

// Error is the taxonomy-tagged error type every component in this module
// returns instead of ad-hoc errors, so the retry engine and breaker can
// branch on Kind/Categories without type assertions into transport
// internals.
type Error struct {
	Kind       Kind
	Status     int // populated for KindHTTPError
	Err        error
	Categories []Category
	Request    *RequestInfo // the request that produced this error, if known
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return "hyperhttp: classified error"
}

func (e *Error) Unwrap() error { return e.Err }

// HasCategory reports whether cat is among e's categories.
func (e *Error) HasCategory(cat Category) bool {
	for _, c := range e.Categories {
		if c == cat {
			return true
		}
	}
	return false
}

// New wraps err as a classified Error of the given kind with its table
// categories already attached.
func New(kind Kind, err error) *Error {
	return &Error{Kind: kind, Err: err, Categories: categoriesFor(kind, 0)}
}

// NewHTTPError builds the status-dependent HTTPError row: 5xx maps to
// {SERVER, TRANSIENT}, 429 maps to {RATE_LIMIT}, everything else carries
// no retry/breaker category (client errors are not transient failures).
func NewHTTPError(status int, err error) *Error {
	return &Error{Kind: KindHTTPError, Status: status, Err: err, Categories: categoriesFor(KindHTTPError, status)}
}

func categoriesFor(kind Kind, status int) []Category {
	switch kind {
	case KindConnectTimeout:
		return []Category{Timeout, Connection}
	case KindReadTimeout:
		return []Category{Timeout}
	case KindConnectionError:
		return []Category{Connection, Transient}
	case KindPoolExhausted:
		return []Category{Transient}
	case KindHTTPError:
		switch {
		case status == 429:
			return []Category{RateLimit}
		case status >= 500 && status <= 599:
			return []Category{Server, Transient}
		default:
			return nil
		}
	default:
		return nil // ValidationError, ProtocolError, TooManyRedirects, CircuitOpen, Cancelled
	}
}

// Classify inspects a raw error returned by a transport and produces the
// taxonomy-tagged Error used throughout the retry/breaker pipeline.
// Already-classified errors pass through unchanged.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}
	var ce *Error
	if errors.As(err, &ce) {
		return ce
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return New(KindReadTimeout, err)
		}
		return New(KindConnectionError, err)
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return New(KindReadTimeout, err)
	}
	if errors.Is(err, context.Canceled) {
		return New(KindCancelled, err)
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return New(KindConnectionError, err)
	}

	// Unrecognized error: treat conservatively as a non-retried,
	// non-breaker-tripping failure rather than guessing a category.
	return &Error{Kind: KindProtocolError, Err: err}
}
