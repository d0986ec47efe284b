package agent

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// Kind classifies a backend call failure. It drives both the retry
// policy and the HTTP status surfaced to the caller.
type Kind string

const (
	KindRateLimited Kind = "rate_limited"
	KindUnavailable Kind = "unavailable"
	KindTimeout     Kind = "timeout"
	KindAuth        Kind = "auth"
	KindNotFound    Kind = "not_found"
	KindMalformed   Kind = "malformed"
	KindUnknown     Kind = "unknown"
)

// CallError tags a backend failure with its upstream status (when one
// was observed) and a Kind.
type CallError struct {
	Status int
	Kind   Kind
	Err    error
}

func (e *CallError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("agent call failed (%s): %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("agent call failed (%s, status=%d)", e.Kind, e.Status)
}

func (e *CallError) Unwrap() error { return e.Err }

// Retryable reports whether the failure participates in the retry
// policy. Only rate limiting, unavailability and timeouts are retried;
// everything else propagates immediately.
func (e *CallError) Retryable() bool {
	switch e.Kind {
	case KindRateLimited, KindUnavailable, KindTimeout:
		return true
	}
	return false
}

// HTTPStatus maps the failure kind to the caller-facing status code.
func (e *CallError) HTTPStatus() int {
	switch e.Kind {
	case KindAuth:
		return http.StatusUnauthorized
	case KindNotFound:
		return http.StatusNotFound
	case KindTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}

// statusKind classifies an upstream HTTP status.
func statusKind(status int) Kind {
	switch {
	case status == http.StatusTooManyRequests:
		return KindRateLimited
	case status == http.StatusGatewayTimeout:
		return KindTimeout
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return KindAuth
	case status == http.StatusNotFound:
		return KindNotFound
	case status >= 500:
		return KindUnavailable
	case status >= 400:
		return KindMalformed
	default:
		return KindUnknown
	}
}

// statusError builds a CallError from an upstream response status.
func statusError(status int, body string) *CallError {
	return &CallError{
		Status: status,
		Kind:   statusKind(status),
		Err:    fmt.Errorf("upstream status %d: %s", status, body),
	}
}

// wrapTransport classifies transport-level failures: deadline
// exhaustion becomes a timeout, everything else is unavailability.
func wrapTransport(err error) *CallError {
	if errors.Is(err, context.DeadlineExceeded) {
		return &CallError{Kind: KindTimeout, Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &CallError{Kind: KindTimeout, Err: err}
	}
	return &CallError{Kind: KindUnavailable, Err: err}
}

// asCallError normalizes any error into a CallError so the router
// always has a Kind to map.
func asCallError(err error) *CallError {
	var ce *CallError
	if errors.As(err, &ce) {
		return ce
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &CallError{Kind: KindTimeout, Err: err}
	}
	return &CallError{Kind: KindUnknown, Err: err}
}
