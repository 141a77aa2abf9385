package upstream

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// Sentinel errors for the failure classes callers branch on.
var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrRateLimited  = errors.New("rate limited")
	ErrUnavailable  = errors.New("service unavailable")
	ErrBadRequest   = errors.New("bad request")
	ErrEmptyReply   = errors.New("empty reply")
)

// Error wraps a provider failure with enough context to decide whether
// retrying can help.
type Error struct {
	Provider  string
	Op        string
	Err       error
	Retryable bool
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Provider, e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether err is worth retrying.
func IsRetryable(err error) bool {
	var upstreamErr *Error
	if errors.As(err, &upstreamErr) {
		return upstreamErr.Retryable
	}
	if errors.Is(err, ErrRateLimited) || errors.Is(err, ErrUnavailable) {
		return true
	}
	return isTransient(err)
}

// classifyStatus wraps an HTTP level provider failure. Rate limits and
// server errors are retryable; auth and client errors are not.
func classifyStatus(provider, op string, status int, err error) *Error {
	wrapped := err
	retryable := false
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		wrapped = fmt.Errorf("%w: %v", ErrUnauthorized, err)
	case status == http.StatusTooManyRequests:
		wrapped = fmt.Errorf("%w: %v", ErrRateLimited, err)
		retryable = true
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity:
		wrapped = fmt.Errorf("%w: %v", ErrBadRequest, err)
	case status >= http.StatusInternalServerError:
		wrapped = fmt.Errorf("%w: %v", ErrUnavailable, err)
		retryable = true
	}
	return &Error{Provider: provider, Op: op, Err: wrapped, Retryable: retryable}
}

func isTransient(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
