package client

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// ErrNetworkUnavailable indicates the host reports no network. No retry is
// attempted until an online signal is observed.
var ErrNetworkUnavailable = errors.New("network unavailable")

// TransportError covers handshake failures, abnormal closures, and protocol
// violations. Retryable under backoff.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport error during %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// TimeoutError covers connect and heartbeat timeouts. Retryable.
type TimeoutError struct {
	Op  string
	Err error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timeout during %s: %v", e.Op, e.Err)
}

func (e *TimeoutError) Unwrap() error { return e.Err }

// AuthError is an authentication/authorization rejection. Fatal: no retry,
// surfaced immediately.
type AuthError struct {
	StatusCode int
	Message    string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("authentication rejected (%d): %s", e.StatusCode, e.Message)
}

// OverloadError is a service-busy or rate-limit signal. Retryable, but only
// after a longer-than-normal backoff.
type OverloadError struct {
	Message string
}

func (e *OverloadError) Error() string {
	return fmt.Sprintf("service overloaded: %s", e.Message)
}

// IsFatal reports whether the failure must not be retried.
func IsFatal(err error) bool {
	var authErr *AuthError
	return errors.As(err, &authErr)
}

// IsOverload reports whether the failure should impose the long backoff.
func IsOverload(err error) bool {
	var overloadErr *OverloadError
	return errors.As(err, &overloadErr)
}

// classifyNetErr maps a transport-level error into the failure taxonomy.
func classifyNetErr(op string, err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &TimeoutError{Op: op, Err: err}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &TimeoutError{Op: op, Err: err}
	}
	return &TransportError{Op: op, Err: err}
}
