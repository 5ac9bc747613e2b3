package client

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/selectcast/selectcast/go/internal/registry"
)

func TestIsFatal(t *testing.T) {
	assert.True(t, IsFatal(&AuthError{StatusCode: 401}))
	assert.False(t, IsFatal(&TransportError{Op: "dial", Err: errors.New("refused")}))
	assert.False(t, IsFatal(&TimeoutError{Op: "dial"}))
	assert.False(t, IsFatal(&OverloadError{}))
	assert.False(t, IsFatal(nil))
}

func TestIsOverload(t *testing.T) {
	assert.True(t, IsOverload(&OverloadError{Message: "busy"}))
	assert.False(t, IsOverload(&TransportError{Op: "dial", Err: errors.New("refused")}))
}

type timeoutNetErr struct{}

func (timeoutNetErr) Error() string   { return "i/o timeout" }
func (timeoutNetErr) Timeout() bool   { return true }
func (timeoutNetErr) Temporary() bool { return true }

func TestClassifyNetErr(t *testing.T) {
	var timeoutErr *TimeoutError
	assert.ErrorAs(t, classifyNetErr("dial", timeoutNetErr{}), &timeoutErr)
	assert.ErrorAs(t, classifyNetErr("dial", context.DeadlineExceeded), &timeoutErr)

	var transportErr *TransportError
	assert.ErrorAs(t, classifyNetErr("dial", errors.New("connection refused")), &transportErr)
}

func TestClassifyHTTPStatus(t *testing.T) {
	var authErr *AuthError
	assert.ErrorAs(t, classifyHTTPStatus("join", http.StatusUnauthorized, ""), &authErr)
	assert.ErrorAs(t, classifyHTTPStatus("join", http.StatusForbidden, ""), &authErr)

	var overloadErr *OverloadError
	assert.ErrorAs(t, classifyHTTPStatus("join", http.StatusTooManyRequests, ""), &overloadErr)

	assert.ErrorIs(t, classifyHTTPStatus("ws", http.StatusNotFound, ""), registry.ErrUnknownSession)

	var transportErr *TransportError
	assert.ErrorAs(t, classifyHTTPStatus("join", http.StatusBadGateway, ""), &transportErr)
}
