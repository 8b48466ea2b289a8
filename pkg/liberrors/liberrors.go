// Package liberrors contains errors returned by the library.
package liberrors

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"

	"github.com/bluenviron/rtspengine/pkg/base"
)

// ErrTransport is returned when a connection or a handshake fails.
type ErrTransport struct {
	Err error
}

// Error implements the error interface.
func (e ErrTransport) Error() string {
	return fmt.Sprintf("transport error: %v", e.Err)
}

// Unwrap returns the wrapped error.
func (e ErrTransport) Unwrap() error {
	return e.Err
}

// ErrProtocol is returned when the server replies with an unexpected
// status code or a malformed response.
type ErrProtocol struct {
	StatusCode base.StatusCode
	Message    string
	Err        error
}

// Error implements the error interface.
func (e ErrProtocol) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("protocol error: %v", e.Err)
	}
	return fmt.Sprintf("bad status code: %d (%s)", e.StatusCode, e.Message)
}

// Unwrap returns the wrapped error.
func (e ErrProtocol) Unwrap() error {
	return e.Err
}

// ErrSecurity is returned when TLS or SRTP negotiation fails,
// or when a key is invalid or missing.
// MediaIndex is -1 when the error concerns the control channel.
type ErrSecurity struct {
	MediaIndex int
	Err        error
}

// Error implements the error interface.
func (e ErrSecurity) Error() string {
	if e.MediaIndex < 0 {
		return fmt.Sprintf("security error: %v", e.Err)
	}
	return fmt.Sprintf("security error on media %d: %v", e.MediaIndex, e.Err)
}

// Unwrap returns the wrapped error.
func (e ErrSecurity) Unwrap() error {
	return e.Err
}

// ErrTimeout is returned when an attempt or a request times out.
type ErrTimeout struct {
	Op string
}

// Error implements the error interface.
func (e ErrTimeout) Error() string {
	return fmt.Sprintf("%s timed out", e.Op)
}

// Unwrap returns context.DeadlineExceeded.
func (e ErrTimeout) Unwrap() error {
	return context.DeadlineExceeded
}

// ErrConfiguration is returned when the configuration is invalid.
type ErrConfiguration struct {
	Field string
	Err   error
}

// Error implements the error interface.
func (e ErrConfiguration) Error() string {
	return fmt.Sprintf("invalid configuration '%s': %v", e.Field, e.Err)
}

// Unwrap returns the wrapped error.
func (e ErrConfiguration) Unwrap() error {
	return e.Err
}

func isRetryableStatus(code base.StatusCode) bool {
	switch code {
	case base.StatusRequestTimeout,
		base.StatusInternalServerError,
		base.StatusBadGateway,
		base.StatusServiceUnavailable,
		base.StatusGatewayTimeout:
		return true
	}
	return false
}

// IsRetryable returns whether an error is transient.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var configErr ErrConfiguration
	if errors.As(err, &configErr) {
		return false
	}

	if errors.Is(err, context.Canceled) {
		return false
	}

	var protoErr ErrProtocol
	if errors.As(err, &protoErr) {
		return protoErr.Err == nil && isRetryableStatus(protoErr.StatusCode)
	}

	var securityErr ErrSecurity
	if errors.As(err, &securityErr) {
		return false
	}

	var timeoutErr ErrTimeout
	if errors.As(err, &timeoutErr) {
		return true
	}

	var transportErr ErrTransport
	if errors.As(err, &transportErr) {
		return true
	}

	if errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}

	var netErr net.Error
	return errors.As(err, &netErr)
}
