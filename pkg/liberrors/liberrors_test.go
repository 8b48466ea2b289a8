package liberrors

import (
	"context"
	"fmt"
	"io"
	"net"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bluenviron/rtspengine/pkg/base"
)

func TestIsRetryable(t *testing.T) {
	for _, ca := range []struct {
		name string
		err  error
		ok   bool
	}{
		{"nil", nil, false},
		{"transport", ErrTransport{Err: fmt.Errorf("connection refused")}, true},
		{"timeout", ErrTimeout{Op: "DESCRIBE"}, true},
		{"wrapped timeout", fmt.Errorf("setup: %w", ErrTimeout{Op: "SETUP"}), true},
		{"service unavailable", ErrProtocol{StatusCode: base.StatusServiceUnavailable}, true},
		{"request timeout", ErrProtocol{StatusCode: base.StatusRequestTimeout}, true},
		{"not found", ErrProtocol{StatusCode: base.StatusNotFound}, false},
		{"malformed", ErrProtocol{Err: fmt.Errorf("bad header")}, false},
		{"configuration", ErrConfiguration{Field: "BufferMode", Err: fmt.Errorf("invalid")}, false},
		{
			"configuration wrapping transport",
			ErrConfiguration{Field: "URL", Err: ErrTransport{Err: fmt.Errorf("x")}},
			false,
		},
		{"security", ErrSecurity{MediaIndex: 0, Err: fmt.Errorf("no key")}, false},
		{"canceled", context.Canceled, false},
		{"deadline", context.DeadlineExceeded, true},
		{"eof", io.EOF, true},
		{"net", &net.OpError{Op: "dial", Err: fmt.Errorf("refused")}, true},
		{"generic", fmt.Errorf("generic"), false},
	} {
		t.Run(ca.name, func(t *testing.T) {
			require.Equal(t, ca.ok, IsRetryable(ca.err))
		})
	}
}

func TestErrorMessages(t *testing.T) {
	require.EqualError(t, ErrProtocol{StatusCode: 404, Message: "Not Found"}, "bad status code: 404 (Not Found)")
	require.EqualError(t, ErrSecurity{MediaIndex: -1, Err: fmt.Errorf("handshake")}, "security error: handshake")
	require.EqualError(t, ErrSecurity{MediaIndex: 1, Err: fmt.Errorf("no key")}, "security error on media 1: no key")
	require.EqualError(t, ErrTimeout{Op: "race"}, "race timed out")
	require.ErrorIs(t, ErrTimeout{Op: "race"}, context.DeadlineExceeded)
	require.EqualError(t, ErrClientSessionMismatch{Expected: "a", Got: "b"},
		"server changed session ID from 'a' to 'b'")
}
