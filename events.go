package rtspengine

import (
	"time"

	"github.com/bluenviron/rtspengine/pkg/security"
)

// Event is a lifecycle or status notification emitted by the Client.
type Event interface {
	isEvent()
}

// SessionEstablished is emitted when PLAY succeeds.
type SessionEstablished struct {
	SessionID string
}

// TransportChosen is emitted when the server accepts the transport of a media.
type TransportChosen struct {
	MediaIndex int
	Protocol   TransportProtocol
	Secure     bool
}

// SecurityNegotiated is emitted when a secure channel is available.
// MediaIndex is -1 for the control connection.
// Suite and Source are meaningful with SRTP only.
type SecurityNegotiated struct {
	MediaIndex int
	Protocol   string
	Suite      security.Suite
	Source     security.KeySource
}

// Discontinuity is emitted when the timeline of a media is stepped.
type Discontinuity struct {
	MediaIndex int
	PTS        time.Duration
}

// SessionClosed is emitted when the session is closed.
// Err is nil when the session has been closed by the user.
type SessionClosed struct {
	SessionID string
	Err       error
}

// RetryableError is emitted when a step fails and is going to be retried.
type RetryableError struct {
	Step    string
	Attempt int
	Delay   time.Duration
	Err     error
}

// FatalError is emitted when the session fails.
type FatalError struct {
	Err error
}

// DecodeError is emitted when a packet of a media can't be decoded.
type DecodeError struct {
	MediaIndex int
	Err        error
}

func (SessionEstablished) isEvent() {}
func (TransportChosen) isEvent()    {}
func (SecurityNegotiated) isEvent() {}
func (Discontinuity) isEvent()      {}
func (SessionClosed) isEvent()      {}
func (RetryableError) isEvent()     {}
func (FatalError) isEvent()         {}
func (DecodeError) isEvent()        {}
