package liberrors

import (
	"fmt"
	"time"

	"github.com/bluenviron/rtspengine/pkg/base"
)

// ErrClientTerminated is returned when the client is terminated.
type ErrClientTerminated struct{}

// Error implements the error interface.
func (e ErrClientTerminated) Error() string {
	return "terminated"
}

// ErrClientInvalidState is returned in case of an invalid state.
type ErrClientInvalidState struct {
	AllowedList []string
	State       string
}

// Error implements the error interface.
func (e ErrClientInvalidState) Error() string {
	return fmt.Sprintf("must be in state %v, while is in state %v",
		e.AllowedList, e.State)
}

// ErrClientSessionHeaderInvalid is returned in case of an invalid session header.
type ErrClientSessionHeaderInvalid struct {
	Err error
}

// Error implements the error interface.
func (e ErrClientSessionHeaderInvalid) Error() string {
	return fmt.Sprintf("invalid session header: %v", e.Err)
}

// ErrClientSessionMismatch is returned when the server changes the session ID
// of an established session.
type ErrClientSessionMismatch struct {
	Expected string
	Got      string
}

// Error implements the error interface.
func (e ErrClientSessionMismatch) Error() string {
	return fmt.Sprintf("server changed session ID from '%s' to '%s'", e.Expected, e.Got)
}

// ErrClientContentTypeMissing is returned in case the Content-Type header is missing.
type ErrClientContentTypeMissing struct{}

// Error implements the error interface.
func (e ErrClientContentTypeMissing) Error() string {
	return "Content-Type header is missing"
}

// ErrClientContentTypeUnsupported is returned in case the Content-Type header is unsupported.
type ErrClientContentTypeUnsupported struct {
	CT base.HeaderValue
}

// Error implements the error interface.
func (e ErrClientContentTypeUnsupported) Error() string {
	return fmt.Sprintf("unsupported Content-Type header '%v'", e.CT)
}

// ErrClientTransportHeaderInvalid is returned in case the transport header is invalid.
type ErrClientTransportHeaderInvalid struct {
	Err error
}

// Error implements the error interface.
func (e ErrClientTransportHeaderInvalid) Error() string {
	return fmt.Sprintf("invalid transport header: %v", e.Err)
}

// ErrClientTransportHeaderNoInterleavedIDs is returned in case the transport header doesn't contain interleaved IDs.
type ErrClientTransportHeaderNoInterleavedIDs struct{}

// Error implements the error interface.
func (e ErrClientTransportHeaderNoInterleavedIDs) Error() string {
	return "transport header does not contain interleaved IDs"
}

// ErrClientTransportHeaderInvalidInterleavedIDs is returned in case of invalid interleaved IDs.
type ErrClientTransportHeaderInvalidInterleavedIDs struct{}

// Error implements the error interface.
func (e ErrClientTransportHeaderInvalidInterleavedIDs) Error() string {
	return "invalid interleaved IDs"
}

// ErrClientTransportHeaderInterleavedIDsInUse is returned in case the interleaved IDs are already in use.
type ErrClientTransportHeaderInterleavedIDsInUse struct{}

// Error implements the error interface.
func (e ErrClientTransportHeaderInterleavedIDsInUse) Error() string {
	return "interleaved IDs already used"
}

// ErrClientServerPortsNotProvided is returned in case the server ports have not been provided.
type ErrClientServerPortsNotProvided struct{}

// Error implements the error interface.
func (e ErrClientServerPortsNotProvided) Error() string {
	return "server ports have not been provided. Use AnyPortEnable to communicate with this server"
}

// ErrClientTransportHeaderInvalidDelivery is returned in case the transport header has an invalid delivery method.
type ErrClientTransportHeaderInvalidDelivery struct{}

// Error implements the error interface.
func (e ErrClientTransportHeaderInvalidDelivery) Error() string {
	return "transport header contains an invalid delivery value"
}

// ErrClientTransportHeaderNoDestination is returned in case the multicast destination is missing.
type ErrClientTransportHeaderNoDestination struct{}

// Error implements the error interface.
func (e ErrClientTransportHeaderNoDestination) Error() string {
	return "transport header does not contain a destination"
}

// ErrClientTransportHeaderNoPorts is returned in case the multicast ports are missing.
type ErrClientTransportHeaderNoPorts struct{}

// Error implements the error interface.
func (e ErrClientTransportHeaderNoPorts) Error() string {
	return "transport header does not contain ports"
}

// ErrClientNoTransportAvailable is returned when no transport candidate is accepted by the server.
type ErrClientNoTransportAvailable struct {
	MediaIndex int
}

// Error implements the error interface.
func (e ErrClientNoTransportAvailable) Error() string {
	return fmt.Sprintf("server rejected all transports for media %d", e.MediaIndex)
}

// ErrClientMediaIndexInvalid is returned when a media index is out of range.
type ErrClientMediaIndexInvalid struct {
	MediaIndex int
}

// Error implements the error interface.
func (e ErrClientMediaIndexInvalid) Error() string {
	return fmt.Sprintf("invalid media index: %d", e.MediaIndex)
}

// ErrClientMediaAlreadySetup is returned when a media has already been set up.
type ErrClientMediaAlreadySetup struct {
	MediaIndex int
}

// Error implements the error interface.
func (e ErrClientMediaAlreadySetup) Error() string {
	return fmt.Sprintf("media %d has already been set up", e.MediaIndex)
}

// ErrClientNotBackChannel is returned when writing to a media that is not a back channel.
type ErrClientNotBackChannel struct {
	MediaIndex int
}

// Error implements the error interface.
func (e ErrClientNotBackChannel) Error() string {
	return fmt.Sprintf("media %d is not a back channel", e.MediaIndex)
}

// ErrClientRTPInfoInvalid is returned in case of an invalid RTP-Info.
type ErrClientRTPInfoInvalid struct {
	Err error
}

// Error implements the error interface.
func (e ErrClientRTPInfoInvalid) Error() string {
	return fmt.Sprintf("invalid RTP-Info: %v", e.Err)
}

// ErrClientNoUDPPacketsInAWhile is returned when no UDP packets have been received in a while.
type ErrClientNoUDPPacketsInAWhile struct{}

// Error implements the error interface.
func (e ErrClientNoUDPPacketsInAWhile) Error() string {
	return "no UDP packets received in a while"
}

// ErrClientNoPacketsInAWhile is returned when no packets have been received before ReadTimeout.
type ErrClientNoPacketsInAWhile struct {
	Timeout time.Duration
}

// Error implements the error interface.
func (e ErrClientNoPacketsInAWhile) Error() string {
	return fmt.Sprintf("no packets received in %v", e.Timeout)
}

// ErrClientTooManyDecodeErrors is returned when a media keeps failing decoding.
type ErrClientTooManyDecodeErrors struct {
	MediaIndex int
	Count      int
	Last       error
}

// Error implements the error interface.
func (e ErrClientTooManyDecodeErrors) Error() string {
	return fmt.Sprintf("media %d: %d consecutive decode errors, last: %v", e.MediaIndex, e.Count, e.Last)
}

// Unwrap returns the last decode error.
func (e ErrClientTooManyDecodeErrors) Unwrap() error {
	return e.Last
}

// ErrClientUnhandledRedirect is returned when a redirect can't be followed.
type ErrClientUnhandledRedirect struct {
	Location string
}

// Error implements the error interface.
func (e ErrClientUnhandledRedirect) Error() string {
	return fmt.Sprintf("redirect to '%s' not followed", e.Location)
}
