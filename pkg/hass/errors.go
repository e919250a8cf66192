package hass

import (
	"errors"
	"fmt"
)

// Sentinel errors for gateway operations.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrAuthenticationFailed is matched by every *AuthError.
	ErrAuthenticationFailed = errors.New("hass: authentication failed")

	// ErrNotAuthenticated is returned when a command is issued before the
	// handshake has completed.
	ErrNotAuthenticated = errors.New("hass: not authenticated")

	// ErrGateway is matched by every *GatewayError.
	ErrGateway = errors.New("hass: gateway returned an error")

	// ErrUnexpectedPayload is returned when a well-formed response has the
	// wrong shape for the request, e.g. a pong where a result was expected.
	ErrUnexpectedPayload = errors.New("hass: unexpected payload")

	// ErrEncode is returned when a command cannot be serialised. Only the
	// caller that issued it is affected.
	ErrEncode = errors.New("hass: unable to encode command")

	// ErrDecode is returned when a frame or result cannot be deserialised.
	ErrDecode = errors.New("hass: unable to decode payload")

	// ErrTransportClosed is returned to every outstanding caller when the
	// connection is closed.
	ErrTransportClosed = errors.New("hass: connection closed")

	// ErrTransport is matched by every *TransportError.
	ErrTransport = errors.New("hass: transport error")

	// ErrUnknownSubscription is returned by Unsubscribe for an identifier
	// that is not in the subscription table.
	ErrUnknownSubscription = errors.New("hass: unknown subscription")

	// ErrDuplicateID is returned when an identifier is registered twice.
	ErrDuplicateID = errors.New("hass: duplicate message id")
)

// AuthError is returned when the gateway rejects the access token or the
// handshake is violated.
type AuthError struct {
	Message string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("hass: authentication failed: %s", e.Message)
}

// Unwrap lets errors.Is(err, ErrAuthenticationFailed) match.
func (e *AuthError) Unwrap() error {
	return ErrAuthenticationFailed
}

// GatewayError is a well-formed result frame with success=false.
// The command it answers was not executed.
type GatewayError struct {
	ID      uint64
	Code    string
	Message string
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("hass: gateway error %s (id %d): %s", e.Code, e.ID, e.Message)
}

// Unwrap lets errors.Is(err, ErrGateway) match.
func (e *GatewayError) Unwrap() error {
	return ErrGateway
}

// TransportError is a connection-level failure. It is fatal to the Client.
type TransportError struct {
	Op  string // "read" or "write"
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("hass: transport %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying transport error.
func (e *TransportError) Unwrap() error {
	return e.Err
}

// Is matches ErrTransport.
func (e *TransportError) Is(target error) bool {
	return target == ErrTransport
}
