package protocol

import "errors"

// Domain errors for the protocol package.
//
// ErrMalformed marks protocol errors that are never retried: the backend
// cannot express the command, or the device answered in a way that does not
// match it. ErrDisconnected and ErrTransport are connection-level failures.
var (
	// ErrDisconnected is returned when a command is sent on a backend that is
	// not connected.
	ErrDisconnected = errors.New("protocol: backend not connected")

	// ErrMalformed is returned when a command cannot be encoded for the
	// backend's wire format, or a reply does not match the command sent.
	ErrMalformed = errors.New("protocol: malformed command")

	// ErrTransport is returned when the link fails to carry a frame.
	ErrTransport = errors.New("protocol: transport failure")

	// ErrAckTimeout is returned when the device does not acknowledge a command
	// within the deadline. It is always wrapped together with ErrTransport.
	ErrAckTimeout = errors.New("protocol: acknowledgement timed out")

	// ErrDecodingFailed is returned when an inbound frame cannot be decoded.
	ErrDecodingFailed = errors.New("protocol: decoding failed")

	// ErrUnknownKind is returned when a backend kind is not recognised.
	ErrUnknownKind = errors.New("protocol: unknown backend kind")

	// ErrClosed is returned when a backend is used after Close.
	ErrClosed = errors.New("protocol: backend closed")
)

// IsConnectionError reports whether err is a connection-level failure that a
// caller may retry after reconnecting.
func IsConnectionError(err error) bool {
	return errors.Is(err, ErrDisconnected) || errors.Is(err, ErrTransport)
}
