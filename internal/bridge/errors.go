package bridge

import "errors"

// Domain errors for the bridge package.
var (
	// ErrNotInitialized is returned when Send is called before a successful
	// Initialize.
	ErrNotInitialized = errors.New("bridge: not initialized")

	// ErrConnection is the class of connection failures. It wraps the
	// underlying protocol error.
	ErrConnection = errors.New("bridge: connection error")

	// ErrExhausted is returned once the consecutive failure bound has been
	// reached. It is always wrapped together with ErrConnection and is
	// permanent for the bridge instance.
	ErrExhausted = errors.New("bridge: connection retries exhausted")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("bridge: closed")
)
