package hub

import (
	"errors"
	"fmt"
)

// Registration and lookup errors.
var (
	// ErrDuplicateID is returned when a device ID is already registered.
	// The existing registration and its subscription are left untouched.
	ErrDuplicateID = errors.New("hub: device id already registered")

	// ErrInvalidDevice is returned when a registration request is incomplete
	// or inconsistent with its adapter.
	ErrInvalidDevice = errors.New("hub: invalid device")

	// ErrDeviceNotFound is returned when a device ID is not registered.
	ErrDeviceNotFound = errors.New("hub: device not found")
)

// RegistrationError reports a rejected registration. It unwraps to
// ErrDuplicateID or ErrInvalidDevice.
type RegistrationError struct {
	ID  string
	Err error
}

func (e *RegistrationError) Error() string {
	return fmt.Sprintf("registering %q: %v", e.ID, e.Err)
}

func (e *RegistrationError) Unwrap() error { return e.Err }
