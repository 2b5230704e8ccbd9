package adapter

import "errors"

// Domain errors for the adapter package.
//
// Bridge and protocol errors are returned unchanged so callers can test them
// with errors.Is against the bridge and protocol sentinels.
var (
	// ErrBusy is returned when the adapter's command slot did not free up
	// before the caller's deadline.
	ErrBusy = errors.New("adapter: device busy")

	// ErrOutOfRange is a validation error for arguments outside the device's
	// configured range. Nothing is sent when it is returned.
	ErrOutOfRange = errors.New("adapter: value out of range")

	// ErrInvalidConfig is returned when an adapter is constructed with
	// missing or inconsistent settings.
	ErrInvalidConfig = errors.New("adapter: invalid configuration")
)

// IsValidation reports whether err was raised before any I/O because the
// request itself was invalid.
func IsValidation(err error) bool {
	return errors.Is(err, ErrOutOfRange)
}
