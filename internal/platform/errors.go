package platform

import "errors"

// Domain errors for the platform package.
var (
	// ErrUnknownDevice is returned when a command names a device that is not
	// configured.
	ErrUnknownDevice = errors.New("platform: unknown device")

	// ErrUnsupportedCommand is returned when the operation is not in the
	// vocabulary or the device's category cannot perform it.
	ErrUnsupportedCommand = errors.New("platform: command not supported by device")

	// ErrInvalidArgument is returned when a command's value is missing or of
	// the wrong type.
	ErrInvalidArgument = errors.New("platform: invalid command argument")

	// ErrMQTTRequired is returned when a device uses an MQTT link but no
	// broker connection was supplied.
	ErrMQTTRequired = errors.New("platform: mqtt link requires a broker connection")
)
