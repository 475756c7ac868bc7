package device

import "errors"

// Domain errors for the device package.
//
// These errors can be checked using errors.Is() for error handling:
//
//	if errors.Is(err, device.ErrDeviceNotFound) {
//	    // handle not found case
//	}
var (
	// ErrDeviceNotFound is returned when a device ID does not exist in
	// the registry.
	ErrDeviceNotFound = errors.New("device: not found")

	// ErrUnsupportedCapability is returned when a capability is absent
	// from a device's capability set or is read-only.
	ErrUnsupportedCapability = errors.New("device: unsupported capability")

	// ErrValueRejected is returned when a value fails the capability's
	// type or range constraints.
	ErrValueRejected = errors.New("device: value rejected")
)
