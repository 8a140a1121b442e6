package device

import "errors"

// Domain errors for the device package.
//
//	if errors.Is(err, device.ErrValidation) {
//	    // reject locally, never reaches the vendor
//	}
var (
	// ErrDeviceNotFound is returned when a device ID is not in the registry.
	ErrDeviceNotFound = errors.New("device: not found")

	// ErrValidation is returned when a command value is malformed or out of range.
	ErrValidation = errors.New("device: invalid value")

	// ErrUnsupportedAttribute is returned for attributes the device's
	// capability set does not allow, or that do not exist.
	ErrUnsupportedAttribute = errors.New("device: unsupported attribute")

	// ErrReadOnlyAttribute is returned when commanding a sensor attribute.
	ErrReadOnlyAttribute = errors.New("device: read-only attribute")
)
