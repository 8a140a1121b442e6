package daikin

import (
	"errors"

	"github.com/nerrad567/godaikin-mqtt/internal/audit"
	"github.com/nerrad567/godaikin-mqtt/internal/cloud"
	"github.com/nerrad567/godaikin-mqtt/internal/device"
)

var (
	// ErrUnknownDevice is returned for commands addressed to a device the
	// registry does not hold.
	ErrUnknownDevice = errors.New("daikin: unknown device")

	// ErrInvalidTopic is returned for command topics that do not match
	// <prefix>/<id>/<attribute>/set.
	ErrInvalidTopic = errors.New("daikin: invalid command topic")

	// ErrNotStarted is returned by Refresh before Start.
	ErrNotStarted = errors.New("daikin: bridge not started")

	// ErrCycleTimeout is returned when a cycle's vendor calls outlast the
	// refresh interval.
	ErrCycleTimeout = errors.New("daikin: cycle exceeded refresh interval")
)

// IsValidation reports whether err was rejected locally, before any vendor
// call.
func IsValidation(err error) bool {
	return errors.Is(err, device.ErrValidation) ||
		errors.Is(err, device.ErrUnsupportedAttribute) ||
		errors.Is(err, device.ErrReadOnlyAttribute) ||
		errors.Is(err, ErrUnknownDevice)
}

// outcome maps a command error to its audit outcome.
func outcome(err error) string {
	switch {
	case err == nil:
		return audit.OutcomeOK
	case errors.Is(err, ErrUnknownDevice), errors.Is(err, cloud.ErrNotFound):
		return audit.OutcomeNotFound
	case IsValidation(err):
		return audit.OutcomeInvalid
	case errors.Is(err, cloud.ErrRejected):
		return audit.OutcomeRejected
	case errors.Is(err, cloud.ErrTransient):
		return audit.OutcomeTransient
	case errors.Is(err, cloud.ErrAuth):
		return audit.OutcomeAuth
	default:
		return audit.OutcomeError
	}
}

// errorClass labels a vendor read failure for metrics.
func errorClass(err error) string {
	switch {
	case errors.Is(err, cloud.ErrAuth):
		return "auth"
	case errors.Is(err, cloud.ErrTransient):
		return "transient"
	case errors.Is(err, cloud.ErrRejected):
		return "rejected"
	case errors.Is(err, cloud.ErrNotFound):
		return "not_found"
	default:
		return "other"
	}
}
