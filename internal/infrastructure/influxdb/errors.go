package influxdb

import "errors"

// Errors returned by the client. Write failures arrive asynchronously
// through the SetOnError callback, wrapped in ErrWriteFailed.
var (
	// ErrDisabled is returned by Connect when influxdb.enabled is false.
	// Callers treat it as "no telemetry", not as a failure.
	ErrDisabled = errors.New("influxdb: disabled in configuration")

	// ErrConnectionFailed wraps the ping error of Connect.
	ErrConnectionFailed = errors.New("influxdb: connection failed")

	// ErrNotConnected is returned by HealthCheck after Close.
	ErrNotConnected = errors.New("influxdb: not connected")

	// ErrWriteFailed wraps batched write errors passed to the error callback.
	ErrWriteFailed = errors.New("influxdb: write failed")
)
