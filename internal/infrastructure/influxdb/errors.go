package influxdb

import "errors"

// Sentinel errors for the metrics client. Write failures are never returned
// to callers; they arrive through the callback registered with SetOnError.
var (
	// ErrDisabled is returned by Connect when metrics are turned off.
	ErrDisabled = errors.New("influxdb: disabled in configuration")

	// ErrConnectionFailed wraps a failed or unhealthy startup ping.
	ErrConnectionFailed = errors.New("influxdb: connection failed")

	// ErrNotConnected is returned by HealthCheck after Close or before a
	// successful Connect.
	ErrNotConnected = errors.New("influxdb: not connected")
)
