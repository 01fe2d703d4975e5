package sensors

import (
	"errors"
	"fmt"
)

// Errors returned by the registry, the scan loop and the drivers.
// Use errors.Is to check for them.
var (
	// ErrNotInitialized is returned by Register before Initialize was called.
	ErrNotInitialized = errors.New("sensors: registry not initialized")

	// ErrInvalidArgument is returned for a nil descriptor or one without a name or driver.
	ErrInvalidArgument = errors.New("sensors: invalid argument")

	// ErrDuplicateRegistration is returned when a descriptor or its name is already registered.
	ErrDuplicateRegistration = errors.New("sensors: duplicate registration")

	// ErrHardwareInit wraps a driver Init failure.
	ErrHardwareInit = errors.New("sensors: hardware init failed")

	// ErrReadTimeout is returned when a read does not complete in time.
	ErrReadTimeout = errors.New("sensors: read timeout")

	// ErrReadInProgress is returned when the previous read of a sensor has not returned yet.
	ErrReadInProgress = errors.New("sensors: previous read still in progress")

	// ErrDriverPanic wraps a panic recovered from a driver.
	ErrDriverPanic = errors.New("sensors: driver panic")

	// ErrOutOfRange is returned when a raw sample cannot be converted.
	ErrOutOfRange = errors.New("sensors: sample out of range")
)

// ReadError is the failure of a single sensor during a scan cycle.
type ReadError struct {
	Sensor string
	Err    error
}

func (e *ReadError) Error() string {
	return fmt.Sprintf("sensor %q: %v", e.Sensor, e.Err)
}

func (e *ReadError) Unwrap() error {
	return e.Err
}
