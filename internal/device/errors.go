package device

import "errors"

// Domain errors for the device package.
//
// These errors can be checked using errors.Is() for error handling:
//
//	if errors.Is(err, device.ErrNotFound) {
//	    // handle not found case
//	}
var (
	// ErrNotFound is returned when a device ID does not exist.
	ErrNotFound = errors.New("device: not found")

	// ErrConcurrentModification is returned when a compare-and-swap fails
	// because the expected status or version does not match the stored
	// record. Callers must re-read and retry.
	ErrConcurrentModification = errors.New("device: concurrent modification")

	// ErrInvalidType is returned when a device type is not in the closed set.
	ErrInvalidType = errors.New("device: invalid type")

	// ErrInvalidTransition is returned when a pairing status change is not
	// allowed by the state machine.
	ErrInvalidTransition = errors.New("device: invalid pairing transition")

	// ErrInvalidRecord is returned when record validation fails.
	ErrInvalidRecord = errors.New("device: invalid record")
)
