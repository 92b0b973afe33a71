package device

import "errors"

// Domain errors for the device package.
//
// These errors can be checked using errors.Is() for error handling:
//
//	if errors.Is(err, device.ErrSnapshotStore) {
//	    // start cold
//	}
var (
	// ErrInvalidIdentity is returned for malformed legacy identity patterns.
	ErrInvalidIdentity = errors.New("device: invalid identity pattern")

	// ErrSnapshotStore wraps failures of the warm-start snapshot store.
	ErrSnapshotStore = errors.New("device: snapshot store")

	// ErrNotFound is returned when a command targets a device the hub has
	// never seen.
	ErrNotFound = errors.New("device: not found")

	// ErrInputNotFound is returned when a device declares no matching input.
	ErrInputNotFound = errors.New("device: input not found")

	// ErrInvalidInput is returned for an input value or mapping that cannot
	// be turned into a state property.
	ErrInvalidInput = errors.New("device: invalid input")
)
