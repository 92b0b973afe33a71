package command

import "errors"

// Domain-specific errors for sending commands.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrNotConnected is returned when no broker connection is available.
	// The command was not sent.
	ErrNotConnected = errors.New("command: not connected")

	// ErrInvalidPayload is returned for an empty device id or patch.
	// The command was not sent.
	ErrInvalidPayload = errors.New("command: invalid payload")
)
