package hub

import "errors"

// Domain-specific errors for the hub.
var (
	// ErrNotStarted is returned by calls that need the event loop before Start.
	ErrNotStarted = errors.New("hub: not started")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("hub: closed")
)
