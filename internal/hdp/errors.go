package hdp

import "errors"

// Domain-specific errors for HDP decoding.
// They are carried inside ParseError rather than returned.
var (
	// ErrUnknownTopic is reported for topics outside the HDP channels.
	ErrUnknownTopic = errors.New("hdp: unknown topic")

	// ErrInvalidPayload is reported for payloads that are not valid JSON
	// objects of the expected shape.
	ErrInvalidPayload = errors.New("hdp: invalid payload")

	// ErrMissingDeviceID is reported when neither the topic nor the payload
	// names a device.
	ErrMissingDeviceID = errors.New("hdp: missing device id")

	// ErrMissingCorrelation is reported for command results without a
	// correlation id.
	ErrMissingCorrelation = errors.New("hdp: missing correlation id")
)
