package mqtt

import "errors"

// Domain-specific errors for MQTT operations.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrNotConnected is returned when publishing on a connection that is not connected.
	ErrNotConnected = errors.New("mqtt: client not connected")

	// ErrConnectionFailed wraps handshake and dial failures.
	ErrConnectionFailed = errors.New("mqtt: connection failed")

	// ErrPublishFailed is returned when a publish operation fails.
	ErrPublishFailed = errors.New("mqtt: publish failed")

	// ErrSubscribeFailed is returned when a subscribe operation fails.
	ErrSubscribeFailed = errors.New("mqtt: subscribe failed")

	// ErrUnsubscribeFailed is returned when an unsubscribe operation fails.
	ErrUnsubscribeFailed = errors.New("mqtt: unsubscribe failed")

	// ErrInvalidTopic is returned when an empty topic, or a topic containing
	// wildcards, is used for publishing.
	ErrInvalidTopic = errors.New("mqtt: invalid topic")

	// ErrInvalidFilter is returned when a subscription filter places a
	// wildcard incorrectly (e.g. "a/#/b" or "a/b+").
	ErrInvalidFilter = errors.New("mqtt: invalid topic filter")

	// ErrClosed is returned by operations on a connection after Close.
	ErrClosed = errors.New("mqtt: connection closed")
)
