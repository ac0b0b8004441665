package subscriber

import "errors"

var (
	// ErrConnectionLost is returned by Run when the session drops and
	// automatic reconnection is disabled.
	ErrConnectionLost = errors.New("subscriber: connection lost")

	// ErrTopicMismatch is returned by OnMessage for a delivery whose topic
	// does not match the subscribed filter. Nothing is printed for it.
	ErrTopicMismatch = errors.New("subscriber: topic does not match filter")

	// ErrInvalidPayloadFormat is returned for an unknown payload format name.
	ErrInvalidPayloadFormat = errors.New("subscriber: invalid payload format")

	// ErrInvalidConfig is returned by New when the configuration is unusable.
	ErrInvalidConfig = errors.New("subscriber: invalid configuration")
)
