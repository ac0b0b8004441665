package mqtt

import "errors"

// Domain-specific errors for MQTT operations.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrNotConnected is returned when attempting operations on a disconnected client.
	ErrNotConnected = errors.New("mqtt: client not connected")

	// ErrConnectionFailed is returned when no CONNACK was received: the broker
	// was unreachable, refused the TCP connection, or did not answer in time.
	ErrConnectionFailed = errors.New("mqtt: connection failed")

	// ErrConnectionRefused is returned when the broker answered CONNECT with a
	// non-zero CONNACK return code.
	ErrConnectionRefused = errors.New("mqtt: connection refused by broker")

	// ErrPublishFailed is returned when a publish operation fails.
	ErrPublishFailed = errors.New("mqtt: publish failed")

	// ErrSubscribeFailed is returned when a subscribe operation fails.
	ErrSubscribeFailed = errors.New("mqtt: subscribe failed")

	// ErrInvalidQoS is returned when an invalid QoS level is specified.
	// Valid QoS levels are 0, 1, or 2.
	ErrInvalidQoS = errors.New("mqtt: invalid QoS level (must be 0, 1, or 2)")

	// ErrInvalidTopic is returned when a topic name is empty or contains wildcards.
	ErrInvalidTopic = errors.New("mqtt: invalid topic name")

	// ErrInvalidFilter is returned when a topic filter breaks the wildcard rules.
	ErrInvalidFilter = errors.New("mqtt: invalid topic filter")
)
