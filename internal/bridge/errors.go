package bridge

import "errors"

// Use errors.Is() to check for these errors in calling code.
var (
	// ErrNotConnected is returned when publishing on a disconnected client.
	ErrNotConnected = errors.New("bridge: mqtt client not connected")

	// ErrConnectionFailed is returned when the broker cannot be reached.
	ErrConnectionFailed = errors.New("bridge: mqtt connection failed")

	// ErrPublishFailed is returned when a publish is rejected or times out.
	ErrPublishFailed = errors.New("bridge: publish failed")

	// ErrInvalidQoS is returned for QoS levels other than 0, 1 or 2.
	ErrInvalidQoS = errors.New("bridge: invalid QoS level (must be 0, 1, or 2)")

	// ErrInvalidTopic is returned for an empty topic.
	ErrInvalidTopic = errors.New("bridge: topic cannot be empty")

	// ErrNoDevice is returned when no device id can be determined.
	ErrNoDevice = errors.New("bridge: no device available")
)
