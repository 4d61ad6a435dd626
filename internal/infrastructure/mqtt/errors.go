package mqtt

import "errors"

// Sentinel errors; match with errors.Is.
var (
	// ErrNotConnected means the broker session is down. The mirror reports
	// it and the event is not retried.
	ErrNotConnected = errors.New("mqtt: not connected to broker")

	// ErrConnectionFailed wraps failures of the initial Connect.
	ErrConnectionFailed = errors.New("mqtt: connecting to broker failed")

	// ErrPublishFailed wraps timeouts, oversized payloads and broker
	// rejections.
	ErrPublishFailed = errors.New("mqtt: publish failed")

	// ErrInvalidQoS rejects levels other than 0, 1 and 2.
	ErrInvalidQoS = errors.New("mqtt: QoS must be 0, 1 or 2")

	// ErrInvalidTopic rejects an empty topic.
	ErrInvalidTopic = errors.New("mqtt: empty topic")
)
