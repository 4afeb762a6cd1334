package cec

import "errors"

var (
	// ErrUnsupportedPlatform is returned when the kernel CEC framework is not available
	ErrUnsupportedPlatform = errors.New("unsupported platform")

	// ErrAdapterCount is returned when zero or more than one adapter is detected
	ErrAdapterCount = errors.New("exactly one CEC adapter is required")

	// ErrConfigMismatch is returned when the adapter reports a configuration other than the one requested
	ErrConfigMismatch = errors.New("adapter configuration mismatch")

	// ErrNotClaimed is returned when the adapter has no logical address
	ErrNotClaimed = errors.New("no logical address claimed")

	// ErrNotAcknowledged is returned when a frame was not acknowledged by the destination
	ErrNotAcknowledged = errors.New("frame not acknowledged")

	// ErrNoReply is returned when a request did not receive the expected reply
	ErrNoReply = errors.New("no reply received")

	// ErrFrameTooLong is returned for commands that do not fit in a CEC frame
	ErrFrameTooLong = errors.New("frame exceeds 16 bytes")

	// ErrInvalidToken is returned by ParseCommand for malformed command strings
	ErrInvalidToken = errors.New("invalid command token")
)
