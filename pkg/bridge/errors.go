package bridge

import "errors"

// Common errors for the bridge package.
var (
	// ErrQueueFull indicates the unacknowledged queue is at capacity and the
	// overflow policy is OverflowReject.
	ErrQueueFull = errors.New("unacknowledged queue full")
	// ErrUnknownCodec indicates a codec name that is not registered.
	ErrUnknownCodec = errors.New("unknown codec")
	// ErrUnknownOverflow indicates an overflow policy name that is not known.
	ErrUnknownOverflow = errors.New("unknown overflow policy")
	// ErrNotConnected indicates there is no transport to send on.
	ErrNotConnected = errors.New("not connected")
)
