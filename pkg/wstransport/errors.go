package wstransport

import "errors"

// Common errors for the wstransport package.
var (
	// ErrConnectionClosed indicates the connection is closed.
	ErrConnectionClosed = errors.New("connection closed")
	// ErrSendQueueFull indicates the outbound queue is full. The bridge keeps
	// the message and resends it on the next retransmit request.
	ErrSendQueueFull = errors.New("send queue full")
	// ErrNoURL indicates a client was created without a URL.
	ErrNoURL = errors.New("observer URL is required")
)
