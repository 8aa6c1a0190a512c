package dispatch

import "errors"

var (
	// ErrDeliveryFailed wraps the transport error of a failed publish.
	ErrDeliveryFailed = errors.New("dispatch: delivery failed")

	// ErrQueueFull is returned when a device already has QueueSize commands waiting.
	ErrQueueFull = errors.New("dispatch: device queue full")

	// ErrClosed is returned by Send after Close.
	ErrClosed = errors.New("dispatch: publisher closed")
)
