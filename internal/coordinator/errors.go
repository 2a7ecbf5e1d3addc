package coordinator

import "errors"

var (
	// ErrClosed is returned for requests to a coordinator that has stopped.
	ErrClosed = errors.New("coordinator: closed")

	// ErrQueueFull is returned when a task cannot be queued.
	ErrQueueFull = errors.New("coordinator: task queue full")

	// ErrUnknownProfile is returned when no coordinator runs for a profile.
	ErrUnknownProfile = errors.New("coordinator: unknown profile")
)
