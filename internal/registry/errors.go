package registry

import "errors"

var (
	// ErrNotFound is returned when a device or entity does not exist.
	ErrNotFound = errors.New("registry: not found")

	// ErrInvalid is returned when a device or entity lacks its identity.
	ErrInvalid = errors.New("registry: invalid entry")
)
