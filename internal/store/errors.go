package store

import "errors"

// Domain-specific errors for the persisted store.
var (
	// ErrVersionTooNew is returned when a file was written by a newer major version.
	ErrVersionTooNew = errors.New("store: file version is newer than supported")

	// ErrKeyMismatch is returned when a file belongs to another store key.
	ErrKeyMismatch = errors.New("store: file key does not match store")
)
