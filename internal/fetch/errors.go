package fetch

import "errors"

// Domain errors for fetch operations.
var (
	// ErrCacheIncomplete is returned when the persisted cache lacks the
	// profile or its devices.
	ErrCacheIncomplete = errors.New("fetch: cache incomplete")

	// ErrCacheUnsupported is returned when an order asks for the cache
	// during credential validation.
	ErrCacheUnsupported = errors.New("fetch: cache not supported during config")

	// ErrNoProfile is returned when no profile id is known.
	ErrNoProfile = errors.New("fetch: no profile")
)
