package cloud

import "errors"

// Domain errors for cloud operations.
var (
	// ErrConnect is returned when the cloud cannot be reached or answers
	// with a server error.
	ErrConnect = errors.New("cloud: connection failed")

	// ErrAuth is returned when the credentials or the session are rejected.
	ErrAuth = errors.New("cloud: authentication failed")

	// ErrResponse is returned when the cloud answers with an unexpected
	// status or a body that cannot be decoded.
	ErrResponse = errors.New("cloud: unexpected response")

	// ErrNotLoggedIn is returned by reads issued before a successful login.
	ErrNotLoggedIn = errors.New("cloud: not logged in")

	// ErrNoProfile is returned when the account has no profile.
	ErrNoProfile = errors.New("cloud: no profile")
)
