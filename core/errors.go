package core

import "errors"

var (
	// ErrUnknownUser means a user id that had to exist did not. It signals an
	// integration bug and is never retried.
	ErrUnknownUser = errors.New("unknown user id")
	// ErrInvalidInput is returned for malformed input, such as account info
	// without any identity field.
	ErrInvalidInput = errors.New("invalid input")
	// ErrInputUserNotLinked is returned when unlinking a user that is not part
	// of any primary user.
	ErrInputUserNotLinked = errors.New("input user is not linked to a primary user")
	// ErrBackend wraps storage and transport failures.
	ErrBackend = errors.New("core backend unavailable")
)
