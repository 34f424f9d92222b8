package backend

import "errors"

var (
	// ErrUnavailable is returned when the backend could not be reached or
	// the helper failed
	ErrUnavailable = errors.New("backend unavailable")
	// ErrTimeoutUnsupported is returned by helpers that reject a timeout argument
	ErrTimeoutUnsupported = errors.New("backend does not accept a timeout")
	ErrNoCommand          = errors.New("backend command is empty")
	ErrNoInterface        = errors.New("backend interface is empty")
	ErrMalformedReply     = errors.New("malformed backend reply")
)
