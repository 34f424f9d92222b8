package service

import "errors"

var (
	// ErrInconclusive is returned by a presence cycle whose first discovery
	// failed or came back empty; the online set is left as it was
	ErrInconclusive = errors.New("discovery inconclusive")
	// ErrUnknownAdapter is returned for an adapter that was never discovered
	ErrUnknownAdapter = errors.New("unknown adapter")
	// ErrMalformedIdentityMap is returned by Load for a persisted map that
	// cannot be trusted
	ErrMalformedIdentityMap = errors.New("malformed identity map")
	// ErrPersist wraps a failure to save the identity map
	ErrPersist = errors.New("failed to persist identity map")
	// ErrNotLoaded is returned by registry calls made before Load
	ErrNotLoaded = errors.New("identity map not loaded")
)
