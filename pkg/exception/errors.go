package exception

import "errors"

// Event processing errors
var (
	// ErrMalformedEvent marks a payload that failed validation. The event is dropped.
	ErrMalformedEvent = errors.New("malformed event")
	// ErrCacheUnavailable marks a metric store that can no longer serve operations.
	ErrCacheUnavailable = errors.New("cache unavailable")
	// ErrPersistence marks a failed durable transaction. Nothing from it was committed.
	ErrPersistence = errors.New("persistence failure")
	// ErrRollup marks a failed hourly aggregate recompute.
	ErrRollup = errors.New("rollup failure")
)

// General errors
var (
	ErrInvalidArgument = errors.New("invalid argument")
)
