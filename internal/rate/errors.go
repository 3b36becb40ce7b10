package rate

import "errors"

var (
	// ErrUnavailable wraps counter store failures, including timeouts.
	ErrUnavailable = errors.New("rate limit store unavailable")
	// ErrUnknownAction is returned for an action class with no policy.
	ErrUnknownAction = errors.New("unknown rate limit action")
)
