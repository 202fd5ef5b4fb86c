package rate

import "errors"

var (
	// ErrRedisUnavailable wraps Redis failures from non-fail-open calls.
	ErrRedisUnavailable = errors.New("redis unavailable")
	// ErrInvalidPolicy is returned by Policy.Validate.
	ErrInvalidPolicy = errors.New("invalid rate limit policy")
)
