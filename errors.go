package authcore

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrUnauthorized covers every authentication failure: unknown user,
	// wrong password, invalid or revoked token, fingerprint mismatch.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrConflict is returned when an email, workspace slug or external
	// identity is already taken.
	ErrConflict = errors.New("conflict")
	// ErrBadRequest is returned for malformed input, password policy
	// violations and unusable reset tokens.
	ErrBadRequest = errors.New("bad request")
	// ErrRateLimited is matched by every *RateLimitedError.
	ErrRateLimited = errors.New("rate limited")
	// ErrUnavailable wraps record store and Redis failures.
	ErrUnavailable = errors.New("backend unavailable")
	// ErrSessionNotFound is returned by RevokeSession for unknown ids.
	ErrSessionNotFound = errors.New("session not found")
	// ErrEngineNotReady is returned when a required collaborator is missing.
	ErrEngineNotReady = errors.New("engine not initialized")
)

// RateLimitedError reports a denied request together with the time the
// caller should wait before retrying.
type RateLimitedError struct {
	Category   string
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited: retry after %s", e.RetryAfter.Round(time.Second))
}

// Is makes errors.Is(err, ErrRateLimited) hold for every RateLimitedError.
func (e *RateLimitedError) Is(target error) bool {
	return target == ErrRateLimited
}

func unavailable(err error) error {
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}
