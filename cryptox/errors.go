package cryptox

import "errors"

var (
	// ErrIntegrity is returned when an encrypted blob fails authentication:
	// wrong master secret or tampered bytes. Never retry on it.
	ErrIntegrity = errors.New("cryptox: integrity check failed")
	// ErrFormat is returned when an encrypted blob cannot be decoded or is
	// too short to contain every segment.
	ErrFormat = errors.New("cryptox: malformed encrypted blob")
	// ErrEmptySecret is returned when Encrypt or Decrypt receive no master secret.
	ErrEmptySecret = errors.New("cryptox: empty master secret")
	// ErrPasswordTooLong is returned by Hash for inputs bcrypt would truncate.
	ErrPasswordTooLong = errors.New("cryptox: password exceeds 72 bytes")
)
