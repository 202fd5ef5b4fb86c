package session

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// FingerprintLength is the number of hex characters kept from the digest.
const FingerprintLength = 32

// Entry is the server-side record of one refresh token.
type Entry struct {
	// ID is the SHA-256 hex of the refresh token. It is the Redis key
	// suffix and is not part of the encoded payload.
	ID          string
	UserID      string
	Fingerprint string
	// Client holds the caller address and user agent, sealed at rest.
	Client string

	CreatedAt    int64
	LastActiveAt int64
	ExpiresAt    int64
}

// Expired reports whether the entry's absolute lifetime has passed.
func (e *Entry) Expired(now time.Time) bool {
	return now.Unix() >= e.ExpiresAt
}

// Fingerprint derives the device fingerprint bound to a refresh token from
// the caller address and user agent. It is one-way and truncated.
func Fingerprint(ip, userAgent string) string {
	sum := sha256.Sum256([]byte(ip + "|" + userAgent))
	return hex.EncodeToString(sum[:])[:FingerprintLength]
}
