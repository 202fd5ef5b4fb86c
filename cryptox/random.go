package cryptox

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
)

// RandomToken returns byteLength bytes from crypto/rand, hex encoded.
func RandomToken(byteLength int) (string, error) {
	if byteLength <= 0 {
		return "", errors.New("cryptox: token length must be positive")
	}
	buf := make([]byte, byteLength)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

// HashToken returns the SHA-256 digest of token, hex encoded. Bearer
// secrets are persisted only in this form.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
