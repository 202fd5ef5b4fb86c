package cryptox

import "golang.org/x/crypto/bcrypt"

const maxPasswordBytes = 72

// Hash returns a salted bcrypt hash of password at the configured cost.
// Passwords are hashed byte-for-byte; no Unicode normalization is applied.
func (c *Cipher) Hash(password string) (string, error) {
	if len(password) > maxPasswordBytes {
		return "", ErrPasswordTooLong
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), c.config.BcryptCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// Verify reports whether password matches hash. A malformed hash never matches.
func (c *Cipher) Verify(password, hash string) bool {
	if hash == "" {
		return false
	}
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	return err == nil
}

// NeedsRehash reports whether hash was produced with a lower cost than the
// one currently configured.
func (c *Cipher) NeedsRehash(hash string) bool {
	cost, err := bcrypt.Cost([]byte(hash))
	if err != nil {
		return false
	}
	return cost < c.config.BcryptCost
}
