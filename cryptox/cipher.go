package cryptox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha512"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/crypto/pbkdf2"
)

const (
	// SaltLength is the PBKDF2 salt size prefixed to every blob.
	SaltLength = 64
	// IVLength is the GCM nonce size.
	IVLength = 16
	// TagLength is the GCM authentication tag size.
	TagLength = 16

	keyLength = 32

	// DefaultBcryptCost is used when Config.BcryptCost is zero.
	DefaultBcryptCost = 12
	// DefaultKDFIterations is the PBKDF2 work factor used when
	// Config.KDFIterations is zero.
	DefaultKDFIterations = 100_000
	minKDFIterations     = 1_000
)

// Config tunes the work factors. Zero values fall back to the defaults.
type Config struct {
	BcryptCost    int
	KDFIterations int
}

// Cipher hashes passwords and seals sensitive fields. It is stateless apart
// from its configuration and safe for concurrent use.
type Cipher struct {
	config Config
}

// DefaultConfig returns the production work factors.
func DefaultConfig() Config {
	return Config{
		BcryptCost:    DefaultBcryptCost,
		KDFIterations: DefaultKDFIterations,
	}
}

// New validates cfg and returns a Cipher.
func New(cfg Config) (*Cipher, error) {
	if cfg.BcryptCost == 0 {
		cfg.BcryptCost = DefaultBcryptCost
	}
	if cfg.KDFIterations == 0 {
		cfg.KDFIterations = DefaultKDFIterations
	}
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}
	return &Cipher{config: cfg}, nil
}

func validateConfig(cfg Config) error {
	if cfg.BcryptCost < bcrypt.MinCost || cfg.BcryptCost > bcrypt.MaxCost {
		return fmt.Errorf("cryptox: bcrypt cost must be within [%d,%d]", bcrypt.MinCost, bcrypt.MaxCost)
	}
	if cfg.KDFIterations < minKDFIterations {
		return fmt.Errorf("cryptox: kdf iterations must be >= %d", minKDFIterations)
	}
	return nil
}

// Config returns the effective configuration.
func (c *Cipher) Config() Config {
	return c.config
}

// Encrypt seals plaintext under a key derived from masterSecret and a fresh
// random salt. Two calls with identical input never produce the same blob.
func (c *Cipher) Encrypt(plaintext string, masterSecret []byte) (string, error) {
	if len(masterSecret) == 0 {
		return "", ErrEmptySecret
	}

	header := make([]byte, SaltLength+IVLength)
	if _, err := io.ReadFull(rand.Reader, header); err != nil {
		return "", err
	}
	salt := header[:SaltLength]
	iv := header[SaltLength:]

	aead, err := c.aead(masterSecret, salt)
	if err != nil {
		return "", err
	}

	// Seal appends the tag after the ciphertext; the blob stores it first.
	sealed := aead.Seal(nil, iv, []byte(plaintext), nil)
	ciphertext := sealed[:len(sealed)-TagLength]
	tag := sealed[len(sealed)-TagLength:]

	blob := make([]byte, 0, len(header)+len(sealed))
	blob = append(blob, header...)
	blob = append(blob, tag...)
	blob = append(blob, ciphertext...)

	return base64.StdEncoding.EncodeToString(blob), nil
}

// Decrypt reverses Encrypt. It returns ErrFormat for undecodable input and
// ErrIntegrity when the authentication tag does not verify.
func (c *Cipher) Decrypt(blob string, masterSecret []byte) (string, error) {
	if len(masterSecret) == 0 {
		return "", ErrEmptySecret
	}

	raw, err := base64.StdEncoding.DecodeString(blob)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrFormat, err)
	}
	if len(raw) < SaltLength+IVLength+TagLength {
		return "", ErrFormat
	}

	salt := raw[:SaltLength]
	iv := raw[SaltLength : SaltLength+IVLength]
	tag := raw[SaltLength+IVLength : SaltLength+IVLength+TagLength]
	ciphertext := raw[SaltLength+IVLength+TagLength:]

	aead, err := c.aead(masterSecret, salt)
	if err != nil {
		return "", err
	}

	sealed := make([]byte, 0, len(ciphertext)+TagLength)
	sealed = append(sealed, ciphertext...)
	sealed = append(sealed, tag...)

	plaintext, err := aead.Open(nil, iv, sealed, nil)
	if err != nil {
		return "", ErrIntegrity
	}
	return string(plaintext), nil
}

func (c *Cipher) aead(masterSecret, salt []byte) (cipher.AEAD, error) {
	key := pbkdf2.Key(masterSecret, salt, c.config.KDFIterations, keyLength, sha512.New)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCMWithNonceSize(block, IVLength)
	if err != nil {
		return nil, errors.Join(errors.New("cryptox: gcm init failed"), err)
	}
	return aead, nil
}
