// Package cryptox holds the cryptographic primitives used by authcore:
// bcrypt password hashing, authenticated at-rest encryption of sensitive
// fields, and random token generation.
//
// Encrypted blobs are self-describing: base64(salt ‖ iv ‖ tag ‖ ciphertext)
// with a 64-byte PBKDF2 salt and a 16-byte GCM nonce, so a blob can be
// decrypted with nothing but the master secret it was sealed with.
package cryptox
