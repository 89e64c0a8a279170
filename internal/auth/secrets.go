// ABOUTME: Opaque secret generation and fingerprinting
// ABOUTME: Secrets are 32 random bytes; only SHA-256 fingerprints are ever stored

package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
)

const secretBytes = 32

// NewSecret generates a new opaque secret: 32 bytes of randomness encoded as
// unpadded base64url. Used for bearer tokens, session cookies, and
// registration links alike.
func NewSecret() (string, error) {
	buf := make([]byte, secretBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating secret: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// Fingerprint returns the storage key for a secret: the base64url-encoded
// SHA-256 of the plaintext. Deterministic so the database can look up a
// presented secret directly; the 256 bits of entropy in the secret make
// per-secret salting unnecessary.
func Fingerprint(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}
