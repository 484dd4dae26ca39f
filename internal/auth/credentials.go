// Package auth implements the share credential service: bearer token
// generation, password hashing, and constant-time verification.
package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
)

const tokenBytes = 32

// GenerateToken returns a new high-entropy bearer token: 32 bytes from
// crypto/rand, hex-encoded so it is safe to embed in a URL path.
func GenerateToken() (string, error) {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("crypto/rand: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// HashPassword derives the stored digest for a share password. The share
// session id acts as a per-session salt, so the same password on two shares
// yields two different digests. The plaintext is never stored or logged.
func HashPassword(password, sessionID string) string {
	sum := sha256.Sum256([]byte(password + sessionID))
	return hex.EncodeToString(sum[:])
}

// ConstantTimeEq compares two strings without leaking where they first
// differ. Unequal lengths return false immediately; equal-length inputs are
// always compared in full.
func ConstantTimeEq(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// ValidatePassword recomputes the digest for the provided password and
// compares it against the expected hash in constant time.
func ValidatePassword(provided, sessionID, expectedHash string) bool {
	return ConstantTimeEq(HashPassword(provided, sessionID), expectedHash)
}
