package utils // package utils provides helper functions for token creation and hashing

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"time"
)

// GenerateToken returns n bytes of cryptographically secure random data
// encoded as unpadded base64url.
func GenerateToken(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// HashToken returns the SHA-256 hash of a raw token as a hex string. Only
// this hash is ever persisted for API tokens, sessions and one-time links.
func HashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// ConstantTimeEqual compares two secrets without leaking where they differ.
func ConstantTimeEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// ExpiryAfterDays returns now+days in UTC, or nil when days <= 0 (no expiry).
func ExpiryAfterDays(now time.Time, days int) *time.Time {
	if days <= 0 {
		return nil
	}
	t := now.UTC().Add(time.Duration(days) * 24 * time.Hour)
	return &t
}

// IsExpired reports whether exp has been reached. A nil expiry never expires.
func IsExpired(exp *time.Time, now time.Time) bool {
	return exp != nil && !now.Before(*exp)
}
