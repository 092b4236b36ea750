// Package auth holds helpers for the shared internal secret.
package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"strings"
)

// HashKey returns the hex SHA-256 of the trimmed key.
func HashKey(key string) string {
	key = strings.TrimSpace(key)

	hash := sha256.Sum256([]byte(key))
	return hex.EncodeToString(hash[:])
}

// Matcher checks presented bearer tokens against one secret. Digests are
// compared so the comparison time does not depend on the secret's length.
type Matcher struct {
	digest []byte
}

// NewMatcher hashes secret once.
func NewMatcher(secret string) *Matcher {
	return &Matcher{digest: []byte(HashKey(secret))}
}

// Match reports whether token equals the secret.
func (m *Matcher) Match(token string) bool {
	return subtle.ConstantTimeCompare([]byte(HashKey(token)), m.digest) == 1
}
