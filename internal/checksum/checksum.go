// Package checksum computes content-addressed identifiers.
package checksum

import (
	"crypto/sha256"
	"encoding/hex"
)

// Sum returns the hex-encoded SHA-256 digest of data.
func Sum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// SumString hashes the raw bytes of s. Attachment payloads are hashed in their
// base64 form, never decoded first.
func SumString(s string) string {
	return Sum([]byte(s))
}
