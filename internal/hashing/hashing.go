package hashing

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
)

var sha256HexPattern = regexp.MustCompile("^[0-9a-f]{64}$")

// CalculateSHA256 returns the lowercase hex digest of the given bytes.
func CalculateSHA256(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// IsValidSHA256Hex reports whether s is exactly 64 lowercase hex characters.
func IsValidSHA256Hex(s string) bool {
	return sha256HexPattern.MatchString(s)
}
