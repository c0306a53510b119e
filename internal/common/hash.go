package common

import (
	"crypto/sha256"
	"encoding/hex"
)

// Sha256Hex returns the lowercase hex SHA-256 digest of input. Used for
// idempotency keys and webhook payload fingerprints.
func Sha256Hex(input string) string {
	sum := sha256.Sum256([]byte(input))
	return hex.EncodeToString(sum[:])
}
