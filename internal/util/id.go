package util

import (
	"crypto/rand"
	"encoding/hex"
)

// NewID returns a random 96-bit hex identifier, optionally prefixed
// ("rev_a1b2...") so ids are recognizable in logs and journals.
func NewID(prefix string) string {
	bytes := make([]byte, 12)
	_, _ = rand.Read(bytes)
	if prefix == "" {
		return hex.EncodeToString(bytes)
	}
	return prefix + "_" + hex.EncodeToString(bytes)
}
