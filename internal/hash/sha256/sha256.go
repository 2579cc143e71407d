// Package sha256 fingerprints rendered page content.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Hasher implements crawler.Hasher using SHA-256.
type Hasher struct {
	// Normalize collapses whitespace before hashing so reflowed markdown
	// keeps its digest.
	Normalize bool
}

// New returns a SHA-256 hasher that hashes input verbatim.
func New() *Hasher {
	return &Hasher{}
}

// Hash returns the hex digest of data.
func (h *Hasher) Hash(data []byte) (string, error) {
	if h.Normalize {
		data = []byte(strings.Join(strings.Fields(string(data)), " "))
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
