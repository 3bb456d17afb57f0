// Package sha256 provides the digest used to name screenshot artifacts.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/JakeFAU/web-research-pipeline/internal/research"
)

// Hasher implements research.Hasher using SHA-256.
type Hasher struct{}

var _ research.Hasher = (*Hasher)(nil)

// New returns a SHA-256 hasher.
func New() *Hasher {
	return &Hasher{}
}

// Hash hashes the input and returns a hex digest.
func (h *Hasher) Hash(data []byte) (string, error) {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
