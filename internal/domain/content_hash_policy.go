package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// ContentHashPolicy computes the content_hash column for a chunk.
// Equal page content (after trimming) always yields the same hash.
type ContentHashPolicy interface {
	Compute(pageContent string) string
}

type contentHashPolicy struct{}

// NewContentHashPolicy creates the default SHA-256 ContentHashPolicy.
func NewContentHashPolicy() ContentHashPolicy {
	return &contentHashPolicy{}
}

// Compute returns the hex SHA-256 of the trimmed content.
func (p *contentHashPolicy) Compute(pageContent string) string {
	hash := sha256.Sum256([]byte(strings.TrimSpace(pageContent)))
	return hex.EncodeToString(hash[:])
}
