// Package checksum computes the digests stored in install records.
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

// Part is one named input of a combined digest.
type Part struct {
	Name string
	Data []byte
}

// Combine digests an ordered list of parts. Names take part in the digest
// so that renaming or reordering extensions changes the result.
func Combine(parts ...Part) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(p.Name))
		h.Write([]byte{0})
		h.Write(p.Data)
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}
