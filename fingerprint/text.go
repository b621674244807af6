package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// NormalizeText canonicalizes transcript text before hashing: leading and
// trailing whitespace trimmed, lowercased, runs of whitespace collapsed to a
// single space. This keeps trivial re-OCR noise (casing, spacing) from
// defeating duplicate detection; any other character difference still changes
// the fingerprint.
func NormalizeText(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// Text computes the exact fingerprint of transcript text: the SHA-256 digest
// of the normalized bytes, hex-encoded. Unlike the image fingerprint there is
// no tolerance; matching is exact.
func Text(s string) string {
	sum := sha256.Sum256([]byte(NormalizeText(s)))
	return hex.EncodeToString(sum[:])
}
