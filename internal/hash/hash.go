// Package hash computes deterministic content hashes used for change
// detection. Two observations of an item compare equal iff their normalized
// text hashes are equal.
package hash

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Content returns the hex-encoded SHA-256 of the normalized text.
func Content(text string) string {
	sum := sha256.Sum256([]byte(Normalize(text)))
	return hex.EncodeToString(sum[:])
}

// Normalize canonicalizes line endings and strips leading/trailing
// whitespace so cosmetic differences don't register as content changes.
func Normalize(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")

	lines := strings.Split(text, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimRight(l, " \t")
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}
