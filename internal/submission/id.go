package submission

import (
	"crypto/rand"
)

const idAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// NewID returns a random 16-character alphanumeric submission identifier.
// No library in the dependency pack produces exactly this format (a plain
// alphanumeric string, not a UUID or ULID), so this draws directly from
// crypto/rand rather than reaching for a general-purpose ID library.
func NewID() string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		panic("submission: crypto/rand unavailable: " + err.Error())
	}
	out := make([]byte, 16)
	for i, b := range buf {
		out[i] = idAlphabet[int(b)%len(idAlphabet)]
	}
	return string(out)
}
