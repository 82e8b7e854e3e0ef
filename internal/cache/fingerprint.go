package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"sort"
)

// Fingerprint computes the SHA-256 digest over a compile action's cache
// key inputs: the image reference, the command, every source file's
// content hash, the save list, and any extra discriminator. Each input is
// terminated by a NUL byte; inputs are not length-prefixed and the number
// of command and save entries is not encoded, so the digest does not
// record where the command list ends and the save list begins.
func Fingerprint(image string, command []string, sourceHashes map[string][]byte, saves []string, extra string) []byte {
	h := sha256.New()
	writeField(h, image)
	for _, c := range command {
		writeField(h, c)
	}

	names := make([]string, 0, len(sourceHashes))
	for name := range sourceHashes {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		writeField(h, name)
		h.Write(sourceHashes[name])
		h.Write([]byte{0})
	}

	savesCopy := append([]string(nil), saves...)
	sort.Strings(savesCopy)
	for _, s := range savesCopy {
		writeField(h, s)
	}
	writeField(h, extra)

	return h.Sum(nil)
}

func writeField(w io.Writer, s string) {
	w.Write([]byte(s))
	w.Write([]byte{0})
}

// HexKey renders a fingerprint as a cache key string.
func HexKey(fingerprint []byte) string {
	return hex.EncodeToString(fingerprint)
}
