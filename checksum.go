package warden

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/zeebo/blake3"
)

// checksumPrefix marks stored checksums with the hash algorithm so the
// format can evolve without guessing.
const checksumPrefix = "blake3:"

// Checksum computes the content-addressed integrity hash of plugin
// source. Deterministic: identical bytes yield identical checksums.
func Checksum(source []byte) string {
	sum := blake3.Sum256(source)
	return checksumPrefix + hex.EncodeToString(sum[:])
}

// ParseChecksum validates a stored checksum string and returns the raw
// digest bytes.
func ParseChecksum(s string) ([]byte, error) {
	rest, ok := strings.CutPrefix(s, checksumPrefix)
	if !ok {
		return nil, fmt.Errorf("checksum %q: unknown format", s)
	}
	digest, err := hex.DecodeString(rest)
	if err != nil {
		return nil, fmt.Errorf("checksum %q: %w", s, err)
	}
	if len(digest) != 32 {
		return nil, fmt.Errorf("checksum %q: digest is %d bytes, want 32", s, len(digest))
	}
	return digest, nil
}

// VerifyChecksum reports whether source still matches the checksum
// recorded at validation time.
func VerifyChecksum(source []byte, want string) bool {
	return Checksum(source) == want
}
