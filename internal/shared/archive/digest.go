package archive

import (
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/zeebo/blake3"
)

var ErrDigestMismatch = errors.New("digest mismatch")

// Digest returns the hex BLAKE3-256 digest of data.
func Digest(data []byte) string {
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Verify checks data against a digest produced by Digest. An empty digest
// is accepted.
func Verify(data []byte, digest string) error {
	if digest == "" {
		return nil
	}
	if got := Digest(data); got != digest {
		return &Error{Op: "verify", Path: digest, Err: fmt.Errorf("%w: got %s", ErrDigestMismatch, got)}
	}
	return nil
}
