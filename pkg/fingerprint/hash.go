package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"io"

	"github.com/fontsync/fontsync/pkg/errors"
)

// hashBufferSize is the size of the read buffer used while hashing. Memory
// use stays bounded no matter how large the font file is.
const hashBufferSize = 8192

// HashFile returns the lowercase hex sha256 digest of the file at the given
// path, reading it in fixed-size chunks.
func HashFile(path string) (string, error) {
	f, err := fs.Open(path)
	if err != nil {
		return "", errors.WithContext(err, "open")
	}
	defer f.Close()

	hasher := sha256.New()
	buf := make([]byte, hashBufferSize)
	if _, err := io.CopyBuffer(hasher, f, buf); err != nil {
		return "", errors.WithContext(err, "read")
	}

	return hex.EncodeToString(hasher.Sum(nil)), nil
}

// HashBytes returns the lowercase hex sha256 digest of the given bytes.
func HashBytes(data []byte) string {
	digest := sha256.Sum256(data)
	return hex.EncodeToString(digest[:])
}
