// Package verify computes and compares content checksums of local files.
package verify

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/afero"
)

// Verifier hashes files on a filesystem with SHA-256, the algorithm used by
// manifest checksums.
type Verifier struct {
	Fs afero.Fs
}

// New returns a Verifier for fs. A nil fs means the OS filesystem.
func New(fs afero.Fs) *Verifier {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return &Verifier{Fs: fs}
}

// Checksum returns the lowercase hex SHA-256 of the file at path.
func (v *Verifier) Checksum(path string) (string, error) {
	f, err := v.Fs.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("verify: hash %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Verify reports whether path exists and its checksum equals expected,
// ignoring hex case.
func (v *Verifier) Verify(path, expected string) bool {
	if expected == "" {
		return false
	}
	actual, err := v.Checksum(path)
	if err != nil {
		return false
	}
	return strings.EqualFold(actual, expected)
}

// Sum returns the lowercase hex SHA-256 of data.
func Sum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}
