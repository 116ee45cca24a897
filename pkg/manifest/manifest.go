package manifest

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"
	"path/filepath"
	"strings"
)

// CompressedSuffix is appended to an entry name to form the remote object key
// and the local intermediate file name.
const CompressedSuffix = ".zst"

var (
	// ErrDuplicateName is returned when two entries share a name.
	ErrDuplicateName = errors.New("manifest: duplicate file name")

	// ErrUnsafePath is returned for names that are empty, absolute, or
	// escape the target directory.
	ErrUnsafePath = errors.New("manifest: unsafe file name")

	// ErrUnknownName is returned by Subset for names not in the manifest.
	ErrUnknownName = errors.New("manifest: unknown file name")
)

// Entry describes one synchronizable file.
type Entry struct {
	Name               string `json:"name"`
	Checksum           string `json:"checksum"`
	Size               int64  `json:"size"`
	CompressedChecksum string `json:"compressed_checksum,omitempty"`
}

// Object returns the remote object key holding the compressed asset.
func (e Entry) Object() string {
	return e.Name + CompressedSuffix
}

// Manifest is an ordered collection of entries scoped to one run.
type Manifest struct {
	Version string  `json:"version,omitempty"`
	Files   []Entry `json:"files"`
}

// Decode reads and validates a JSON manifest.
func Decode(r io.Reader) (*Manifest, error) {
	var m Manifest
	if err := json.NewDecoder(r).Decode(&m); err != nil {
		return nil, fmt.Errorf("manifest: decode: %w", err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Validate checks name uniqueness and that every name stays inside the root.
func (m *Manifest) Validate() error {
	seen := make(map[string]struct{}, len(m.Files))
	for _, e := range m.Files {
		if !IsSafeName(e.Name) {
			return fmt.Errorf("%w: %q", ErrUnsafePath, e.Name)
		}
		if _, dup := seen[e.Name]; dup {
			return fmt.Errorf("%w: %q", ErrDuplicateName, e.Name)
		}
		seen[e.Name] = struct{}{}
	}
	return nil
}

// Len returns the number of entries.
func (m *Manifest) Len() int {
	return len(m.Files)
}

// Names returns entry names in manifest order.
func (m *Manifest) Names() []string {
	names := make([]string, len(m.Files))
	for i, e := range m.Files {
		names[i] = e.Name
	}
	return names
}

// TotalSize returns the sum of compressed sizes.
func (m *Manifest) TotalSize() int64 {
	var total int64
	for _, e := range m.Files {
		total += e.Size
	}
	return total
}

// Subset returns a manifest restricted to names, preserving manifest order.
// Duplicate names are collapsed. Names missing from m yield ErrUnknownName.
func (m *Manifest) Subset(names []string) (*Manifest, error) {
	want := make(map[string]struct{}, len(names))
	for _, n := range names {
		want[n] = struct{}{}
	}

	sub := &Manifest{Version: m.Version}
	for _, e := range m.Files {
		if _, ok := want[e.Name]; ok {
			sub.Files = append(sub.Files, e)
			delete(want, e.Name)
		}
	}

	if len(want) > 0 {
		missing := make([]string, 0, len(want))
		for n := range want {
			missing = append(missing, n)
		}
		return nil, fmt.Errorf("%w: %s", ErrUnknownName, strings.Join(missing, ", "))
	}
	return sub, nil
}

// IsSafeName reports whether name is a non-empty relative path that stays
// inside the directory it is joined to.
func IsSafeName(name string) bool {
	if name == "" || strings.ContainsRune(name, '\\') || strings.ContainsRune(name, 0) {
		return false
	}
	if path.IsAbs(name) {
		return false
	}
	clean := path.Clean(name)
	if clean == "." {
		return false
	}
	return filepath.IsLocal(filepath.FromSlash(clean))
}

// Resolve joins name onto root, refusing names that escape it.
func Resolve(root, name string) (string, error) {
	if !IsSafeName(name) {
		return "", fmt.Errorf("%w: %q", ErrUnsafePath, name)
	}
	return filepath.Join(root, filepath.FromSlash(name)), nil
}
