package manifest

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode(t *testing.T) {
	doc := `{
  "version": "2.1.0",
  "files": [
    {"name": "bin/game.exe", "checksum": "AA", "size": 10, "compressed_checksum": "bb"},
    {"name": "paks/common.rpak", "checksum": "cc", "size": 20}
  ]
}`
	m, err := Decode(strings.NewReader(doc))
	require.NoError(t, err)

	assert.Equal(t, "2.1.0", m.Version)
	assert.Equal(t, 2, m.Len())
	assert.Equal(t, []string{"bin/game.exe", "paks/common.rpak"}, m.Names())
	assert.Equal(t, int64(30), m.TotalSize())
	assert.Equal(t, "bin/game.exe.zst", m.Files[0].Object())
	assert.Equal(t, "bb", m.Files[0].CompressedChecksum)
}

func TestDecodeInvalidJSON(t *testing.T) {
	_, err := Decode(strings.NewReader(`{"files": [`))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		files   []Entry
		wantErr error
	}{
		{"valid", []Entry{{Name: "a"}, {Name: "dir/b"}}, nil},
		{"duplicate", []Entry{{Name: "a"}, {Name: "a"}}, ErrDuplicateName},
		{"empty name", []Entry{{Name: ""}}, ErrUnsafePath},
		{"absolute", []Entry{{Name: "/etc/passwd"}}, ErrUnsafePath},
		{"parent escape", []Entry{{Name: "../outside"}}, ErrUnsafePath},
		{"nested escape", []Entry{{Name: "a/../../outside"}}, ErrUnsafePath},
		{"backslash", []Entry{{Name: `a\..\..\b`}}, ErrUnsafePath},
		{"dot", []Entry{{Name: "."}}, ErrUnsafePath},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := &Manifest{Files: tt.files}
			err := m.Validate()
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
		})
	}
}

func TestSubset(t *testing.T) {
	m := &Manifest{Version: "1", Files: []Entry{{Name: "a"}, {Name: "b"}, {Name: "c"}}}

	sub, err := m.Subset([]string{"c", "a", "a"})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "c"}, sub.Names())
	assert.Equal(t, "1", sub.Version)

	_, err = m.Subset([]string{"a", "zzz"})
	assert.ErrorIs(t, err, ErrUnknownName)
}

func TestResolve(t *testing.T) {
	root := t.TempDir()

	p, err := Resolve(root, "dir/file.bin")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "dir", "file.bin"), p)

	_, err = Resolve(root, "../escape")
	assert.ErrorIs(t, err, ErrUnsafePath)
}
