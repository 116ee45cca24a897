package verify

import (
	"strings"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const helloSHA256 = "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824"

func TestChecksum(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/data/hello.txt", []byte("hello"), 0o644))

	sum, err := New(fs).Checksum("/data/hello.txt")
	require.NoError(t, err)
	assert.Equal(t, helloSHA256, sum)
	assert.Equal(t, helloSHA256, Sum([]byte("hello")))
}

func TestChecksumMissing(t *testing.T) {
	_, err := New(afero.NewMemMapFs()).Checksum("/nope")
	assert.Error(t, err)
}

func TestVerify(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/hello.txt", []byte("hello"), 0o644))
	v := New(fs)

	assert.True(t, v.Verify("/hello.txt", helloSHA256))
	assert.True(t, v.Verify("/hello.txt", strings.ToUpper(helloSHA256)))
	assert.False(t, v.Verify("/hello.txt", Sum([]byte("other"))))
	assert.False(t, v.Verify("/missing.txt", helloSHA256))
	assert.False(t, v.Verify("/hello.txt", ""))
}

func TestVerifyIdempotent(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/a.bin", []byte("payload"), 0o644))
	v := New(fs)
	want := Sum([]byte("payload"))

	for i := 0; i < 5; i++ {
		assert.True(t, v.Verify("/a.bin", want))
		assert.False(t, v.Verify("/a.bin", helloSHA256))
	}
}
