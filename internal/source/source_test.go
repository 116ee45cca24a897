package source

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocloud.dev/blob"
	_ "gocloud.dev/blob/memblob"

	assethttp "github.com/ligustah/assetsync/internal/http"
	"github.com/ligustah/assetsync/internal/retry"
)

const manifestDoc = `{"version": "3", "files": [{"name": "a/b.bin", "checksum": "00", "size": 3}]}`

func fastPolicy() retry.Policy {
	return retry.Policy{Attempts: 3, Unit: time.Millisecond, Retryable: []retry.Kind{retry.Network}}
}

func TestHTTPSourceOpen(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/game/a/b%20c.bin.zst" && r.URL.Path != "/game/a/b c.bin.zst" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte("abc"))
	}))
	defer server.Close()

	src := NewHTTP(server.URL+"/game/", assethttp.DefaultOptions())
	obj, err := src.Open(context.Background(), "a/b c.bin.zst")
	require.NoError(t, err)
	defer obj.Body.Close()

	body, err := io.ReadAll(obj.Body)
	require.NoError(t, err)
	assert.Equal(t, "abc", string(body))
	assert.Equal(t, int64(3), obj.Size)

	_, err = src.Open(context.Background(), "missing.zst")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, retry.Permanent, retry.KindOf(err))
}

func TestBucketSourceOpen(t *testing.T) {
	ctx := context.Background()
	bucket, err := blob.OpenBucket(ctx, "mem://")
	require.NoError(t, err)
	defer bucket.Close()
	require.NoError(t, bucket.WriteAll(ctx, "dir/file.zst", []byte("hello"), nil))

	src := NewBucket(bucket)
	obj, err := src.Open(ctx, "dir/file.zst")
	require.NoError(t, err)
	body, err := io.ReadAll(obj.Body)
	obj.Body.Close()
	require.NoError(t, err)
	assert.Equal(t, "hello", string(body))
	assert.Equal(t, int64(5), obj.Size)

	_, err = src.Open(ctx, "dir/nope.zst")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, src.Close())
}

func TestOpenByScheme(t *testing.T) {
	ctx := context.Background()

	src, err := Open(ctx, "mem://", assethttp.DefaultOptions())
	require.NoError(t, err)
	assert.IsType(t, &BucketSource{}, src)
	assert.NoError(t, src.Close())

	src, err = Open(ctx, "https://cdn.example.com/game", assethttp.DefaultOptions())
	require.NoError(t, err)
	assert.IsType(t, &HTTPSource{}, src)
	assert.Equal(t, "https://cdn.example.com/game", src.String())

	_, err = Open(ctx, "no-scheme/path", assethttp.DefaultOptions())
	assert.Error(t, err)
}

func TestFetchManifestRetries(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(manifestDoc))
	}))
	defer server.Close()

	m, err := FetchManifest(context.Background(), NewHTTP(server.URL, assethttp.DefaultOptions()), "checksums.json", fastPolicy())
	require.NoError(t, err)
	assert.Equal(t, "3", m.Version)
	assert.Equal(t, []string{"a/b.bin"}, m.Names())
	assert.Equal(t, int32(2), hits.Load())
}

func TestFetchManifestInvalid(t *testing.T) {
	ctx := context.Background()
	bucket, err := blob.OpenBucket(ctx, "mem://")
	require.NoError(t, err)
	defer bucket.Close()
	require.NoError(t, bucket.WriteAll(ctx, "checksums.json", []byte(`{"files":[{"name":"../x"}]}`), nil))

	_, err = FetchManifest(ctx, NewBucket(bucket), "checksums.json", fastPolicy())
	assert.Error(t, err)
}
