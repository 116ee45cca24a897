//go:build integration

// Package testutils provides shared test infrastructure for integration tests.
package testutils

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"gocloud.dev/blob"

	"github.com/ligustah/assetsync/internal/verify"
	"github.com/ligustah/assetsync/pkg/manifest"
)

// TestFile is one asset of a generated fixture.
type TestFile struct {
	Name string
	Size int64
	Data []byte
}

// Fixture is a published manifest together with its compressed objects,
// keyed by object name.
type Fixture struct {
	Manifest *manifest.Manifest
	Objects  map[string][]byte
	Files    []TestFile
}

// GenerateTestData generates test data of the given size.
// For files <= 10MB, uses deterministic pattern. For larger files, uses random data.
func GenerateTestData(t *testing.T, size int64) []byte {
	t.Helper()
	data := make([]byte, size)
	if size <= 10*1024*1024 {
		for i := range data {
			data[i] = byte(i % 251)
		}
	} else {
		if _, err := rand.Read(data); err != nil {
			t.Fatalf("generate random data: %v", err)
		}
	}
	return data
}

// BuildFixture compresses files, filling in missing data, and builds the
// matching manifest. The manifest itself is stored under manifestName.
func BuildFixture(t *testing.T, version, manifestName string, files []TestFile) *Fixture {
	t.Helper()

	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		t.Fatalf("create encoder: %v", err)
	}
	defer enc.Close()

	fx := &Fixture{
		Manifest: &manifest.Manifest{Version: version},
		Objects:  make(map[string][]byte),
	}
	for _, f := range files {
		if f.Data == nil {
			f.Data = GenerateTestData(t, f.Size)
		}
		packed := enc.EncodeAll(f.Data, nil)
		entry := manifest.Entry{
			Name:               f.Name,
			Checksum:           verify.Sum(f.Data),
			Size:               int64(len(packed)),
			CompressedChecksum: verify.Sum(packed),
		}
		fx.Manifest.Files = append(fx.Manifest.Files, entry)
		fx.Objects[entry.Object()] = packed
		fx.Files = append(fx.Files, f)
	}

	doc, err := json.Marshal(fx.Manifest)
	if err != nil {
		t.Fatalf("encode manifest: %v", err)
	}
	fx.Objects[manifestName] = doc
	return fx
}

// Upload writes every fixture object to bucket.
func (fx *Fixture) Upload(ctx context.Context, t *testing.T, bucket *blob.Bucket) {
	t.Helper()
	for key, data := range fx.Objects {
		if err := bucket.WriteAll(ctx, key, data, nil); err != nil {
			t.Fatalf("upload %s: %v", key, err)
		}
	}
}

// AssetServer serves fixture objects over HTTP and can inject failures.
type AssetServer struct {
	*httptest.Server

	mu       sync.Mutex
	failures map[string]int
	requests map[string]int
}

// StartAssetServer serves fx.Objects at "/<key>".
func StartAssetServer(t *testing.T, fx *Fixture) *AssetServer {
	t.Helper()

	s := &AssetServer{
		failures: make(map[string]int),
		requests: make(map[string]int),
	}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.URL.Path[1:]

		s.mu.Lock()
		s.requests[key]++
		fail := s.failures[key] > 0
		if fail {
			s.failures[key]--
		}
		s.mu.Unlock()

		if fail {
			http.Error(w, "try again", http.StatusServiceUnavailable)
			return
		}

		data, ok := fx.Objects[key]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Length", strconv.Itoa(len(data)))
		w.Write(data)
	}))
	t.Cleanup(s.Close)
	return s
}

// FailNext makes the next n requests for key answer 503.
func (s *AssetServer) FailNext(key string, n int) {
	s.mu.Lock()
	s.failures[key] = n
	s.mu.Unlock()
}

// Requests returns how often key was requested.
func (s *AssetServer) Requests(key string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests[key]
}

// MinioEnv contains connection information for a Minio test environment.
type MinioEnv struct {
	Container testcontainers.Container
	BucketURL string
	Endpoint  string
	AccessKey string
	SecretKey string
}

// Close terminates the Minio container.
func (e *MinioEnv) Close(ctx context.Context) error {
	if e.Container != nil {
		return e.Container.Terminate(ctx)
	}
	return nil
}

// OpenBucket opens a gocloud bucket connection to the Minio environment.
func (e *MinioEnv) OpenBucket(ctx context.Context) (*blob.Bucket, error) {
	return blob.OpenBucket(ctx, e.BucketURL)
}

// StartMinioContainer starts a Minio container with a pre-created bucket.
func StartMinioContainer(t *testing.T, ctx context.Context, bucketName string) *MinioEnv {
	t.Helper()

	const (
		accessKey = "minioadmin"
		secretKey = "minioadmin"
	)

	networkName := fmt.Sprintf("assetsync-test-net-%d", time.Now().UnixNano())
	network, err := testcontainers.GenericNetwork(ctx, testcontainers.GenericNetworkRequest{
		NetworkRequest: testcontainers.NetworkRequest{
			Name: networkName,
		},
	})
	if err != nil {
		t.Fatalf("create network: %v", err)
	}
	t.Cleanup(func() { network.Remove(ctx) })

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "minio/minio:latest",
			ExposedPorts: []string{"9000/tcp"},
			Networks:     []string{networkName},
			NetworkAliases: map[string][]string{
				networkName: {"minio"},
			},
			Env: map[string]string{
				"MINIO_ROOT_USER":     accessKey,
				"MINIO_ROOT_PASSWORD": secretKey,
			},
			Cmd:        []string{"server", "/data"},
			WaitingFor: wait.ForHTTP("/minio/health/ready").WithPort("9000"),
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("start minio container: %v", err)
	}

	createBucket(t, ctx, networkName, accessKey, secretKey, bucketName)

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("get container host: %v", err)
	}
	port, err := container.MappedPort(ctx, "9000")
	if err != nil {
		t.Fatalf("get container port: %v", err)
	}
	endpoint := fmt.Sprintf("%s:%s", host, port.Port())

	// gocloud's s3blob reads credentials from the environment.
	t.Setenv("AWS_ACCESS_KEY_ID", accessKey)
	t.Setenv("AWS_SECRET_ACCESS_KEY", secretKey)

	return &MinioEnv{
		Container: container,
		BucketURL: fmt.Sprintf("s3://%s?endpoint=http://%s&use_path_style=true&disable_https=true&region=us-east-1",
			bucketName, endpoint),
		Endpoint:  endpoint,
		AccessKey: accessKey,
		SecretKey: secretKey,
	}
}

// createBucket runs a short-lived minio/mc container that creates the bucket.
func createBucket(t *testing.T, ctx context.Context, networkName, accessKey, secretKey, bucketName string) {
	t.Helper()

	mc, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:      "minio/mc:latest",
			Networks:   []string{networkName},
			Entrypoint: []string{"/bin/sh", "-c"},
			Cmd: []string{
				fmt.Sprintf("/usr/bin/mc alias set local http://minio:9000 %s %s && /usr/bin/mc mb local/%s; exit 0",
					accessKey, secretKey, bucketName),
			},
			WaitingFor: wait.ForExit(),
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("start mc container: %v", err)
	}
	defer mc.Terminate(ctx)
}

// CompareFile compares the file at path with expected in 1 MiB chunks.
func CompareFile(t *testing.T, path string, expected []byte) {
	t.Helper()

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open %s: %v", path, err)
	}
	defer f.Close()

	buf := make([]byte, 1024*1024)
	offset := 0
	for {
		n, err := f.Read(buf)
		if n > 0 {
			if offset+n > len(expected) {
				t.Fatalf("%s: longer than expected (%d bytes)", path, len(expected))
			}
			if !bytes.Equal(buf[:n], expected[offset:offset+n]) {
				t.Fatalf("%s: data mismatch at offset %d", path, offset)
			}
			offset += n
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("%s: read error at offset %d: %v", path, offset, err)
		}
	}
	if offset != len(expected) {
		t.Fatalf("%s: got %d bytes, want %d", path, offset, len(expected))
	}
}
