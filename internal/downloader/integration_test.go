//go:build integration

package downloader_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	_ "gocloud.dev/blob/s3blob"

	"github.com/ligustah/assetsync/internal/downloader"
	assethttp "github.com/ligustah/assetsync/internal/http"
	"github.com/ligustah/assetsync/internal/ratelimit"
	"github.com/ligustah/assetsync/internal/retry"
	"github.com/ligustah/assetsync/internal/source"
	"github.com/ligustah/assetsync/internal/testutils"
)

var fixtureFiles = []testutils.TestFile{
	{Name: "tiny.bin", Size: 1024},
	{Name: "maps/small.bin", Size: 1024 * 1024},
	{Name: "maps/medium.bin", Size: 10 * 1024 * 1024},
	{Name: "video/large.bin", Size: 64 * 1024 * 1024},
}

func fastRetry() (retry.Policy, retry.Policy) {
	download := retry.DownloadPolicy()
	download.Unit = 10 * time.Millisecond
	decompress := retry.DecompressPolicy()
	decompress.Unit = 10 * time.Millisecond
	return download, decompress
}

func TestIntegrationSynchronizeFromMinio(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	fx := testutils.BuildFixture(t, "1.0.0", "checksums.json", fixtureFiles)

	t.Log("Starting Minio container...")
	minio := testutils.StartMinioContainer(t, ctx, "assets")
	defer func() {
		if err := minio.Close(ctx); err != nil {
			t.Logf("failed to terminate minio container: %v", err)
		}
	}()

	bucket, err := minio.OpenBucket(ctx)
	if err != nil {
		t.Fatalf("open bucket: %v", err)
	}
	fx.Upload(ctx, t, bucket)
	bucket.Close()

	src, err := source.Open(ctx, minio.BucketURL, assethttp.DefaultOptions())
	if err != nil {
		t.Fatalf("open source: %v", err)
	}
	defer src.Close()

	m, err := source.FetchManifest(ctx, src, "checksums.json", retry.DownloadPolicy())
	if err != nil {
		t.Fatalf("fetch manifest: %v", err)
	}

	target := t.TempDir()
	download, decompress := fastRetry()
	dl := downloader.New(src, afero.NewOsFs(), ratelimit.New(0), logrus.StandardLogger())
	res, err := dl.Synchronize(ctx, m, target, downloader.Options{
		Concurrency:     4,
		DownloadRetry:   download,
		DecompressRetry: decompress,
	})
	if err != nil {
		t.Fatalf("Synchronize: %v", err)
	}
	if !res.OK() {
		t.Fatalf("failed files: %v", res.Failed)
	}

	for _, f := range fx.Files {
		testutils.CompareFile(t, filepath.Join(target, filepath.FromSlash(f.Name)), f.Data)
	}
}

func TestIntegrationSynchronizeFlakyHTTP(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	fx := testutils.BuildFixture(t, "2", "checksums.json", fixtureFiles)
	server := testutils.StartAssetServer(t, fx)
	server.FailNext("maps/medium.bin.zst", 3)

	src := source.NewHTTP(server.URL, assethttp.DefaultOptions())
	target := t.TempDir()
	download, decompress := fastRetry()
	limit := int64(64 * 1024 * 1024)

	dl := downloader.New(src, afero.NewOsFs(), ratelimit.New(0), logrus.StandardLogger())
	start := time.Now()
	res, err := dl.Synchronize(ctx, fx.Manifest, target, downloader.Options{
		Concurrency:     3,
		BandwidthLimit:  limit,
		DownloadRetry:   download,
		DecompressRetry: decompress,
	})
	if err != nil {
		t.Fatalf("Synchronize: %v", err)
	}
	if !res.OK() {
		t.Fatalf("failed files: %v", res.Failed)
	}
	if got := server.Requests("maps/medium.bin.zst"); got != 4 {
		t.Errorf("expected 4 requests for the flaky object, got %d", got)
	}

	var total int64
	for _, e := range fx.Manifest.Files {
		total += e.Size
	}
	// Allow one chunk of slack on top of the configured rate.
	minDuration := time.Duration(float64(total-ratelimit.DefaultBurst) / float64(limit) * float64(time.Second))
	if elapsed := time.Since(start); minDuration > 0 && elapsed < minDuration {
		t.Errorf("finished in %v, faster than the %d B/s limit allows (%v)", elapsed, limit, minDuration)
	}

	for _, f := range fx.Files {
		testutils.CompareFile(t, filepath.Join(target, filepath.FromSlash(f.Name)), f.Data)
	}
}
