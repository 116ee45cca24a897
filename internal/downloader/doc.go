// Package downloader synchronizes a local directory with a manifest.
//
// Each manifest entry is fetched as "<name>.zst" from a [source.Source],
// streamed to an intermediate file next to its destination, then decoded in
// place. Transfers run in parallel behind a counting gate and share a single
// bandwidth limiter.
//
// # Usage
//
//	dl := downloader.New(src, afero.NewOsFs(), ratelimit.New(0), log)
//	res, err := dl.Synchronize(ctx, m, "/srv/assets", downloader.Options{
//	    Concurrency:   16,
//	    CheckExisting: true,
//	    Progress:      reporter,
//	})
//
// # Failures
//
// Network errors and stalls are retried under Options.DownloadRetry, decoder
// errors under Options.DecompressRetry. A file that exhausts its retries is
// recorded in [Downloader.BadFiles] and in Result.Failed; its siblings keep
// going. Synchronize itself only fails on invalid arguments or when ctx is
// cancelled.
//
// # Cleanup
//
// The intermediate ".zst" file is removed once a transfer finishes, whether
// it succeeded or not, and the gate slot is always released.
package downloader
