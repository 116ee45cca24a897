package downloader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"golang.org/x/sync/semaphore"

	"github.com/ligustah/assetsync/internal/progress"
	"github.com/ligustah/assetsync/internal/ratelimit"
	"github.com/ligustah/assetsync/internal/retry"
	"github.com/ligustah/assetsync/internal/source"
	"github.com/ligustah/assetsync/internal/verify"
	"github.com/ligustah/assetsync/pkg/manifest"
)

var (
	// ErrNoManifest is returned when no manifest was given or recorded.
	ErrNoManifest = errors.New("downloader: no manifest")

	// ErrNoTarget is returned for an empty target directory.
	ErrNoTarget = errors.New("downloader: target directory not set")

	// ErrNotDirectory is returned when the target exists but is a file.
	ErrNotDirectory = errors.New("downloader: target is not a directory")
)

// Options configures a synchronization run.
type Options struct {
	// Concurrency is the number of transfers allowed in flight.
	// Default: 16
	Concurrency int

	// BandwidthLimit caps aggregate throughput in bytes per second.
	// Zero means unlimited.
	BandwidthLimit int64

	// CheckExisting skips the download when a verified intermediate
	// file is already present.
	CheckExisting bool

	// ChunkSize is the read size for network copies.
	// Default: 64 KiB
	ChunkSize int

	// StallTimeout aborts a transfer attempt that receives no bytes
	// for this long.
	// Default: 30s
	StallTimeout time.Duration

	// ProgressInterval bounds how often byte progress is published.
	// Default: 200ms
	ProgressInterval time.Duration

	// DownloadRetry governs network attempts.
	// Default: retry.DownloadPolicy()
	DownloadRetry retry.Policy

	// DecompressRetry governs decode attempts.
	// Default: retry.DecompressPolicy()
	DecompressRetry retry.Policy

	// Progress receives transfer events.
	Progress progress.Sink
}

func (o Options) withDefaults() Options {
	if o.Concurrency <= 0 {
		o.Concurrency = 16
	}
	if o.BandwidthLimit < 0 {
		o.BandwidthLimit = 0
	}
	if o.ChunkSize <= 0 {
		o.ChunkSize = 64 * 1024
	}
	if o.StallTimeout <= 0 {
		o.StallTimeout = 30 * time.Second
	}
	if o.ProgressInterval <= 0 {
		o.ProgressInterval = 200 * time.Millisecond
	}
	if o.DownloadRetry.Attempts == 0 {
		o.DownloadRetry = retry.DownloadPolicy()
	}
	if o.DecompressRetry.Attempts == 0 {
		o.DecompressRetry = retry.DecompressPolicy()
	}
	if o.Progress == nil {
		o.Progress = progress.Discard
	}
	return o
}

// Result lists the outcome of every manifest entry in a run, in manifest
// order. Each name appears in exactly one list.
type Result struct {
	Succeeded []string
	Failed    []string
}

// OK reports whether every entry succeeded.
func (r *Result) OK() bool {
	return len(r.Failed) == 0
}

// BadFileSet is a concurrency-safe set of file names that failed.
type BadFileSet struct {
	mu    sync.Mutex
	names map[string]struct{}
}

// Add records name.
func (s *BadFileSet) Add(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.names == nil {
		s.names = make(map[string]struct{})
	}
	s.names[name] = struct{}{}
}

// Contains reports whether name is recorded.
func (s *BadFileSet) Contains(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.names[name]
	return ok
}

// Len returns the number of recorded names.
func (s *BadFileSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.names)
}

// Names returns the recorded names sorted.
func (s *BadFileSet) Names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.names))
	for name := range s.names {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Clear removes every name.
func (s *BadFileSet) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	clear(s.names)
}

// Downloader fetches manifest entries from a source into a directory.
// A Downloader may be reused for several runs but runs must not overlap.
type Downloader struct {
	src      source.Source
	fs       afero.Fs
	limiter  *ratelimit.Limiter
	log      logrus.FieldLogger
	verifier *verify.Verifier

	mu   sync.Mutex
	last *manifest.Manifest
	bad  BadFileSet
}

// New returns a Downloader. A nil limiter means unlimited and a nil log
// discards output.
func New(src source.Source, fs afero.Fs, limiter *ratelimit.Limiter, log logrus.FieldLogger) *Downloader {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	if limiter == nil {
		limiter = ratelimit.New(0)
	}
	if log == nil {
		l := logrus.New()
		l.Out = io.Discard
		log = l
	}
	return &Downloader{
		src:      src,
		fs:       fs,
		limiter:  limiter,
		log:      log,
		verifier: verify.New(fs),
	}
}

// BadFiles returns the files that failed in the most recent run.
func (d *Downloader) BadFiles() *BadFileSet {
	return &d.bad
}

// Manifest returns the most recently synchronized manifest, or nil.
func (d *Downloader) Manifest() *manifest.Manifest {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.last
}

// SetManifest records m as the most recent manifest without running.
func (d *Downloader) SetManifest(m *manifest.Manifest) {
	d.mu.Lock()
	d.last = m
	d.mu.Unlock()
}

// Synchronize brings every entry of m into targetDir.
//
// Per-file failures are reported in the Result and BadFiles, not as an
// error. The error is non-nil only for invalid arguments or when ctx is
// done; in the latter case the partial Result is returned too.
func (d *Downloader) Synchronize(ctx context.Context, m *manifest.Manifest, targetDir string, opts Options) (*Result, error) {
	if m == nil {
		return nil, ErrNoManifest
	}
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("downloader: %w", err)
	}
	d.SetManifest(m)
	return d.run(ctx, m, targetDir, opts)
}

// SynchronizeSubset runs Synchronize over the named entries of the most
// recent manifest.
func (d *Downloader) SynchronizeSubset(ctx context.Context, names []string, targetDir string, opts Options) (*Result, error) {
	m := d.Manifest()
	if m == nil {
		return nil, ErrNoManifest
	}
	sub, err := m.Subset(names)
	if err != nil {
		return nil, fmt.Errorf("downloader: %w", err)
	}
	return d.run(ctx, sub, targetDir, opts)
}

func (d *Downloader) run(ctx context.Context, m *manifest.Manifest, targetDir string, opts Options) (*Result, error) {
	if err := d.prepareTarget(targetDir); err != nil {
		return nil, err
	}

	opts = opts.withDefaults()
	d.limiter.Configure(opts.BandwidthLimit)
	d.bad.Clear()

	gate := semaphore.NewWeighted(int64(opts.Concurrency))
	ok := make([]bool, m.Len())

	d.log.WithFields(logrus.Fields{
		"files":       m.Len(),
		"target":      targetDir,
		"concurrency": opts.Concurrency,
	}).Debug("synchronizing")

	var wg sync.WaitGroup
	for i, entry := range m.Files {
		i, entry := i, entry
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok[i] = d.transfer(ctx, gate, entry, targetDir, opts) == nil
		}()
	}
	wg.Wait()

	res := &Result{}
	for i, entry := range m.Files {
		if ok[i] {
			res.Succeeded = append(res.Succeeded, entry.Name)
		} else {
			res.Failed = append(res.Failed, entry.Name)
		}
	}

	if err := ctx.Err(); err != nil {
		return res, err
	}
	return res, nil
}

func (d *Downloader) prepareTarget(targetDir string) error {
	if targetDir == "" {
		return ErrNoTarget
	}
	fi, err := d.fs.Stat(targetDir)
	switch {
	case err == nil && !fi.IsDir():
		return fmt.Errorf("%w: %s", ErrNotDirectory, targetDir)
	case err == nil:
		return nil
	case !errors.Is(err, os.ErrNotExist):
		return fmt.Errorf("downloader: stat target: %w", err)
	}
	if err := d.fs.MkdirAll(targetDir, 0o755); err != nil {
		return fmt.Errorf("downloader: create target: %w", err)
	}
	return nil
}
