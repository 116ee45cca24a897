// Package repair verifies a synchronized directory against its manifest and
// re-downloads whatever does not match, until the directory is clean or the
// attempt budget is spent.
//
// A run moves through these states:
//
//	Idle -> ComputingChecksums -> Diffing -> Clean
//	                                      -> Repairing -> ComputingChecksums ...
//	                                      -> Converged
//	                                      -> Exhausted
//
// Clean means nothing had to be repaired; Converged means at least one
// repair pass ran and the directory now matches.
package repair

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"

	"github.com/ligustah/assetsync/internal/downloader"
	"github.com/ligustah/assetsync/internal/verify"
	"github.com/ligustah/assetsync/pkg/manifest"
)

// State is a step of the repair state machine.
type State int

const (
	Idle State = iota
	ComputingChecksums
	Diffing
	Clean
	Repairing
	Converged
	Exhausted
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case ComputingChecksums:
		return "computing-checksums"
	case Diffing:
		return "diffing"
	case Clean:
		return "clean"
	case Repairing:
		return "repairing"
	case Converged:
		return "converged"
	case Exhausted:
		return "exhausted"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Terminal reports whether s ends a run.
func (s State) Terminal() bool {
	return s == Clean || s == Converged || s == Exhausted
}

// ExhaustedError is returned when files are still bad after the last
// repair pass.
type ExhaustedError struct {
	Attempts int
	Files    []string
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("repair: %d file(s) still invalid after %d attempts: %s",
		len(e.Files), e.Attempts, strings.Join(e.Files, ", "))
}

// Options configures a repair run.
type Options struct {
	// MaxAttempts bounds the number of repair passes.
	// Default: 5
	MaxAttempts int

	// Concurrency bounds parallel checksum computation.
	// Default: Download.Concurrency, or 16
	Concurrency int

	// Download configures the re-download passes. CheckExisting is
	// always disabled for them.
	Download downloader.Options

	// OnTransition observes every state change.
	OnTransition func(from, to State)
}

// Report summarizes a run.
type Report struct {
	State    State
	Attempts int      // repair passes run
	Repaired []string // files fixed by the repair passes
	BadFiles []string // files still invalid at the end, sorted
}

// Repairer drives the state machine over a Downloader.
type Repairer struct {
	dl       *downloader.Downloader
	fs       afero.Fs
	log      logrus.FieldLogger
	verifier *verify.Verifier
}

// New returns a Repairer. fs must be the filesystem dl writes to.
func New(dl *downloader.Downloader, fs afero.Fs, log logrus.FieldLogger) *Repairer {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	if log == nil {
		l := logrus.New()
		l.Out = io.Discard
		log = l
	}
	return &Repairer{dl: dl, fs: fs, log: log, verifier: verify.New(fs)}
}

type machine struct {
	state State
	hook  func(from, to State)
	log   logrus.FieldLogger
}

func (m *machine) to(s State) {
	from := m.state
	m.state = s
	m.log.WithFields(logrus.Fields{"from": from.String(), "state": s.String()}).Debug("repair transition")
	if m.hook != nil {
		m.hook(from, s)
	}
}

// Run verifies targetDir against m and repairs mismatches. When the
// attempts are spent the Report is returned with an *ExhaustedError.
func (r *Repairer) Run(ctx context.Context, m *manifest.Manifest, targetDir string, opts Options) (*Report, error) {
	if m == nil {
		return nil, downloader.ErrNoManifest
	}
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("repair: %w", err)
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 5
	}
	opts.Concurrency = r.concurrency(opts)
	opts.Download.CheckExisting = false

	r.dl.SetManifest(m)
	sm := &machine{state: Idle, hook: opts.OnTransition, log: r.log}
	report := &Report{}
	var firstBad []string

	for {
		sm.to(ComputingChecksums)
		sums, err := r.checksums(ctx, m, targetDir, opts.Concurrency)
		if err != nil {
			return nil, err
		}

		sm.to(Diffing)
		bad := diff(m, sums)
		if report.Attempts == 0 {
			firstBad = bad
		}

		if len(bad) == 0 {
			if report.Attempts == 0 {
				sm.to(Clean)
			} else {
				sm.to(Converged)
			}
			report.State = sm.state
			report.Repaired = firstBad
			r.log.WithFields(logrus.Fields{
				"state":    sm.state.String(),
				"attempts": report.Attempts,
				"repaired": len(firstBad),
			}).Info("repair finished")
			return report, nil
		}

		if report.Attempts >= opts.MaxAttempts {
			sm.to(Exhausted)
			report.State = Exhausted
			report.BadFiles = bad
			report.Repaired = subtract(firstBad, bad)
			r.log.WithFields(logrus.Fields{
				"attempts": report.Attempts,
				"count":    len(bad),
				"files":    strings.Join(bad, ", "),
			}).Error("repair exhausted")
			return report, &ExhaustedError{Attempts: report.Attempts, Files: bad}
		}

		sm.to(Repairing)
		report.Attempts++
		r.log.WithFields(logrus.Fields{"attempt": report.Attempts, "count": len(bad)}).Info("repairing files")

		if _, err := r.dl.SynchronizeSubset(ctx, bad, targetDir, opts.Download); err != nil {
			return nil, err
		}
	}
}

// Verify runs one checksum and diff pass and returns the invalid files
// sorted. It does not modify targetDir.
func (r *Repairer) Verify(ctx context.Context, m *manifest.Manifest, targetDir string, concurrency int) ([]string, error) {
	if m == nil {
		return nil, downloader.ErrNoManifest
	}
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("repair: %w", err)
	}
	if concurrency <= 0 {
		concurrency = 16
	}
	sums, err := r.checksums(ctx, m, targetDir, concurrency)
	if err != nil {
		return nil, err
	}
	return diff(m, sums), nil
}

func (r *Repairer) concurrency(opts Options) int {
	switch {
	case opts.Concurrency > 0:
		return opts.Concurrency
	case opts.Download.Concurrency > 0:
		return opts.Download.Concurrency
	default:
		return 16
	}
}

// checksums hashes every manifest file present under targetDir. Missing or
// unreadable files are absent from the result.
func (r *Repairer) checksums(ctx context.Context, m *manifest.Manifest, targetDir string, concurrency int) (map[string]string, error) {
	var (
		mu   sync.Mutex
		sums = make(map[string]string, m.Len())
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	for _, entry := range m.Files {
		entry := entry
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			path, err := manifest.Resolve(targetDir, entry.Name)
			if err != nil {
				return nil
			}
			sum, err := r.verifier.Checksum(path)
			if err != nil {
				if !errors.Is(err, os.ErrNotExist) {
					r.log.WithField("file", entry.Name).WithError(err).Warn("cannot hash file")
				}
				return nil
			}
			mu.Lock()
			sums[entry.Name] = sum
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return sums, nil
}

// diff returns the entries whose checksum is missing or different, sorted.
func diff(m *manifest.Manifest, sums map[string]string) []string {
	var bad []string
	for _, entry := range m.Files {
		sum, ok := sums[entry.Name]
		if !ok || !strings.EqualFold(sum, entry.Checksum) {
			bad = append(bad, entry.Name)
		}
	}
	slices.Sort(bad)
	return bad
}

func subtract(all, remove []string) []string {
	skip := make(map[string]bool, len(remove))
	for _, name := range remove {
		skip[name] = true
	}
	var out []string
	for _, name := range all {
		if !skip[name] {
			out = append(out, name)
		}
	}
	return out
}
