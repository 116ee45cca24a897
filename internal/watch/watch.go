// Package watch polls a source for new manifest versions and repairs the
// local directory whenever the published version changes.
package watch

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/hashicorp/go-version"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"

	"github.com/ligustah/assetsync/internal/repair"
	"github.com/ligustah/assetsync/internal/retry"
	"github.com/ligustah/assetsync/internal/source"
)

// Options configures a Watcher.
type Options struct {
	// Interval between polls.
	// Default: 5m
	Interval time.Duration

	// Manifest is the object name of the manifest.
	// Default: checksums.json
	Manifest string

	// Fetch governs manifest fetch retries within one poll.
	// Default: 3 attempts retrying network errors
	Fetch retry.Policy

	// Repair configures the repair pass run on a version change.
	Repair repair.Options

	// Clock drives the poll ticker.
	// Default: real clock
	Clock clockwork.Clock

	// OnApplied is called after a version has been applied.
	OnApplied func(version string, report *repair.Report)
}

// Watcher applies new manifest versions to a directory.
type Watcher struct {
	src    source.Source
	rep    *repair.Repairer
	target string
	log    logrus.FieldLogger
	opts   Options

	mu      sync.Mutex
	applied string
}

// New returns a Watcher that keeps target in sync with src.
func New(src source.Source, rep *repair.Repairer, target string, log logrus.FieldLogger, opts Options) *Watcher {
	if opts.Interval <= 0 {
		opts.Interval = 5 * time.Minute
	}
	if opts.Manifest == "" {
		opts.Manifest = "checksums.json"
	}
	if opts.Fetch.Attempts == 0 {
		opts.Fetch = retry.Policy{
			Attempts:   3,
			Unit:       time.Second,
			MaxBackoff: time.Minute,
			Retryable:  []retry.Kind{retry.Network},
		}
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if log == nil {
		l := logrus.New()
		l.Out = io.Discard
		log = l
	}
	return &Watcher{src: src, rep: rep, target: target, log: log, opts: opts}
}

// Applied returns the last version applied, or "" if none.
func (w *Watcher) Applied() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.applied
}

// SetApplied records v as already applied, so the first poll only repairs
// when the remote version differs.
func (w *Watcher) SetApplied(v string) {
	w.mu.Lock()
	w.applied = v
	w.mu.Unlock()
}

// Run polls immediately and then every Interval until ctx is done. Poll
// failures are logged and do not stop the loop.
func (w *Watcher) Run(ctx context.Context) error {
	ticker := w.opts.Clock.NewTicker(w.opts.Interval)
	defer ticker.Stop()

	w.log.WithFields(logrus.Fields{
		"source":   w.src.String(),
		"interval": w.opts.Interval,
	}).Info("watching for updates")

	for {
		if _, err := w.Check(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			w.log.WithError(err).Error("update check failed")
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.Chan():
		}
	}
}

// Check performs a single poll. It reports whether a new version was
// applied.
func (w *Watcher) Check(ctx context.Context) (bool, error) {
	m, err := source.FetchManifest(ctx, w.src, w.opts.Manifest, w.opts.Fetch)
	if err != nil {
		return false, err
	}

	current := w.Applied()
	if current != "" && !Changed(current, m.Version) {
		w.log.WithField("version", current).Debug("up to date")
		return false, nil
	}

	log := w.log.WithFields(logrus.Fields{"from": current, "to": m.Version})
	if current != "" && Older(m.Version, current) {
		log.Warn("remote version is older than the applied one")
	}
	log.Info("applying manifest")

	report, err := w.rep.Run(ctx, m, w.target, w.opts.Repair)
	if err != nil {
		return false, fmt.Errorf("apply version %s: %w", m.Version, err)
	}

	w.SetApplied(m.Version)
	if w.opts.OnApplied != nil {
		w.opts.OnApplied(m.Version, report)
	}
	return true, nil
}

// Changed reports whether latest is a different version than applied.
// Versions that both parse are compared semantically ("1.0" equals
// "1.0.0"); anything else compares as plain strings.
func Changed(applied, latest string) bool {
	a, errA := version.NewVersion(applied)
	b, errB := version.NewVersion(latest)
	if errA != nil || errB != nil {
		return applied != latest
	}
	return !a.Equal(b)
}

// Older reports whether candidate parses and sorts before current.
func Older(candidate, current string) bool {
	a, errA := version.NewVersion(candidate)
	b, errB := version.NewVersion(current)
	if errA != nil || errB != nil {
		return false
	}
	return a.LessThan(b)
}
