package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/ligustah/assetsync/internal/config"
	"github.com/ligustah/assetsync/internal/downloader"
	"github.com/ligustah/assetsync/internal/logging"
	"github.com/ligustah/assetsync/internal/progress"
	"github.com/ligustah/assetsync/internal/ratelimit"
	"github.com/ligustah/assetsync/internal/repair"
	"github.com/ligustah/assetsync/internal/retry"
	"github.com/ligustah/assetsync/internal/source"
	"github.com/ligustah/assetsync/pkg/manifest"
)

// app holds the flag values and outputs shared by all commands.
type app struct {
	stdout io.Writer
	stderr io.Writer

	configPath      string
	flags           config.Config
	bandwidth       string
	noCheckExisting bool
}

func (a *app) bindFlags(root *cobra.Command) {
	f := root.PersistentFlags()
	f.StringVar(&a.configPath, "config", "", "YAML configuration file")
	f.StringVar(&a.flags.Source, "source", "", "Source URL (http(s):// base URL or bucket URL)")
	f.StringVar(&a.flags.Target, "target", "", "Target directory")
	f.StringVar(&a.flags.Manifest, "manifest", "", "Manifest object name (default checksums.json)")
	f.IntVar(&a.flags.Concurrency, "concurrency", 0, "Parallel transfers (default 16)")
	f.StringVar(&a.bandwidth, "bandwidth-limit", "", `Aggregate bandwidth cap, e.g. "10MB" ("0" = unlimited)`)
	f.BoolVar(&a.noCheckExisting, "no-check-existing", false, "Always download, ignoring verified intermediates")
	f.DurationVar(&a.flags.StallTimeout, "stall-timeout", 0, "Abort an attempt after this long without data (default 30s)")
	f.IntVar(&a.flags.RepairAttempts, "repair-attempts", 0, "Maximum repair passes (default 5)")
	f.BoolVar(&a.flags.Progress, "progress", false, "Show progress output")
	f.StringVar(&a.flags.Log.Level, "log-level", "", "Log level (debug, info, warn, error)")
	f.StringVar(&a.flags.Log.Format, "log-format", "", "Log format (text, json)")
	f.StringVar(&a.flags.Log.File, "log-file", "", "Also write logs to this rotated file")
}

// loadConfig layers defaults, the config file, the environment and flags.
func (a *app) loadConfig() (config.Config, error) {
	cfg := config.Default()
	if a.configPath != "" {
		var err error
		if cfg, err = config.LoadFromFile(a.configPath); err != nil {
			return config.Config{}, err
		}
	}
	if err := cfg.LoadFromEnv(); err != nil {
		return config.Config{}, err
	}

	flags := a.flags
	if a.bandwidth != "" && a.bandwidth != "0" {
		n, err := progress.ParseBytes(a.bandwidth)
		if err != nil {
			return config.Config{}, fmt.Errorf("parse --bandwidth-limit: %w", err)
		}
		flags.BandwidthLimit = n
	}
	cfg = cfg.Merge(flags)
	if a.bandwidth == "0" {
		cfg.BandwidthLimit = 0
	}
	if a.noCheckExisting {
		cfg.CheckExisting = false
	}

	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

// session is the runtime wiring for one command invocation.
type session struct {
	cfg      config.Config
	log      *logrus.Logger
	closeLog io.Closer
	src      source.Source
	fs       afero.Fs
	dl       *downloader.Downloader
	repairer *repair.Repairer
}

func (a *app) open(ctx context.Context) (*session, error) {
	cfg, err := a.loadConfig()
	if err != nil {
		return nil, &exitError{code: ExitInvalidArgs, err: err}
	}

	logOpts := cfg.LoggingOptions()
	logOpts.Output = a.stderr
	log, closeLog, err := logging.New(logOpts)
	if err != nil {
		return nil, &exitError{code: ExitInvalidArgs, err: err}
	}

	src, err := source.Open(ctx, cfg.Source, cfg.HTTPOptions())
	if err != nil {
		closeLog.Close()
		return nil, &exitError{code: ExitSourceNotAccess, err: err}
	}

	fs := afero.NewOsFs()
	dl := downloader.New(src, fs, ratelimit.New(cfg.BandwidthLimit), log)
	return &session{
		cfg:      cfg,
		log:      log,
		closeLog: closeLog,
		src:      src,
		fs:       fs,
		dl:       dl,
		repairer: repair.New(dl, fs, log),
	}, nil
}

func (s *session) Close() {
	s.src.Close()
	s.closeLog.Close()
}

func (s *session) fetchManifest(ctx context.Context) (*manifest.Manifest, error) {
	policy := retry.DownloadPolicy()
	policy.Attempts = 3
	policy.Unit = s.cfg.Retry.Unit
	policy.MaxBackoff = s.cfg.Retry.MaxBackoff
	policy.Retryable = []retry.Kind{retry.Network}

	m, err := source.FetchManifest(ctx, s.src, s.cfg.Manifest, policy)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &exitError{code: ExitSourceNotAccess, err: err}
	}
	s.log.WithFields(logrus.Fields{
		"version": m.Version,
		"files":   m.Len(),
		"size":    progress.FormatBytes(m.TotalSize()),
	}).Info("fetched manifest")
	return m, nil
}

// reporter returns a console progress reporter, or nil when disabled.
func (s *session) reporter(out io.Writer, m *manifest.Manifest) *progress.Reporter {
	if !s.cfg.Progress {
		return nil
	}
	return progress.NewReporter(progress.Options{
		TotalFiles:  m.Len(),
		TotalSize:   m.TotalSize(),
		Concurrency: s.cfg.Concurrency,
		Output:      out,
		Source:      s.src.String(),
	})
}

// repairExit maps a repair outcome to an exit error.
func repairExit(err error) error {
	var exhausted *repair.ExhaustedError
	switch {
	case err == nil:
		return nil
	case errors.As(err, &exhausted):
		return &exitError{code: ExitRepairFailed, err: err}
	case errors.Is(err, context.Canceled):
		return err
	default:
		return &exitError{code: ExitStorageError, err: err}
	}
}
