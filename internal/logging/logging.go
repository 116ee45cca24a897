// Package logging builds the process logger.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options configures New.
type Options struct {
	// Level is a logrus level name.
	// Default: info
	Level string

	// Format is "text" or "json".
	// Default: text
	Format string

	// File, when set, receives a copy of the output and is rotated.
	File string

	// MaxSizeMB is the size at which File is rotated.
	// Default: 50
	MaxSizeMB int

	// MaxBackups is the number of rotated files kept.
	// Default: 3
	MaxBackups int

	// Output is the primary destination.
	// Default: os.Stderr
	Output io.Writer
}

// New returns a configured logger. The returned closer flushes and closes
// the log file, if any.
func New(opts Options) (*logrus.Logger, io.Closer, error) {
	if opts.Output == nil {
		opts.Output = os.Stderr
	}
	if opts.MaxSizeMB <= 0 {
		opts.MaxSizeMB = 50
	}
	if opts.MaxBackups <= 0 {
		opts.MaxBackups = 3
	}

	level, err := ParseLevel(opts.Level)
	if err != nil {
		return nil, nil, err
	}

	log := logrus.New()
	log.SetLevel(level)

	switch strings.ToLower(opts.Format) {
	case "", "text":
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	case "json":
		log.SetFormatter(&logrus.JSONFormatter{})
	default:
		return nil, nil, fmt.Errorf("logging: unknown format %q", opts.Format)
	}

	var closer io.Closer = nopCloser{}
	out := opts.Output
	if opts.File != "" {
		file := &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    opts.MaxSizeMB,
			MaxBackups: opts.MaxBackups,
		}
		out = io.MultiWriter(opts.Output, file)
		closer = file
	}
	log.SetOutput(out)

	return log, closer, nil
}

// ParseLevel parses a level name. Empty means info.
func ParseLevel(s string) (logrus.Level, error) {
	if s == "" {
		return logrus.InfoLevel, nil
	}
	level, err := logrus.ParseLevel(s)
	if err != nil {
		return 0, fmt.Errorf("logging: %w", err)
	}
	return level, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
