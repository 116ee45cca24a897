package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ligustah/assetsync/internal/downloader"
	assethttp "github.com/ligustah/assetsync/internal/http"
	"github.com/ligustah/assetsync/internal/logging"
	"github.com/ligustah/assetsync/internal/progress"
	"github.com/ligustah/assetsync/internal/repair"
	"github.com/ligustah/assetsync/internal/retry"
	"github.com/ligustah/assetsync/internal/watch"
)

// Config defines configuration for the assetsync CLI.
type Config struct {
	Source         string        `yaml:"source"`
	Manifest       string        `yaml:"manifest"`
	Target         string        `yaml:"target"`
	Concurrency    int           `yaml:"concurrency"`
	BandwidthLimit int64         `yaml:"bandwidth_limit"`
	CheckExisting  bool          `yaml:"check_existing"`
	StallTimeout   time.Duration `yaml:"stall_timeout"`
	RepairAttempts int           `yaml:"repair_attempts"`
	Progress       bool          `yaml:"progress"`
	Retry          RetryConfig   `yaml:"retry"`
	HTTP           HTTPConfig    `yaml:"http"`
	Watch          WatchConfig   `yaml:"watch"`
	Log            LogConfig     `yaml:"log"`
}

// RetryConfig defines retry behavior.
type RetryConfig struct {
	DownloadAttempts   int           `yaml:"download_attempts"`
	DecompressAttempts int           `yaml:"decompress_attempts"`
	Unit               time.Duration `yaml:"unit"`
	MaxBackoff         time.Duration `yaml:"max_backoff"`
}

// HTTPConfig tunes the HTTP source.
type HTTPConfig struct {
	HeaderTimeout       time.Duration `yaml:"header_timeout"`
	MaxIdleConnsPerHost int           `yaml:"max_idle_conns_per_host"`
}

// WatchConfig configures the update watcher.
type WatchConfig struct {
	Interval time.Duration `yaml:"interval"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	File   string `yaml:"file"`
}

// Default returns a Config with sensible defaults.
func Default() Config {
	return Config{
		Manifest:       "checksums.json",
		Concurrency:    16,
		CheckExisting:  true,
		StallTimeout:   30 * time.Second,
		RepairAttempts: 5,
		Retry: RetryConfig{
			DownloadAttempts:   30,
			DecompressAttempts: 5,
			Unit:               time.Second,
			MaxBackoff:         60 * time.Second,
		},
		HTTP: HTTPConfig{
			HeaderTimeout:       30 * time.Second,
			MaxIdleConnsPerHost: 100,
		},
		Watch: WatchConfig{
			Interval: 5 * time.Minute,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// yamlConfig is used for YAML unmarshaling with string sizes and durations.
type yamlConfig struct {
	Source         string          `yaml:"source"`
	Manifest       string          `yaml:"manifest"`
	Target         string          `yaml:"target"`
	Concurrency    int             `yaml:"concurrency"`
	BandwidthLimit string          `yaml:"bandwidth_limit"`
	CheckExisting  *bool           `yaml:"check_existing"`
	StallTimeout   string          `yaml:"stall_timeout"`
	RepairAttempts int             `yaml:"repair_attempts"`
	Progress       bool            `yaml:"progress"`
	Retry          yamlRetryConfig `yaml:"retry"`
	HTTP           yamlHTTPConfig  `yaml:"http"`
	Watch          yamlWatchConfig `yaml:"watch"`
	Log            LogConfig       `yaml:"log"`
}

type yamlRetryConfig struct {
	DownloadAttempts   int    `yaml:"download_attempts"`
	DecompressAttempts int    `yaml:"decompress_attempts"`
	Unit               string `yaml:"unit"`
	MaxBackoff         string `yaml:"max_backoff"`
}

type yamlHTTPConfig struct {
	HeaderTimeout       string `yaml:"header_timeout"`
	MaxIdleConnsPerHost int    `yaml:"max_idle_conns_per_host"`
}

type yamlWatchConfig struct {
	Interval string `yaml:"interval"`
}

// LoadFromFile loads configuration from a YAML file on top of Default.
func LoadFromFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}

	var yc yamlConfig
	if err := yaml.Unmarshal(data, &yc); err != nil {
		return Config{}, fmt.Errorf("parse config file: %w", err)
	}

	cfg := Default()
	cfg = cfg.Merge(Config{
		Source:         yc.Source,
		Manifest:       yc.Manifest,
		Target:         yc.Target,
		Concurrency:    yc.Concurrency,
		RepairAttempts: yc.RepairAttempts,
		Progress:       yc.Progress,
		Retry: RetryConfig{
			DownloadAttempts:   yc.Retry.DownloadAttempts,
			DecompressAttempts: yc.Retry.DecompressAttempts,
		},
		HTTP: HTTPConfig{MaxIdleConnsPerHost: yc.HTTP.MaxIdleConnsPerHost},
		Log:  yc.Log,
	})
	if yc.CheckExisting != nil {
		cfg.CheckExisting = *yc.CheckExisting
	}

	if yc.BandwidthLimit != "" {
		if cfg.BandwidthLimit, err = parseBandwidth(yc.BandwidthLimit); err != nil {
			return Config{}, fmt.Errorf("parse bandwidth_limit: %w", err)
		}
	}

	durations := []struct {
		key string
		raw string
		dst *time.Duration
	}{
		{"stall_timeout", yc.StallTimeout, &cfg.StallTimeout},
		{"retry.unit", yc.Retry.Unit, &cfg.Retry.Unit},
		{"retry.max_backoff", yc.Retry.MaxBackoff, &cfg.Retry.MaxBackoff},
		{"http.header_timeout", yc.HTTP.HeaderTimeout, &cfg.HTTP.HeaderTimeout},
		{"watch.interval", yc.Watch.Interval, &cfg.Watch.Interval},
	}
	for _, d := range durations {
		if d.raw == "" {
			continue
		}
		v, err := time.ParseDuration(d.raw)
		if err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", d.key, err)
		}
		*d.dst = v
	}

	return cfg, nil
}

// LoadFromEnv loads configuration from environment variables.
// Environment variables use the ASSETSYNC_ prefix.
func (c *Config) LoadFromEnv() error {
	strs := map[string]*string{
		"ASSETSYNC_SOURCE":     &c.Source,
		"ASSETSYNC_MANIFEST":   &c.Manifest,
		"ASSETSYNC_TARGET":     &c.Target,
		"ASSETSYNC_LOG_LEVEL":  &c.Log.Level,
		"ASSETSYNC_LOG_FORMAT": &c.Log.Format,
		"ASSETSYNC_LOG_FILE":   &c.Log.File,
	}
	for key, dst := range strs {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	ints := map[string]*int{
		"ASSETSYNC_CONCURRENCY":               &c.Concurrency,
		"ASSETSYNC_REPAIR_ATTEMPTS":           &c.RepairAttempts,
		"ASSETSYNC_RETRY_DOWNLOAD_ATTEMPTS":   &c.Retry.DownloadAttempts,
		"ASSETSYNC_RETRY_DECOMPRESS_ATTEMPTS": &c.Retry.DecompressAttempts,
		"ASSETSYNC_HTTP_MAX_IDLE_CONNS":       &c.HTTP.MaxIdleConnsPerHost,
	}
	for key, dst := range ints {
		if v := os.Getenv(key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("parse %s: %w", key, err)
			}
			*dst = n
		}
	}

	durations := map[string]*time.Duration{
		"ASSETSYNC_STALL_TIMEOUT":       &c.StallTimeout,
		"ASSETSYNC_RETRY_UNIT":          &c.Retry.Unit,
		"ASSETSYNC_RETRY_MAX_BACKOFF":   &c.Retry.MaxBackoff,
		"ASSETSYNC_HTTP_HEADER_TIMEOUT": &c.HTTP.HeaderTimeout,
		"ASSETSYNC_WATCH_INTERVAL":      &c.Watch.Interval,
	}
	for key, dst := range durations {
		if v := os.Getenv(key); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("parse %s: %w", key, err)
			}
			*dst = d
		}
	}

	if v := os.Getenv("ASSETSYNC_BANDWIDTH_LIMIT"); v != "" {
		n, err := parseBandwidth(v)
		if err != nil {
			return fmt.Errorf("parse ASSETSYNC_BANDWIDTH_LIMIT: %w", err)
		}
		c.BandwidthLimit = n
	}
	if v := os.Getenv("ASSETSYNC_CHECK_EXISTING"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("parse ASSETSYNC_CHECK_EXISTING: %w", err)
		}
		c.CheckExisting = b
	}
	if v := os.Getenv("ASSETSYNC_PROGRESS"); v != "" {
		c.Progress = v == "true" || v == "1"
	}

	return nil
}

// parseBandwidth accepts "0" for unlimited or a human byte size.
func parseBandwidth(s string) (int64, error) {
	if s == "0" {
		return 0, nil
	}
	return progress.ParseBytes(s)
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Source == "" {
		return errors.New("config: source is required")
	}
	if c.Target == "" {
		return errors.New("config: target is required")
	}
	if c.Manifest == "" {
		return errors.New("config: manifest is required")
	}
	if c.Concurrency <= 0 {
		return errors.New("config: concurrency must be positive")
	}
	if c.BandwidthLimit < 0 {
		return errors.New("config: bandwidth_limit must not be negative")
	}
	if c.StallTimeout <= 0 {
		return errors.New("config: stall_timeout must be positive")
	}
	if c.RepairAttempts <= 0 {
		return errors.New("config: repair_attempts must be positive")
	}
	if c.Retry.DownloadAttempts <= 0 || c.Retry.DecompressAttempts <= 0 {
		return errors.New("config: retry attempts must be positive")
	}
	if c.Retry.Unit <= 0 {
		return errors.New("config: retry.unit must be positive")
	}
	if c.Watch.Interval <= 0 {
		return errors.New("config: watch.interval must be positive")
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// Merge merges override values into c, returning a new Config.
// Zero values in override are ignored, so Merge cannot turn
// CheckExisting off.
func (c Config) Merge(override Config) Config {
	if override.Source != "" {
		c.Source = override.Source
	}
	if override.Manifest != "" {
		c.Manifest = override.Manifest
	}
	if override.Target != "" {
		c.Target = override.Target
	}
	if override.Concurrency != 0 {
		c.Concurrency = override.Concurrency
	}
	if override.BandwidthLimit != 0 {
		c.BandwidthLimit = override.BandwidthLimit
	}
	if override.CheckExisting {
		c.CheckExisting = true
	}
	if override.StallTimeout != 0 {
		c.StallTimeout = override.StallTimeout
	}
	if override.RepairAttempts != 0 {
		c.RepairAttempts = override.RepairAttempts
	}
	if override.Progress {
		c.Progress = true
	}
	if override.Retry.DownloadAttempts != 0 {
		c.Retry.DownloadAttempts = override.Retry.DownloadAttempts
	}
	if override.Retry.DecompressAttempts != 0 {
		c.Retry.DecompressAttempts = override.Retry.DecompressAttempts
	}
	if override.Retry.Unit != 0 {
		c.Retry.Unit = override.Retry.Unit
	}
	if override.Retry.MaxBackoff != 0 {
		c.Retry.MaxBackoff = override.Retry.MaxBackoff
	}
	if override.HTTP.HeaderTimeout != 0 {
		c.HTTP.HeaderTimeout = override.HTTP.HeaderTimeout
	}
	if override.HTTP.MaxIdleConnsPerHost != 0 {
		c.HTTP.MaxIdleConnsPerHost = override.HTTP.MaxIdleConnsPerHost
	}
	if override.Watch.Interval != 0 {
		c.Watch.Interval = override.Watch.Interval
	}
	if override.Log.Level != "" {
		c.Log.Level = override.Log.Level
	}
	if override.Log.Format != "" {
		c.Log.Format = override.Log.Format
	}
	if override.Log.File != "" {
		c.Log.File = override.Log.File
	}
	return c
}

// HTTPOptions returns the HTTP client options.
func (c Config) HTTPOptions() assethttp.Options {
	opts := assethttp.DefaultOptions()
	opts.HeaderTimeout = c.HTTP.HeaderTimeout
	opts.MaxIdleConnsPerHost = c.HTTP.MaxIdleConnsPerHost
	return opts
}

// LoggingOptions returns the logger options.
func (c Config) LoggingOptions() logging.Options {
	return logging.Options{
		Level:  c.Log.Level,
		Format: c.Log.Format,
		File:   c.Log.File,
	}
}

// Downloader returns the options for a synchronization run.
func (c Config) Downloader() downloader.Options {
	download := retry.DownloadPolicy()
	download.Attempts = c.Retry.DownloadAttempts
	download.Unit = c.Retry.Unit
	download.MaxBackoff = c.Retry.MaxBackoff

	decompress := retry.DecompressPolicy()
	decompress.Attempts = c.Retry.DecompressAttempts
	decompress.Unit = c.Retry.Unit
	decompress.MaxBackoff = c.Retry.MaxBackoff

	return downloader.Options{
		Concurrency:     c.Concurrency,
		BandwidthLimit:  c.BandwidthLimit,
		CheckExisting:   c.CheckExisting,
		StallTimeout:    c.StallTimeout,
		DownloadRetry:   download,
		DecompressRetry: decompress,
	}
}

// Repair returns the options for a repair run.
func (c Config) Repair() repair.Options {
	return repair.Options{
		MaxAttempts: c.RepairAttempts,
		Concurrency: c.Concurrency,
		Download:    c.Downloader(),
	}
}

// WatchOptions returns the update watcher options.
func (c Config) WatchOptions() watch.Options {
	fetch := retry.DownloadPolicy()
	fetch.Attempts = 3
	fetch.Unit = c.Retry.Unit
	fetch.MaxBackoff = c.Retry.MaxBackoff
	fetch.Retryable = []retry.Kind{retry.Network}

	return watch.Options{
		Interval: c.Watch.Interval,
		Manifest: c.Manifest,
		Fetch:    fetch,
		Repair:   c.Repair(),
	}
}
