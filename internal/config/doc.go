// Package config defines configuration for the assetsync CLI.
//
// Configuration can be provided via:
//   - Command-line flags
//   - Environment variables (ASSETSYNC_ prefix)
//   - YAML configuration file
//
// Flags override the environment, which overrides the file, which
// overrides [Default].
//
// # Example
//
//	source: https://cdn.example.com/game
//	target: /srv/game
//	concurrency: 8
//	bandwidth_limit: 20MB
//	retry:
//	  download_attempts: 30
//	  max_backoff: 60s
//	watch:
//	  interval: 5m
//	log:
//	  level: info
//	  file: /var/log/assetsync.log
package config
