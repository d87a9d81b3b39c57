// Package config loads daemon and per-root configuration and validates
// trigger definitions against their schema.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Daemon is the process-level configuration, loaded from a YAML file.
type Daemon struct {
	// SockName is the path of the unix socket the daemon serves on.
	SockName string `yaml:"sockname"`

	// StateDB is the path of the saved-state database.
	StateDB string `yaml:"state_db"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level"`

	// MetricsAddr, when set, serves Prometheus metrics on this
	// address (e.g. "127.0.0.1:9464").
	MetricsAddr string `yaml:"metrics_addr"`

	// SettleMS is the default quiescence interval for settle
	// announcements, in milliseconds.
	SettleMS int `yaml:"settle_ms"`

	// SyncTimeoutMS is the default cookie sync timeout for state
	// commands, in milliseconds.
	SyncTimeoutMS int `yaml:"sync_timeout_ms"`
}

// DefaultDaemon returns the configuration used when no file is given.
func DefaultDaemon() Daemon {
	runDir := os.TempDir()
	return Daemon{
		SockName:      filepath.Join(runDir, "vigil.sock"),
		StateDB:       filepath.Join(runDir, "vigil-state.db"),
		LogLevel:      "info",
		SettleMS:      20,
		SyncTimeoutMS: 60000,
	}
}

// LoadDaemon reads a daemon config file, filling defaults for absent
// keys.
func LoadDaemon(path string) (Daemon, error) {
	cfg := DefaultDaemon()
	buf, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(buf, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Settle returns the settle interval as a duration.
func (d Daemon) Settle() time.Duration {
	return time.Duration(d.SettleMS) * time.Millisecond
}

// SyncTimeout returns the default sync timeout as a duration.
func (d Daemon) SyncTimeout() time.Duration {
	return time.Duration(d.SyncTimeoutMS) * time.Millisecond
}
