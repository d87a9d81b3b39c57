package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/tailscale/hujson"
)

// RootConfigName is the per-root configuration file, looked up at the
// top of each watched tree. The format is JSON with comments and
// trailing commas permitted.
const RootConfigName = ".vigilconfig"

// Root is the per-root configuration.
type Root struct {
	// SettleMS overrides the daemon's settle interval for this root.
	SettleMS int `json:"settle_ms"`

	// IdleReapAgeSeconds is the age-out threshold: deleted entries whose
	// last recorded modification time is older than this are forgotten.
	// The age is measured from that mtime, not from the deletion.
	// Zero disables age-out.
	IdleReapAgeSeconds int `json:"idle_reap_age_seconds"`

	// SyncTimeoutMS overrides the default cookie sync timeout for
	// state commands on this root.
	SyncTimeoutMS int `json:"sync_timeout_ms"`
}

// LoadRoot reads rootPath/.vigilconfig. A missing file yields the zero
// config; a malformed file is an error so a typo does not silently
// revert the root to defaults.
func LoadRoot(rootPath string) (Root, error) {
	var cfg Root
	buf, err := os.ReadFile(filepath.Join(rootPath, RootConfigName))
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("failed to read %s: %w", RootConfigName, err)
	}
	std, err := hujson.Standardize(buf)
	if err != nil {
		return cfg, fmt.Errorf("failed to parse %s: %w", RootConfigName, err)
	}
	if err := json.Unmarshal(std, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse %s: %w", RootConfigName, err)
	}
	if cfg.SettleMS < 0 || cfg.IdleReapAgeSeconds < 0 || cfg.SyncTimeoutMS < 0 {
		return cfg, fmt.Errorf("%s: durations must be >= 0", RootConfigName)
	}
	return cfg, nil
}
