package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDaemon(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vigil.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
sockname: /run/vigil/vigil.sock
state_db: /var/lib/vigil/state.db
log_level: debug
settle_ms: 50
sync_timeout_ms: 1500
`), 0644))

	cfg, err := LoadDaemon(path)
	require.NoError(t, err)
	assert.Equal(t, "/run/vigil/vigil.sock", cfg.SockName)
	assert.Equal(t, "/var/lib/vigil/state.db", cfg.StateDB)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 50*time.Millisecond, cfg.Settle())
	assert.Equal(t, 1500*time.Millisecond, cfg.SyncTimeout())
}

func TestLoadDaemon_PartialFileKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vigil.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log_level: warn\n"), 0644))

	cfg, err := LoadDaemon(path)
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.LogLevel)
	assert.Equal(t, DefaultDaemon().SockName, cfg.SockName)
	assert.Equal(t, DefaultDaemon().SettleMS, cfg.SettleMS)
}

func TestLoadDaemon_Errors(t *testing.T) {
	_, err := LoadDaemon(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "broken.yaml")
	require.NoError(t, os.WriteFile(path, []byte(":\n\t- not yaml"), 0644))
	_, err = LoadDaemon(path)
	assert.Error(t, err)
}

func TestLoadRoot_MissingFileIsZero(t *testing.T) {
	cfg, err := LoadRoot(t.TempDir())
	require.NoError(t, err)
	assert.Zero(t, cfg)
}

func TestLoadRoot_CommentsAndTrailingCommas(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, RootConfigName), []byte(`{
	// settle fast in this repo
	"settle_ms": 5,
	"idle_reap_age_seconds": 3600,
	"sync_timeout_ms": 2000, // trailing comma below is fine too
}`), 0644))

	cfg, err := LoadRoot(dir)
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.SettleMS)
	assert.Equal(t, 3600, cfg.IdleReapAgeSeconds)
	assert.Equal(t, 2000, cfg.SyncTimeoutMS)
}

func TestLoadRoot_Malformed(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, RootConfigName), []byte("{nope"), 0644))
	_, err := LoadRoot(dir)
	assert.Error(t, err)
}

func TestLoadRoot_NegativeDurationRejected(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, RootConfigName), []byte(`{"settle_ms": -1}`), 0644))
	_, err := LoadRoot(dir)
	assert.Error(t, err)
}

func TestValidateTriggerDefinition_Accepts(t *testing.T) {
	testCases := []struct {
		name string
		def  map[string]any
	}{
		{"minimal", map[string]any{
			"name": "t", "command": []any{"/bin/true"},
		}},
		{"full", map[string]any{
			"name":            "rebuild",
			"command":         []any{"make", "all"},
			"append_files":    true,
			"stdin":           "NAME_PER_LINE",
			"max_files_stdin": 10,
			"stdout":          ">/tmp/out",
			"stderr":          ">>/tmp/err",
			"chdir":           "sub",
			"relative_root":   "src",
			"expression":      []any{"dirname", "src"},
		}},
		{"json stdin", map[string]any{
			"name": "j", "command": []any{"x"}, "stdin": []any{"name", "size"},
		}},
		{"wire-shaped integers", map[string]any{
			"name": "w", "command": []any{"x"}, "max_files_stdin": float64(10),
		}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.NoError(t, ValidateTriggerDefinition(tc.def))
		})
	}
}

func TestValidateTriggerDefinition_Rejects(t *testing.T) {
	testCases := []struct {
		name string
		def  map[string]any
	}{
		{"missing name", map[string]any{"command": []any{"x"}}},
		{"empty name", map[string]any{"name": "", "command": []any{"x"}}},
		{"missing command", map[string]any{"name": "t"}},
		{"empty command", map[string]any{"name": "t", "command": []any{}}},
		{"bad stdin", map[string]any{"name": "t", "command": []any{"x"}, "stdin": "SOMETIMES"}},
		{"negative max files", map[string]any{"name": "t", "command": []any{"x"}, "max_files_stdin": -1}},
		{"stdout without redirection", map[string]any{"name": "t", "command": []any{"x"}, "stdout": "/tmp/out"}},
		{"unknown key", map[string]any{"name": "t", "command": []any{"x"}, "color": "red"}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Error(t, ValidateTriggerDefinition(tc.def))
		})
	}
}
