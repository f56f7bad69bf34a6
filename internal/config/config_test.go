package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stoneforge-ai/stoneforge/internal/core"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("STONEFORGE_SYNC_POLLINTERVALMS", "")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 300000, cfg.Sync.PollIntervalMs)
	assert.Equal(t, core.DirectionBidirectional, cfg.Sync.DefaultDirection)
	assert.Equal(t, "stoneforge.db", cfg.Store.Path)
	assert.Equal(t, 100, cfg.Logging.MaxSizeMB)
	assert.Equal(t, 5, cfg.Logging.MaxBackups)
	assert.Equal(t, 28, cfg.Logging.MaxAgeDays)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("STONEFORGE_SYNC_POLLINTERVALMS", "60000")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 60000, cfg.Sync.PollIntervalMs)
}

func TestValidateRejectsUnknownDirection(t *testing.T) {
	cfg := &Config{Sync: SyncSettings{DefaultDirection: "sideways"}}
	err := cfg.Validate()
	assert.True(t, core.Is(err, core.ErrInvalidInput))
}

func TestValidateRejectsProviderWithoutName(t *testing.T) {
	cfg := &Config{Sync: SyncSettings{Providers: map[string]ProviderConfig{"x": {}}}}
	err := cfg.Validate()
	assert.True(t, core.Is(err, core.ErrMissingRequiredField))
}

func TestSaveRoundTripsThroughLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".stoneforge", "config.yaml")

	cfg := &Config{
		Sync: SyncSettings{
			PollIntervalMs:   60000,
			DefaultDirection: core.DirectionPush,
			Providers: map[string]ProviderConfig{
				"linear": {Provider: "linear", DefaultProject: "eng"},
			},
		},
		Store: StoreConfig{Path: "custom.db"},
	}
	require.NoError(t, cfg.Save(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "pollIntervalMs: 60000")
	assert.Contains(t, string(data), "defaultDirection: push")
	assert.Contains(t, string(data), "defaultProject: eng")
}

func TestSaveRejectsInvalidConfig(t *testing.T) {
	cfg := &Config{Sync: SyncSettings{DefaultDirection: "sideways"}}
	err := cfg.Save(filepath.Join(t.TempDir(), "config.yaml"))
	assert.True(t, core.Is(err, core.ErrInvalidInput))
}

func TestSyncSettingsPollInterval(t *testing.T) {
	s := SyncSettings{PollIntervalMs: 2500}
	assert.Equal(t, 2500*time.Millisecond, s.PollInterval())
}
