// Package config implements the enumerated configuration surface:
// provider records, sync settings, and sync options, loaded via viper
// through a precedence walk (project dir -> user config dir -> home
// dir) with STONEFORGE_-prefixed environment overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/stoneforge-ai/stoneforge/internal/core"
)

// ProviderConfig is one entry of sync.providers.
type ProviderConfig struct {
	Provider       string `mapstructure:"provider" yaml:"provider"`
	Token          string `mapstructure:"token" yaml:"token,omitempty"`
	APIBaseURL     string `mapstructure:"apiBaseUrl" yaml:"apiBaseUrl,omitempty"`
	DefaultProject string `mapstructure:"defaultProject" yaml:"defaultProject,omitempty"`
}

// SyncSettings is the sync-settings record: polling cadence, default
// direction, and the configured providers.
type SyncSettings struct {
	PollIntervalMs   int                       `mapstructure:"pollIntervalMs" yaml:"pollIntervalMs"`
	DefaultDirection core.SyncDirection        `mapstructure:"defaultDirection" yaml:"defaultDirection"`
	Providers        map[string]ProviderConfig `mapstructure:"providers" yaml:"providers,omitempty"`
}

// SyncOptions is the request-level parameterization of a single
// push/pull/sync call.
type SyncOptions struct {
	TaskIDs          []string              `mapstructure:"taskIds" yaml:"taskIds,omitempty"`
	All              bool                  `mapstructure:"all" yaml:"all,omitempty"`
	Provider         string                `mapstructure:"provider" yaml:"provider,omitempty"`
	Type             core.AdapterType      `mapstructure:"type" yaml:"type,omitempty"`
	DryRun           bool                  `mapstructure:"dryRun" yaml:"dryRun,omitempty"`
	Force            bool                  `mapstructure:"force" yaml:"force,omitempty"`
	ConflictStrategy core.ConflictStrategy `mapstructure:"conflictStrategy" yaml:"conflictStrategy,omitempty"`
}

// LoggingConfig controls the structured logger every host assembles
// via internal/logging.
type LoggingConfig struct {
	FilePath   string `mapstructure:"filePath" yaml:"filePath,omitempty"`
	MaxSizeMB  int    `mapstructure:"maxSizeMb" yaml:"maxSizeMb"`
	MaxBackups int    `mapstructure:"maxBackups" yaml:"maxBackups"`
	MaxAgeDays int    `mapstructure:"maxAgeDays" yaml:"maxAgeDays"`
	Debug      bool   `mapstructure:"debug" yaml:"debug,omitempty"`
}

// Config is the root of the loaded configuration surface.
type Config struct {
	Sync    SyncSettings  `mapstructure:"sync" yaml:"sync"`
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// Store locates the Element Store backend; kept here rather than
	// in a separate config layer since it's the one piece of ambient
	// wiring every host needs.
	Store StoreConfig `mapstructure:"store" yaml:"store"`
}

// StoreConfig locates the Element Store backend.
type StoreConfig struct {
	Path string `mapstructure:"path" yaml:"path"`
}

// envPrefix namespaces environment overrides (STONEFORGE_*).
const envPrefix = "STONEFORGE"

// Load walks the config precedence order — project dir
// (.stoneforge/config.yaml, walked upward from cwd) -> user config dir
// -> home directory — then applies STONEFORGE_-prefixed environment
// overrides, and finally decodes into a Config. A missing config file
// at every location is not an error: defaults plus environment
// variables are sufficient to produce a usable, if empty, sync
// configuration.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	configFileSet := locateConfigFile(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	v.SetDefault("sync.pollintervalms", 300000)
	v.SetDefault("sync.defaultdirection", string(core.DirectionBidirectional))
	v.SetDefault("sync.providers", map[string]interface{}{})
	v.SetDefault("store.path", "stoneforge.db")
	v.SetDefault("logging.maxSizeMb", 100)
	v.SetDefault("logging.maxBackups", 5)
	v.SetDefault("logging.maxAgeDays", 28)

	if configFileSet {
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", v.ConfigFileUsed(), err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// locateConfigFile runs the three-tier search: walk up from cwd
// looking for .stoneforge/config.yaml, then ~/.config/stoneforge/
// config.yaml, then ~/.stoneforge/config.yaml. Returns whether a file
// was found and set on v.
func locateConfigFile(v *viper.Viper) bool {
	if cwd, err := os.Getwd(); err == nil {
		for dir := cwd; dir != filepath.Dir(dir); dir = filepath.Dir(dir) {
			p := filepath.Join(dir, ".stoneforge", "config.yaml")
			if _, err := os.Stat(p); err == nil {
				v.SetConfigFile(p)
				return true
			}
		}
	}
	if configDir, err := os.UserConfigDir(); err == nil {
		p := filepath.Join(configDir, "stoneforge", "config.yaml")
		if _, err := os.Stat(p); err == nil {
			v.SetConfigFile(p)
			return true
		}
	}
	if home, err := os.UserHomeDir(); err == nil {
		p := filepath.Join(home, ".stoneforge", "config.yaml")
		if _, err := os.Stat(p); err == nil {
			v.SetConfigFile(p)
			return true
		}
	}
	return false
}

// Validate checks the decoded configuration against the enumerated
// closed sets, surfacing a core.Error rather than letting an invalid
// direction/strategy silently pass through to the sync engine.
func (c *Config) Validate() error {
	if c.Sync.PollIntervalMs < 0 {
		return core.NewError(core.ErrInvalidInput, "sync.pollIntervalMs must be >= 0")
	}
	switch c.Sync.DefaultDirection {
	case "", core.DirectionPush, core.DirectionPull, core.DirectionBidirectional:
	default:
		return core.NewError(core.ErrInvalidInput, "sync.defaultDirection %q is not one of push|pull|bidirectional", c.Sync.DefaultDirection)
	}
	for name, p := range c.Sync.Providers {
		if p.Provider == "" {
			return core.NewError(core.ErrMissingRequiredField, "sync.providers.%s.provider is required", name)
		}
	}
	return nil
}

// PollInterval returns PollIntervalMs as a time.Duration for the
// scheduler.
func (s SyncSettings) PollInterval() time.Duration {
	return time.Duration(s.PollIntervalMs) * time.Millisecond
}

// Save writes the configuration as YAML to path, creating parent
// directories as needed. Hosts use it to persist settings changed at
// runtime (e.g. a newly linked provider) back to the same file Load
// reads.
func (c *Config) Save(path string) error {
	if err := c.Validate(); err != nil {
		return err
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("config: encode: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("config: create config dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("config: write %s: %w", path, err)
	}
	return nil
}
