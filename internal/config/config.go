// Package config loads pomosync settings from file, environment and flags.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g.
// POMOSYNC_SYNC_INTERVAL=30s.
const EnvPrefix = "POMOSYNC"

// FileName is the config file name without extension.
const FileName = "pomosync"

// Config represents the complete pomosync configuration
type Config struct {
	// Endpoint is the row-store URL. Empty disables sync.
	Endpoint string `mapstructure:"endpoint"`
	// DataDir holds the local database and logs.
	DataDir string `mapstructure:"data_dir"`

	Sync      SyncConfig      `mapstructure:"sync"`
	Queue     QueueConfig     `mapstructure:"queue"`
	Tombstone TombstoneConfig `mapstructure:"tombstone"`
	History   HistoryConfig   `mapstructure:"history"`
	Transport TransportConfig `mapstructure:"transport"`
	Dashboard DashboardConfig `mapstructure:"dashboard"`
	Log       LogConfig       `mapstructure:"log"`
}

// SyncConfig controls the full sync cycle
type SyncConfig struct {
	Interval     time.Duration `mapstructure:"interval"`
	InitialDelay time.Duration `mapstructure:"initial_delay"`
	// MinServerVersion gates the stats phase on get_version.
	MinServerVersion int `mapstructure:"min_server_version"`
}

// QueueConfig controls the operation queue
type QueueConfig struct {
	Debounce time.Duration `mapstructure:"debounce"`
}

// TombstoneConfig controls how long deletions are remembered
type TombstoneConfig struct {
	Retention time.Duration `mapstructure:"retention"`
}

// HistoryConfig controls how long completed tasks and sessions stay local
type HistoryConfig struct {
	Retention time.Duration `mapstructure:"retention"`
}

// TransportConfig controls row-store requests
type TransportConfig struct {
	Timeout time.Duration `mapstructure:"timeout"`
}

// DashboardConfig controls the websocket status server (port 0 = disabled)
type DashboardConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// LogConfig controls the log file. An empty File logs to stderr only.
type LogConfig struct {
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	// Stderr also writes to stderr when File is set.
	Stderr bool `mapstructure:"stderr"`
}

// Default returns a Config with default values
func Default() *Config {
	return &Config{
		Endpoint: "",
		DataDir:  DefaultDataDir(),
		Sync: SyncConfig{
			Interval:         60 * time.Second,
			InitialDelay:     2 * time.Second,
			MinServerVersion: 3,
		},
		Queue: QueueConfig{
			Debounce: 500 * time.Millisecond,
		},
		Tombstone: TombstoneConfig{
			Retention: 90 * 24 * time.Hour,
		},
		History: HistoryConfig{
			Retention: 30 * 24 * time.Hour,
		},
		Transport: TransportConfig{
			Timeout: 10 * time.Second,
		},
		Dashboard: DashboardConfig{
			Host: "127.0.0.1",
			Port: 0,
		},
		Log: LogConfig{
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
	}
}

// SetDefaults registers default values with v
func SetDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("endpoint", d.Endpoint)
	v.SetDefault("data_dir", d.DataDir)

	v.SetDefault("sync.interval", d.Sync.Interval)
	v.SetDefault("sync.initial_delay", d.Sync.InitialDelay)
	v.SetDefault("sync.min_server_version", d.Sync.MinServerVersion)

	v.SetDefault("queue.debounce", d.Queue.Debounce)
	v.SetDefault("tombstone.retention", d.Tombstone.Retention)
	v.SetDefault("history.retention", d.History.Retention)
	v.SetDefault("transport.timeout", d.Transport.Timeout)

	v.SetDefault("dashboard.host", d.Dashboard.Host)
	v.SetDefault("dashboard.port", d.Dashboard.Port)

	v.SetDefault("log.file", d.Log.File)
	v.SetDefault("log.max_size_mb", d.Log.MaxSizeMB)
	v.SetDefault("log.max_backups", d.Log.MaxBackups)
	v.SetDefault("log.max_age_days", d.Log.MaxAgeDays)
	v.SetDefault("log.stderr", d.Log.Stderr)
}

// New returns a viper instance with defaults, env overrides and the config
// search path set up. path, when non-empty, names the config file explicitly.
func New(path string) *viper.Viper {
	v := viper.New()
	SetDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		return v
	}
	v.SetConfigName(FileName)
	v.SetConfigType("yaml")
	v.AddConfigPath(ConfigDir())
	v.AddConfigPath(DefaultDataDir())
	v.AddConfigPath(".")
	return v
}

// Read reads the config file into v. A missing file is not an error when
// it was found through the search path.
func Read(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("failed to read config: %w", err)
	}
	return nil
}

// Load decodes and validates the configuration held by v
func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	cfg.DataDir = expandHome(cfg.DataDir)
	cfg.Log.File = expandHome(cfg.Log.File)

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}
	return &cfg, nil
}

// Watch re-reads the config file whenever it changes and calls fn with the
// result. Invalid edits are reported through onErr and otherwise ignored.
func Watch(v *viper.Viper, fn func(*Config), onErr func(error)) {
	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		cfg, err := Load(v)
		if err != nil {
			if onErr != nil {
				onErr(fmt.Errorf("ignoring config change in %s: %w", e.Name, err))
			}
			return
		}
		fn(cfg)
	})
	v.WatchConfig()
}

// DatabasePath returns the location of the local store
func (c *Config) DatabasePath() string {
	return filepath.Join(c.DataDir, "pomosync.db")
}

// ConfigDir returns the path to the user's config directory
func ConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "pomosync")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".pomosync"
	}
	return filepath.Join(home, ".config", "pomosync")
}

// ConfigFile returns the default config file path
func ConfigFile() string {
	return filepath.Join(ConfigDir(), FileName+".yaml")
}

// DefaultDataDir returns ~/.pomosync
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".pomosync"
	}
	return filepath.Join(home, ".pomosync")
}

func expandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(path[1:], "/"))
		}
	}
	return path
}
