package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// fileConfig is the subset of settings written by `pomosync init`.
type fileConfig struct {
	Endpoint  string         `yaml:"endpoint,omitempty"`
	DataDir   string         `yaml:"data_dir"`
	Sync      fileSyncConfig `yaml:"sync"`
	Dashboard fileDashConfig `yaml:"dashboard,omitempty"`
	Log       fileLogConfig  `yaml:"log,omitempty"`
}

type fileSyncConfig struct {
	Interval string `yaml:"interval"`
}

type fileDashConfig struct {
	Port int `yaml:"port,omitempty"`
}

type fileLogConfig struct {
	File string `yaml:"file,omitempty"`
}

// Marshal renders the user-facing settings of c as YAML.
func (c *Config) Marshal() ([]byte, error) {
	return yaml.Marshal(fileConfig{
		Endpoint:  c.Endpoint,
		DataDir:   c.DataDir,
		Sync:      fileSyncConfig{Interval: c.Sync.Interval.String()},
		Dashboard: fileDashConfig{Port: c.Dashboard.Port},
		Log:       fileLogConfig{File: c.Log.File},
	})
}

// Save validates c and writes it to path, creating parent directories.
func (c *Config) Save(path string) error {
	if errs := c.Validate(); len(errs) > 0 {
		return ValidationErrors(errs)
	}
	data, err := c.Marshal()
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}
