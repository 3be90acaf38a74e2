// Package config loads the optional scanner configuration file.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// DefaultPath is the config file location relative to the home directory.
const DefaultPath = ".procscan/config.yaml"

// Config is the scanner configuration. Flags override file values; the
// file only provides defaults for repeated invocations.
type Config struct {
	Log struct {
		// Level sets the logging level (debug, info, warn, error).
		Level string `yaml:"level"`
		// Pretty enables human-readable console log output.
		Pretty bool `yaml:"pretty"`
	} `yaml:"log"`
	Output struct {
		// JSON emits module records as JSON instead of a table.
		JSON bool `yaml:"json"`
		// Fingerprint computes a content digest for modules without a
		// build id.
		Fingerprint bool `yaml:"fingerprint"`
	} `yaml:"output"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	cfg := &Config{}
	cfg.Log.Level = "info"
	return cfg
}

// Load reads the config file at path, or the one under the user's home
// directory when path is empty. A missing file is not an error: defaults
// are returned so the scanner works without any setup.
func Load(path string) (*Config, error) {
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return Default(), nil
		}
		path = filepath.Join(home, DefaultPath)
	}

	//nolint:gosec // G304: Path is the user's own config file.
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return cfg, nil
}
