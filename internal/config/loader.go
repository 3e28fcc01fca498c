package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/coral-mesh/binscope/internal/safe"
)

const (
	// ConfigEnv overrides the config file location.
	ConfigEnv = "BINSCOPE_CONFIG"

	defaultDir  = ".binscope"
	configFile  = "config.yaml"
	maxYAMLSize = 1 << 20
)

// Loader resolves and reads the config file.
type Loader struct {
	path string
}

// NewLoader creates a config loader.
// The file location is resolved in this order:
//  1. BINSCOPE_CONFIG environment variable.
//  2. ~/.binscope/config.yaml.
//  3. No file (defaults plus env overrides), when there is no home directory.
func NewLoader() *Loader {
	if p := os.Getenv(ConfigEnv); p != "" {
		return &Loader{path: p}
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return &Loader{}
	}
	return &Loader{path: filepath.Join(homeDir, defaultDir, configFile)}
}

// NewLoaderAt creates a loader for an explicit config file path.
func NewLoaderAt(path string) *Loader {
	return &Loader{path: path}
}

// Path returns the config file path, or "" when none applies.
func (l *Loader) Path() string {
	return l.path
}

// Load reads the configuration.
// Returns the default config if the file doesn't exist, then applies environment overrides.
func (l *Loader) Load() (*Config, error) {
	cfg := Default()

	if l.path != "" {
		data, err := safe.ReadFile(l.path, &safe.FileOptions{MaxSize: maxYAMLSize, AllowSymlinks: true})
		switch {
		case os.IsNotExist(err):
		case err != nil:
			return nil, fmt.Errorf("failed to read config %s: %w", l.path, err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config %s: %w", l.path, err)
			}
		}
	}

	if err := MergeFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// Save writes cfg to the loader's path, creating the parent directory.
func (l *Loader) Save(cfg *Config) error {
	if l.path == "" {
		return fmt.Errorf("no config path available")
	}

	//nolint:gosec // G301: Directory needs standard permissions for traversal
	if err := os.MkdirAll(filepath.Dir(l.path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(l.path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}
