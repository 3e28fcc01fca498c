// Package config provides configuration loading for binscope.
package config

import (
	"fmt"

	"github.com/coral-mesh/binscope/internal/logging"
)

const (
	// DefaultMaxDebugDepth bounds DWO/debuglink chasing. A legitimate chain is one hop.
	DefaultMaxDebugDepth = 2

	// SearchPathSep separates entries of a search path list in env vars and flags.
	SearchPathSep = ";"

	// DefaultMaxFileSize is the largest binary binscope will open (4 GiB).
	DefaultMaxFileSize int64 = 4 << 30

	maxDebugDepthLimit = 8
)

// Config is the binscope configuration.
type Config struct {
	// SearchPaths lists directories searched recursively for DWO, debuglink and PDB companions.
	SearchPaths []string `yaml:"search_paths" env:"BINSCOPE_SEARCH_PATHS" sep:";"`

	// Comprehensive forces eager decoding of all debug data at open time.
	Comprehensive bool `yaml:"comprehensive" env:"BINSCOPE_COMPREHENSIVE"`

	// MaxDebugDepth caps recursive opens of companion debug files.
	MaxDebugDepth int `yaml:"max_debug_depth" env:"BINSCOPE_MAX_DEBUG_DEPTH"`

	// MaxFileSize rejects inputs larger than this many bytes.
	MaxFileSize int64 `yaml:"max_file_size" env:"BINSCOPE_MAX_FILE_SIZE"`

	// UseMmap maps binaries instead of reading them into memory.
	UseMmap bool `yaml:"use_mmap" env:"BINSCOPE_USE_MMAP"`

	// FollowSymlinks allows opening binaries through symlinks.
	FollowSymlinks bool `yaml:"follow_symlinks" env:"BINSCOPE_FOLLOW_SYMLINKS"`

	Log logging.Config `yaml:"log"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		MaxDebugDepth:  DefaultMaxDebugDepth,
		MaxFileSize:    DefaultMaxFileSize,
		UseMmap:        true,
		FollowSymlinks: true,
		Log:            logging.DefaultConfig(),
	}
}

// Validate checks configuration bounds.
func (c *Config) Validate() error {
	if c.MaxDebugDepth < 0 || c.MaxDebugDepth > maxDebugDepthLimit {
		return fmt.Errorf("max_debug_depth must be between 0 and %d, got %d", maxDebugDepthLimit, c.MaxDebugDepth)
	}
	if c.MaxFileSize <= 0 {
		return fmt.Errorf("max_file_size must be positive, got %d", c.MaxFileSize)
	}
	for _, p := range c.SearchPaths {
		if p == "" {
			return fmt.Errorf("search_paths must not contain empty entries")
		}
	}
	return nil
}
