// Package config loads the TOML file that seeds a kernel server's mount
// table, dynamic-loader search paths, and heap sizing, following the
// Load/KernelHome/EnsureDir shape of dsmmcken-dh-cli's internal/config.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"
)

// Mount describes one entry to pre-populate the VFS mount table with at
// startup, mirroring the (source, target, fsType) triple vfs.Server.Mount
// takes at runtime.
type Mount struct {
	Source string `toml:"source"`
	Target string `toml:"target"`
	FSType string `toml:"fs_type"`
}

// Loader configures the userland dynamic loader's library search path.
type Loader struct {
	SearchPaths []string `toml:"search_paths,omitempty"`
}

// Heap configures the kernel slab/heap allocator's arena sizing.
type Heap struct {
	ArenaSizeKB  int `toml:"arena_size_kb,omitempty"`
	MaxArenas    int `toml:"max_arenas,omitempty"`
}

// Config represents a server's config.toml.
type Config struct {
	Socket   string  `toml:"socket,omitempty"`
	Verbose  bool    `toml:"verbose,omitempty"`
	Mounts   []Mount `toml:"mount,omitempty"`
	Loader   Loader  `toml:"loader,omitempty"`
	Heap     Heap    `toml:"heap,omitempty"`
}

// configDirOverride is set by the --config flag.
var configDirOverride string

// SetConfigDir allows a cobra command to pass in the --config flag's
// directory before calling Load.
func SetConfigDir(dir string) {
	configDirOverride = dir
}

// KernelHome returns the config directory path.
// Precedence: --config flag / SetConfigDir > KERNEL_HOME env > ~/.kernel
func KernelHome() string {
	if configDirOverride != "" {
		return configDirOverride
	}
	if v := os.Getenv("KERNEL_HOME"); v != "" {
		return v
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".kernel")
	}
	return filepath.Join(home, ".kernel")
}

// ConfigPath returns the full path to config.toml.
func ConfigPath() string {
	return filepath.Join(KernelHome(), "config.toml")
}

// EnsureDir creates the kernel home directory if it does not exist.
func EnsureDir() error {
	return os.MkdirAll(KernelHome(), 0o755)
}

// Load reads config.toml and returns a Config struct. A missing file
// yields a zero-value Config rather than an error, so a server can run
// off flag defaults alone.
func Load() (*Config, error) {
	cfg := &Config{}
	data, err := os.ReadFile(ConfigPath())
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("reading config: %w", err)
	}
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config.toml: %w", err)
	}
	return cfg, nil
}

// LoadFrom reads a TOML config from an explicit file path instead of
// ConfigPath(). Unlike Load, a missing file is an error.
func LoadFrom(path string) (*Config, error) {
	cfg := &Config{}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config.toml: %w", err)
	}
	return cfg, nil
}

// Save writes the Config struct back to config.toml.
func Save(cfg *Config) error {
	if err := EnsureDir(); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}
	data, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	return os.WriteFile(ConfigPath(), data, 0o644)
}
