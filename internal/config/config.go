// Package config provides TOML configuration file loading for the host.
// The configuration file lives at ~/.epoq/config.toml by default, but can
// be overridden with the --config flag. CLI flags always take precedence
// over file values.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config represents the host configuration file structure.
// Field names map to snake_case keys in the TOML file via struct tags.
type Config struct {
	// Addr is the host:port for the remote-control server.
	// Default: 0.0.0.0:8765
	Addr string `toml:"addr"`

	// PythonBin is the Python interpreter used to run training scripts.
	// If empty, python3 then python are tried on PATH.
	PythonBin string `toml:"python_bin"`

	// ScriptsDir is the directory resolved against relative script names.
	// Default: the current working directory.
	ScriptsDir string `toml:"scripts_dir"`

	// TrainScript is the training script launched by 'epoq serve --train'.
	TrainScript string `toml:"train_script"`

	// MdnsEnabled enables mDNS/Bonjour service advertisement.
	// When true, the host advertises itself on the local network so
	// companion apps can discover it without manual IP entry.
	// Default: false (must be explicitly enabled)
	MdnsEnabled bool `toml:"mdns_enabled"`

	// ClientQueueSize is the per-client outbound frame queue capacity.
	// Default: 256
	ClientQueueSize int `toml:"client_queue_size"`

	// OverflowPolicy controls what happens when a client's queue fills:
	// "drop" discards the frame, "disconnect" prunes the client.
	// Default: drop
	OverflowPolicy string `toml:"overflow_policy"`
}

// Validate checks config values for consistency. Zero values mean
// "use default" and are always valid.
func (c *Config) Validate() error {
	if c.ClientQueueSize < 0 {
		return fmt.Errorf("invalid client_queue_size: %d (must be non-negative)", c.ClientQueueSize)
	}
	switch c.OverflowPolicy {
	case "", "drop", "disconnect":
	default:
		return fmt.Errorf("invalid overflow_policy: %q (must be \"drop\" or \"disconnect\")", c.OverflowPolicy)
	}
	return nil
}

// DefaultConfigPath returns the default config file location: ~/.epoq/config.toml.
// Returns an error only if the user's home directory cannot be determined.
func DefaultConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".epoq", "config.toml"), nil
}

// Load reads a TOML config file from the given path and returns a Config.
//
// Behavior:
//   - If path is empty, attempts to load from the default location
//     (~/.epoq/config.toml). Returns an empty Config without error if the
//     default file doesn't exist.
//   - If path is specified, returns an error if the file doesn't exist.
//   - Returns an error if the file exists but cannot be parsed.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path == "" {
		// No explicit path: try the default location, but don't error
		// if missing. The host runs fine without a config file.
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			return cfg, nil
		}
		if _, err := os.Stat(defaultPath); os.IsNotExist(err) {
			return cfg, nil
		}
		path = defaultPath
	} else {
		// Explicit path provided: error if the file doesn't exist.
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	return cfg, nil
}
