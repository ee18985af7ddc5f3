package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"gopkg.in/yaml.v3"
)

// FileName is the config file name searched for by FindConfigFile.
const FileName = "g2tool.yaml"

// Load loads configuration with priority: defaults < file < flags.
// An empty path searches the standard locations; a missing file there is
// not an error.
func Load(path string, f *Flags) (*Config, error) {
	cfg := Default()

	if path == "" && f != nil {
		path = f.ConfigPath
	}
	if path == "" {
		path = FindConfigFile()
	}

	if path != "" {
		if err := loadFromFile(cfg, path); err != nil {
			return nil, fmt.Errorf("loading config from %s: %w", path, err)
		}
	}

	f.apply(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FindConfigFile looks for config in standard locations.
func FindConfigFile() string {
	candidates := []string{
		filepath.Join(".", FileName),
		filepath.Join(ConfigDir(), FileName),
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// ConfigDir returns the OS-appropriate config directory.
func ConfigDir() string {
	switch runtime.GOOS {
	case "darwin":
		home, _ := os.UserHomeDir()
		return filepath.Join(home, "Library", "Application Support", "g2tools")
	case "windows":
		return filepath.Join(os.Getenv("APPDATA"), "g2tools")
	default:
		if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
			return filepath.Join(xdg, "g2tools")
		}
		home, _ := os.UserHomeDir()
		return filepath.Join(home, ".config", "g2tools")
	}
}

// loadFromFile loads config from a YAML file, merging with existing values.
func loadFromFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, cfg)
}
