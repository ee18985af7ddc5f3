// Package config handles g2tool configuration loading and management.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/Faultbox/g2tools/pkg/formats"
)

// ErrInvalidConfig is returned by Validate.
var ErrInvalidConfig = errors.New("invalid config")

// Config holds all tool settings.
type Config struct {
	Paths   PathsConfig   `yaml:"paths"`
	Import  ImportConfig  `yaml:"import"`
	Export  ExportConfig  `yaml:"export"`
	Codec   CodecConfig   `yaml:"codec"`
	Watch   WatchConfig   `yaml:"watch"`
	Logging LoggingConfig `yaml:"logging"`
}

// PathsConfig holds file locations.
type PathsConfig struct {
	BasePath  string `yaml:"base_path"`  // game data root; relative model paths resolve against it
	OutputDir string `yaml:"output_dir"` // where export/import write; empty means next to the input
}

// ImportConfig controls loading GLM/GLA into a scene.
type ImportConfig struct {
	Scale      float32 `yaml:"scale"`
	Animations bool    `yaml:"animations"`
	Skeleton   string  `yaml:"skeleton"` // overrides the GLA named by the model; "*default" for none
}

// ExportConfig controls writing a scene back to GLM/GLA.
type ExportConfig struct {
	Skeleton  bool   `yaml:"skeleton"`   // also write the GLA
	Overwrite bool   `yaml:"overwrite"`  // replace existing files
	GLAName   string `yaml:"gla_name"`   // requested GLA stored in the GLM header
}

// CodecConfig bounds what the decoders accept.
type CodecConfig struct {
	MaxInputMB int `yaml:"max_input_mb"`
	MaxBones   int `yaml:"max_bones"`
	MaxFrames  int `yaml:"max_frames"`
}

// WatchConfig holds settings for the watch command.
type WatchConfig struct {
	Debounce time.Duration `yaml:"debounce"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level   string `yaml:"level"`
	Format  string `yaml:"format"` // console or json
	LogFile string `yaml:"log_file"`
}

// Default returns a Config with sensible default values.
func Default() *Config {
	lim := formats.DefaultLimits()
	return &Config{
		Paths: PathsConfig{
			BasePath: ".",
		},
		Import: ImportConfig{
			Scale:      1,
			Animations: true,
		},
		Export: ExportConfig{
			Skeleton: true,
		},
		Codec: CodecConfig{
			MaxInputMB: lim.MaxInputSize >> 20,
			MaxBones:   lim.MaxBones,
			MaxFrames:  lim.MaxFrames,
		},
		Watch: WatchConfig{
			Debounce: 250 * time.Millisecond,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Limits returns the decoder limits for this configuration.
func (c *Config) Limits() formats.Limits {
	lim := formats.DefaultLimits()
	lim.MaxInputSize = c.Codec.MaxInputMB << 20
	lim.MaxBones = c.Codec.MaxBones
	lim.MaxFrames = c.Codec.MaxFrames
	return lim
}

// MaxInputBytes returns the byte I/O size cap.
func (c *Config) MaxInputBytes() int64 {
	return int64(c.Codec.MaxInputMB) << 20
}

// Validate checks values that would make commands misbehave.
func (c *Config) Validate() error {
	switch {
	case c.Import.Scale <= 0:
		return fmt.Errorf("%w: import.scale must be positive, got %v", ErrInvalidConfig, c.Import.Scale)
	case c.Codec.MaxInputMB <= 0:
		return fmt.Errorf("%w: codec.max_input_mb must be positive, got %d", ErrInvalidConfig, c.Codec.MaxInputMB)
	case c.Codec.MaxBones <= 0 || c.Codec.MaxFrames <= 0:
		return fmt.Errorf("%w: codec bone and frame limits must be positive", ErrInvalidConfig)
	case c.Watch.Debounce < 0:
		return fmt.Errorf("%w: watch.debounce is negative", ErrInvalidConfig)
	}
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("%w: logging.format %q", ErrInvalidConfig, c.Logging.Format)
	}
	return nil
}
