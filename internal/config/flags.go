package config

import "flag"

// Flags holds command-line overrides. Zero values leave the config untouched.
type Flags struct {
	ConfigPath string
	Debug      bool
	BasePath   string
	OutputDir  string
	Scale      float64
	NoAnim     bool
	Skeleton   string
	LogFile    string
	JSONLogs   bool
}

// RegisterFlags defines the shared flags on fs.
func RegisterFlags(fs *flag.FlagSet) *Flags {
	f := &Flags{}
	fs.StringVar(&f.ConfigPath, "config", "", "Path to config file")
	fs.BoolVar(&f.Debug, "debug", false, "Enable debug logging")
	fs.StringVar(&f.BasePath, "base", "", "Game data root")
	fs.StringVar(&f.OutputDir, "out", "", "Output directory")
	fs.Float64Var(&f.Scale, "scale", 0, "Uniform scale for the scene root")
	fs.BoolVar(&f.NoAnim, "no-anim", false, "Skip animation frames")
	fs.StringVar(&f.Skeleton, "gla", "", "Skeleton to use instead of the one the model requests")
	fs.StringVar(&f.LogFile, "log", "", "Log file path")
	fs.BoolVar(&f.JSONLogs, "json-logs", false, "Write logs as JSON")
	return f
}

// apply applies CLI flag overrides to the config.
func (f *Flags) apply(cfg *Config) {
	if f == nil {
		return
	}
	if f.Debug {
		cfg.Logging.Level = "debug"
	}
	if f.BasePath != "" {
		cfg.Paths.BasePath = f.BasePath
	}
	if f.OutputDir != "" {
		cfg.Paths.OutputDir = f.OutputDir
	}
	if f.Scale > 0 {
		cfg.Import.Scale = float32(f.Scale)
	}
	if f.NoAnim {
		cfg.Import.Animations = false
	}
	if f.Skeleton != "" {
		cfg.Import.Skeleton = f.Skeleton
	}
	if f.LogFile != "" {
		cfg.Logging.LogFile = f.LogFile
	}
	if f.JSONLogs {
		cfg.Logging.Format = "json"
	}
}
