// g2tool is a CLI utility for Ghoul2 GLM models and GLA skeletons.
package main

import (
	"flag"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/Faultbox/g2tools/internal/config"
	"github.com/Faultbox/g2tools/internal/fsys"
	"github.com/Faultbox/g2tools/internal/logger"
)

// env is what every command runs with.
type env struct {
	cfg   *config.Config
	log   *zap.Logger
	files *fsys.FS
}

type command struct {
	usage   string
	minArgs int
	flags   func(fs *flag.FlagSet)
	run     func(e *env, args []string) error
}

var commands = map[string]*command{
	"info":      {usage: "info <file>", minArgs: 1, run: cmdInfo},
	"validate":  {usage: "validate <model> [skeleton]", minArgs: 1, run: cmdValidate},
	"roundtrip": {usage: "roundtrip <file>", minArgs: 1, run: cmdRoundTrip},
	"export":    {usage: "export <model> [output.glb]", minArgs: 1, run: cmdExport},
	"import":    {usage: "import <file.glb> <model> [skeleton]", minArgs: 2, run: cmdImport},
	"scale":     {usage: "scale <file> <factor> [output]", minArgs: 2, run: cmdScale},
	"watch":     {usage: "watch [dir]", run: cmdWatch},
}

var aliases = map[string]string{
	"i":  "info",
	"v":  "validate",
	"rt": "roundtrip",
	"x":  "export",
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	name := os.Args[1]
	switch name {
	case "help", "-h", "--help":
		printUsage()
		return
	}
	if a, ok := aliases[name]; ok {
		name = a
	}
	cmd, ok := commands[name]
	if !ok {
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", name)
		printUsage()
		os.Exit(1)
	}

	os.Exit(runCommand(name, cmd, os.Args[2:]))
}

func runCommand(name string, cmd *command, args []string) int {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	flags := config.RegisterFlags(fs)
	if cmd.flags != nil {
		cmd.flags(fs)
	}
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: g2tool %s [options]\n\nOptions:\n", cmd.usage)
		fs.PrintDefaults()
	}
	fs.Parse(args)

	if fs.NArg() < cmd.minArgs {
		fs.Usage()
		return 1
	}

	cfg, err := config.Load(flags.ConfigPath, flags)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	opts := logger.Options{
		Level:   cfg.Logging.Level,
		Format:  cfg.Logging.Format,
		Console: true,
	}
	if cfg.Logging.LogFile != "" {
		opts.File = logger.DefaultFileConfig(cfg.Logging.LogFile)
	}
	if err := logger.Init(opts); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer logger.Sync()

	e := &env{
		cfg:   cfg,
		log:   logger.Named(name),
		files: fsys.NewOS(cfg.MaxInputBytes()),
	}
	if err := cmd.run(e, fs.Args()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func printUsage() {
	fmt.Println(`g2tool - Ghoul2 GLM/GLA model utility

Usage:
  g2tool <command> [options]

Commands:
  info <file>                          Show GLM or GLA contents
  validate <model> [skeleton]          Check a model binds to its skeleton
  roundtrip <file>                     Decode and re-encode, compare bytes
  export <model> [output.glb]          Convert GLM (+ GLA) to glTF binary
  import <file.glb> <model> [skeleton] Convert glTF back to GLM (+ GLA)
  scale <file> <factor> [output]       Scale a model or skeleton uniformly
  watch [dir]                          Re-validate files as they change

Common options:
  -config <file>   Config file (default: ./g2tool.yaml, then user config dir)
  -base <dir>      Game data root that model paths resolve against
  -out <dir>       Output directory
  -gla <path>      Skeleton to use instead of the one the model requests
  -scale <f>       Uniform scale for the glTF scene root
  -no-anim         Skip animation frames
  -debug           Debug logging

Examples:
  g2tool info models/players/kyle/model.glm
  g2tool validate -base ./base models/players/kyle/model
  g2tool export -base ./base -out ./gltf models/players/kyle/model
  g2tool import -out ./base kyle.glb models/players/kyle/model`)
}
