package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"

	"github.com/epoq/desktop/internal/config"
	"github.com/epoq/desktop/internal/runner"
)

// runScript implements the "epoq run" command: execute a Python script
// once and print its output. The process exits with the script's own
// exit status.
func runScript(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	fs.SetOutput(stderr)

	configPath := fs.String("config", "", "Path to config file (default: ~/.epoq/config.toml)")
	python := fs.String("python", "", "Python interpreter to use")
	scriptsDir := fs.String("scripts-dir", "", "Directory resolved against relative script names")

	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: epoq run [options] <script> [script args...]\n\nRun a Python script once and print its output.\n\nOptions:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 1
	}

	if fs.NArg() < 1 {
		fs.Usage()
		return 1
	}

	fileCfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	r := &runner.Runner{
		PythonBin:  fileCfg.PythonBin,
		ScriptsDir: fileCfg.ScriptsDir,
	}
	if *python != "" {
		r.PythonBin = *python
	}
	if *scriptsDir != "" {
		r.ScriptsDir = *scriptsDir
	}

	result, err := r.Run(context.Background(), fs.Arg(0), fs.Args()[1:]...)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	if result.Stdout != "" {
		fmt.Fprint(stdout, result.Stdout)
	}
	if result.Stderr != "" {
		fmt.Fprint(stderr, result.Stderr)
	}
	return result.ExitCode
}
