// Package runner executes the host's data-science scripts: one-shot helpers
// that return their output as a string, and the long-running training job
// whose log lines are streamed live to the control channel.
package runner

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"path/filepath"

	apperrors "github.com/epoq/desktop/internal/errors"
)

// Result holds the captured output of a one-shot script run.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Runner executes Python scripts from a scripts directory.
type Runner struct {
	// PythonBin is the interpreter to use. Empty means autodetect:
	// python3 first, then python (some platforms only ship one of the two).
	PythonBin string

	// ScriptsDir is prepended to relative script paths.
	ScriptsDir string
}

// Interpreter resolves the Python interpreter to invoke.
// Returns a runner.interpreter_missing error if none is on PATH.
func (r *Runner) Interpreter() (string, error) {
	if r.PythonBin != "" {
		return r.PythonBin, nil
	}
	for _, candidate := range []string{"python3", "python"} {
		if path, err := exec.LookPath(candidate); err == nil {
			return path, nil
		}
	}
	return "", apperrors.New(apperrors.CodeRunnerInterpreterMissing,
		"no python interpreter found on PATH")
}

// ScriptPath resolves a script name against the scripts directory.
// Absolute paths are used as-is.
func (r *Runner) ScriptPath(script string) string {
	if filepath.IsAbs(script) || r.ScriptsDir == "" {
		return script
	}
	return filepath.Join(r.ScriptsDir, script)
}

// Run executes a script to completion and returns its output and exit
// status. A non-zero exit is not an error here; callers inspect ExitCode.
// Only a failure to start the process at all is reported as an error.
func (r *Runner) Run(ctx context.Context, script string, args ...string) (*Result, error) {
	interpreter, err := r.Interpreter()
	if err != nil {
		return nil, err
	}

	cmdArgs := append([]string{r.ScriptPath(script)}, args...)
	cmd := exec.CommandContext(ctx, interpreter, cmdArgs...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err = cmd.Run()
	result := &Result{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
			return result, nil
		}
		return nil, apperrors.Wrap(apperrors.CodeRunnerSpawnFailed,
			"failed to run "+script, err)
	}

	return result, nil
}
