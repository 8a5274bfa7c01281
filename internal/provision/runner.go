package provision

import (
	"context"
	"errors"
	"os"
	"os/exec"
)

// Runner executes the external tools of the pipeline (git, make).
type Runner interface {
	// Run executes name with args in dir and returns its combined output.
	// A non-zero exit status is reported as an error for which ExitCode
	// returns the status.
	Run(ctx context.Context, dir, name string, args ...string) ([]byte, error)
}

// ExecRunner runs tools as host processes.
type ExecRunner struct {
	// Env is appended to the host environment.
	Env []string
}

// Run implements Runner.
func (r ExecRunner) Run(ctx context.Context, dir, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	if len(r.Env) > 0 {
		cmd.Env = append(os.Environ(), r.Env...)
	}
	out, err := cmd.CombinedOutput()
	if err != nil && ctx.Err() != nil {
		return out, errors.Join(err, ctx.Err())
	}
	return out, err
}

// ExitCode extracts a process exit status from a Runner error, or -1 when
// the process did not run to completion.
func ExitCode(err error) int {
	var exitErr interface{ ExitCode() int }
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}
