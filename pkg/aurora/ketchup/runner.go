package ketchup

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"

	"k8s.io/klog/v2"
)

// Result is the raw outcome of one shell command.
type Result struct {
	Retval int
	Stdout string
	Stderr string
}

// Runner executes a command line and captures its output. Implementations
// may run locally or over a remote transport; parsing never depends on how
// the text was obtained.
type Runner interface {
	Run(ctx context.Context, command string) (Result, error)
}

// ExecRunner runs commands through a local shell.
type ExecRunner struct {
	Shell ShellType
}

// Run executes the command under the configured shell. A non-zero exit code
// is not an error here; it is reported in the result for the parsers to
// judge.
func (r ExecRunner) Run(ctx context.Context, command string) (Result, error) {
	var cmd *exec.Cmd
	switch r.Shell {
	case ShellPowershell:
		cmd = exec.CommandContext(ctx, "powershell", "-NoProfile", "-Command", command)
	case ShellBash, "":
		cmd = exec.CommandContext(ctx, "bash", "-c", command)
	default:
		return Result{}, fmt.Errorf("unsupported shell type %q", r.Shell)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	klog.V(4).InfoS("Running scheduler command", "command", command, "shell", r.Shell)

	err := cmd.Run()
	res := Result{Stdout: stdout.String(), Stderr: stderr.String()}
	if err != nil {
		var exit *exec.ExitError
		if errors.As(err, &exit) {
			res.Retval = exit.ExitCode()
			return res, nil
		}
		return res, fmt.Errorf("running %q: %w", command, err)
	}
	return res, nil
}
