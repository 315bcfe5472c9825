// Package task provides the atomic execution unit of the pipeline: running
// one external command to completion with a timeout and captured output.
package task

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"time"

	"github.com/joseguzman1337/autopilot/internal/models"
)

// Failure reasons reported by the runner. Agents use ReasonNotFound to
// downgrade missing optional tools to Degraded instead of Failure.
const (
	ReasonTimeout   = "timeout"
	ReasonNotFound  = "not found"
	ReasonCancelled = "cancelled"
)

// Command describes a single external invocation.
type Command struct {
	Program string
	Args    []string
	Dir     string
	Timeout time.Duration
}

// Result captures the outcome of running a Command. Results live only for
// the duration of one cycle; nothing here is persisted directly.
type Result struct {
	Command  Command
	Outcome  models.Outcome
	Stdout   string
	Stderr   string
	ExitCode int
	Duration time.Duration
}

// Runner executes external commands. Implementations must be safe for
// concurrent use by multiple agents.
type Runner interface {
	Run(ctx context.Context, cmd Command) Result
}

// ExecRunner runs commands via os/exec. DefaultTimeout applies when a
// Command carries no timeout of its own.
type ExecRunner struct {
	DefaultTimeout time.Duration
}

// NewRunner creates an ExecRunner with the given default timeout.
func NewRunner(defaultTimeout time.Duration) *ExecRunner {
	return &ExecRunner{DefaultTimeout: defaultTimeout}
}

// Run executes the command to completion or until its timeout elapses,
// whichever comes first. On timeout the process is forcibly terminated and
// the outcome is Failure("timeout"). A missing executable is reported as
// Failure("not found"), never silently swallowed.
func (r *ExecRunner) Run(ctx context.Context, cmd Command) Result {
	timeout := cmd.Timeout
	if timeout <= 0 {
		timeout = r.DefaultTimeout
	}

	runCtx := ctx
	var cancel context.CancelFunc
	if timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	start := time.Now()

	execCmd := exec.CommandContext(runCtx, cmd.Program, cmd.Args...)
	execCmd.Dir = cmd.Dir

	var stdout, stderr bytes.Buffer
	execCmd.Stdout = &stdout
	execCmd.Stderr = &stderr

	// Give the process a short grace period after cancellation before the
	// kill signal, so emergency stop terminates in-flight tools cleanly.
	execCmd.WaitDelay = 5 * time.Second

	err := execCmd.Run()

	result := Result{
		Command:  cmd,
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}

	switch {
	case err == nil:
		result.Outcome = models.Success()
	case errors.Is(err, exec.ErrNotFound):
		result.ExitCode = -1
		result.Outcome = models.Failure(ReasonNotFound)
	case ctx.Err() != nil:
		// Parent cancellation (emergency stop) wins over the per-command
		// deadline.
		result.ExitCode = -1
		result.Outcome = models.Failure(ReasonCancelled)
	case runCtx.Err() == context.DeadlineExceeded:
		result.ExitCode = -1
		result.Outcome = models.Failure(ReasonTimeout)
	default:
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
		} else {
			result.ExitCode = -1
		}
		result.Outcome = models.Failure(err.Error())
	}

	return result
}

// NotFound reports whether the result failed because the executable was
// missing.
func (r Result) NotFound() bool {
	return r.Outcome.IsFailure() && r.Outcome.Reason == ReasonNotFound
}
