// Package runner executes job commands as external processes, capturing both
// output streams and the exit status.
//
// Run never returns an error: timeouts and launch failures are folded into
// the Result as the sentinel exit code, so every outcome flows through the
// retry policy as an ordinary failure rather than escaping to the caller.
package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"
)

// ExitFailure is the sentinel exit code reported when a command times out or
// cannot be launched at all, distinguishing those outcomes from any exit
// code a real process could return.
const ExitFailure = -1

// Result holds the outcome of a single execution attempt.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// Ok reports whether the attempt succeeded (exit code 0).
func (r Result) Ok() bool { return r.ExitCode == 0 }

// Run executes command via `sh -c`, capturing stdout and stderr. A timeout
// of zero means unlimited. On timeout the process is killed and the Result
// carries ExitFailure with an explanatory stderr; the same applies when the
// command cannot be started.
func Run(ctx context.Context, command string, timeout time.Duration) Result {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()

	// Context checks come first: a killed process also reports a nonzero
	// exit, but the caller should see the timeout or cancellation, not the
	// kill.
	if timeout > 0 && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return Result{
			ExitCode: ExitFailure,
			Stdout:   stdout.String(),
			Stderr:   fmt.Sprintf("command timed out after %s", timeout),
		}
	}
	if ctx.Err() != nil {
		return Result{
			ExitCode: ExitFailure,
			Stdout:   stdout.String(),
			Stderr:   fmt.Sprintf("command cancelled: %v", ctx.Err()),
		}
	}

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return Result{
				ExitCode: exitErr.ExitCode(),
				Stdout:   stdout.String(),
				Stderr:   stderr.String(),
			}
		}
		// Could not launch at all (sh missing, resource limits, ...).
		return Result{
			ExitCode: ExitFailure,
			Stdout:   stdout.String(),
			Stderr:   fmt.Sprintf("failed to start command: %v", err),
		}
	}

	return Result{ExitCode: 0, Stdout: stdout.String(), Stderr: stderr.String()}
}
