package services

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"time"
)

// Execution captures the observable outcome of one subprocess invocation.
type Execution struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Duration time.Duration
	TimedOut bool
}

// CommandRunner is the narrow seam between services and the operating
// system. Tests substitute a fake to assert argument construction and
// timeout behavior without spawning anything.
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) (Execution, error)
}

// ExecRunner runs commands with os/exec. The context deadline terminates the
// subprocess; WaitDelay bounds how long we wait for it to die afterwards so a
// wedged process cannot hold the worker hostage.
type ExecRunner struct {
	// KillGrace is how long Wait blocks after the context is cancelled
	// before the process is killed outright. Zero means 10 seconds.
	KillGrace time.Duration
}

func (r ExecRunner) Run(ctx context.Context, name string, args ...string) (Execution, error) {
	grace := r.KillGrace
	if grace <= 0 {
		grace = 10 * time.Second
	}

	cmd := exec.CommandContext(ctx, name, args...) //nolint:gosec
	cmd.WaitDelay = grace

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	result := Execution{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}

	if ctx.Err() != nil {
		result.TimedOut = errors.Is(ctx.Err(), context.DeadlineExceeded)
		result.ExitCode = -1
		return result, ctx.Err()
	}

	var exitErr *exec.ExitError
	switch {
	case err == nil:
		result.ExitCode = 0
		return result, nil
	case errors.As(err, &exitErr):
		result.ExitCode = exitErr.ExitCode()
		return result, nil
	default:
		result.ExitCode = -1
		return result, err
	}
}
