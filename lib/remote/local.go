// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"time"

	"github.com/bureau-foundation/buildrelay/lib/failure"
)

// pipeDrainDelay bounds how long Execute waits for output pipes to
// close after the process group has been killed. A grandchild that
// escaped the group could otherwise hold stdout open forever.
const pipeDrainDelay = 2 * time.Second

// Local runs commands as child processes of this one.
type Local struct {
	// Logger receives one debug line per command. Nil disables
	// logging.
	Logger *slog.Logger
}

// NewLocal returns a Local executor.
func NewLocal(logger *slog.Logger) *Local {
	return &Local{Logger: logger}
}

// Execute starts cmd in its own process group with stdout and stderr
// captured into separate buffers. When the timeout fires the whole
// tree is killed so that children spawned by a build script die with
// it: SIGKILL to the negative PID on unix, taskkill /T on Windows.
func (l *Local) Execute(ctx context.Context, cmd Command) (Result, error) {
	if cmd.Name == "" {
		return Result{ExitCode: -1}, failure.New(failure.Configuration, "execute", "command name is empty")
	}

	runContext := ctx
	var cancel context.CancelFunc = func() {}
	if timeout := cmd.effectiveTimeout(); timeout > 0 {
		runContext, cancel = context.WithTimeout(ctx, timeout)
	}
	defer cancel()

	process := exec.CommandContext(runContext, programPath(cmd.Name), cmd.Args...)
	process.Dir = cmd.Dir
	if len(cmd.Env) > 0 {
		process.Env = os.Environ()
		for name, value := range cmd.Env {
			process.Env = append(process.Env, name+"="+value)
		}
	}

	var stdout, stderr bytes.Buffer
	process.Stdout = &stdout
	process.Stderr = &stderr

	isolateProcessTree(process)
	process.WaitDelay = pipeDrainDelay

	started := time.Now()
	runErr := process.Run()
	result := Result{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}

	if l.Logger != nil {
		l.Logger.Debug("command finished",
			"command", cmd.String(),
			"dir", cmd.Dir,
			"duration", time.Since(started),
			"error", runErr,
		)
	}

	if runErr == nil {
		return result, nil
	}

	// Parent cancellation takes precedence over our own timeout: the
	// caller asked us to stop, so report that rather than a timeout.
	if ctx.Err() != nil {
		result.ExitCode = -1
		return result, ctx.Err()
	}
	if errors.Is(runContext.Err(), context.DeadlineExceeded) {
		result.ExitCode = -1
		result.TimedOut = true
		return result, nil
	}

	var exitError *exec.ExitError
	if errors.As(runErr, &exitError) {
		result.ExitCode = exitError.ExitCode()
		return result, nil
	}

	result.ExitCode = -1
	if errors.Is(runErr, exec.ErrNotFound) || errors.Is(runErr, os.ErrNotExist) {
		return result, failure.Wrap(failure.Configuration, fmt.Sprintf("starting %s", cmd.Name), runErr)
	}
	return result, fmt.Errorf("running %s: %w", cmd.Name, runErr)
}

// Download copies a local file into w. Local targets use it where
// remote targets stream over SSH.
func (l *Local) Download(ctx context.Context, path string, w io.Writer) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	file, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return 0, failure.Wrap(failure.ArtifactNotFound, "download", err)
	}
	if err != nil {
		return 0, fmt.Errorf("opening %s: %w", path, err)
	}
	defer file.Close()
	return io.Copy(w, file)
}
