// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package remote

import (
	"context"
	"io"
	"sort"
	"strings"
	"time"
)

// DefaultTimeout applies when a Command leaves Timeout zero.
const DefaultTimeout = 30 * time.Second

// Command describes one process invocation.
type Command struct {
	// Name is the program to run. Resolved through PATH on the
	// executing host.
	Name string

	// Args are passed to the program without shell interpretation
	// (locally) or individually quoted (remotely).
	Args []string

	// Dir is the working directory. Empty means the executor's default
	// (the current directory locally, the login directory remotely).
	Dir string

	// Env holds variables added to, or overriding, the inherited
	// environment.
	Env map[string]string

	// Timeout bounds the command's run time. Zero means DefaultTimeout;
	// negative means no timeout beyond the caller's context.
	Timeout time.Duration
}

// Shell returns a Command that runs script with "sh -c".
func Shell(script string) Command {
	return Command{Name: "sh", Args: []string{"-c", script}}
}

// WithTimeout returns a copy of c with the given timeout.
func (c Command) WithTimeout(timeout time.Duration) Command {
	c.Timeout = timeout
	return c
}

// InDir returns a copy of c that runs in dir.
func (c Command) InDir(dir string) Command {
	c.Dir = dir
	return c
}

// String renders the command for logs: program and arguments, quoted
// where needed, without directory or environment.
func (c Command) String() string {
	parts := make([]string, 0, len(c.Args)+1)
	parts = append(parts, Quote(c.Name))
	for _, arg := range c.Args {
		parts = append(parts, Quote(arg))
	}
	return strings.Join(parts, " ")
}

// Line renders the command as a single POSIX shell command line that
// changes directory and sets the environment before running the
// program. Remote executors send this line to the host's shell.
func (c Command) Line() string {
	var builder strings.Builder
	if c.Dir != "" {
		builder.WriteString("cd ")
		builder.WriteString(Quote(c.Dir))
		builder.WriteString(" && ")
	}
	if len(c.Env) > 0 {
		names := make([]string, 0, len(c.Env))
		for name := range c.Env {
			names = append(names, name)
		}
		sort.Strings(names)
		builder.WriteString("env")
		for _, name := range names {
			builder.WriteString(" ")
			builder.WriteString(Quote(name + "=" + c.Env[name]))
		}
		builder.WriteString(" ")
	}
	builder.WriteString(c.String())
	return builder.String()
}

func (c Command) effectiveTimeout() time.Duration {
	if c.Timeout == 0 {
		return DefaultTimeout
	}
	return c.Timeout
}

// Result is the outcome of one executed command.
type Result struct {
	// ExitCode is the process exit status. -1 when the process was
	// killed (timeout) or never reported a status.
	ExitCode int

	Stdout string
	Stderr string

	// TimedOut is set when the command was killed for exceeding its
	// timeout. Stdout and Stderr hold what was captured before.
	TimedOut bool
}

// Succeeded reports whether the command exited 0 within its timeout.
func (r Result) Succeeded() bool {
	return !r.TimedOut && r.ExitCode == 0
}

// Output returns stdout followed by stderr, for reports and error
// classification. Each stream is trimmed of trailing whitespace.
func (r Result) Output() string {
	stdout := strings.TrimRight(r.Stdout, " \t\r\n")
	stderr := strings.TrimRight(r.Stderr, " \t\r\n")
	switch {
	case stdout == "":
		return stderr
	case stderr == "":
		return stdout
	default:
		return stdout + "\n" + stderr
	}
}

// Executor runs commands. Implementations must be safe for concurrent
// use by multiple goroutines.
type Executor interface {
	// Execute runs cmd to completion or timeout. A non-nil error means
	// the command could not be run at all, or ctx was cancelled; in the
	// cancellation case the returned Result still holds partial output.
	Execute(ctx context.Context, cmd Command) (Result, error)
}

// ExecutorFunc adapts a function to the Executor interface.
type ExecutorFunc func(ctx context.Context, cmd Command) (Result, error)

// Execute calls f.
func (f ExecutorFunc) Execute(ctx context.Context, cmd Command) (Result, error) {
	return f(ctx, cmd)
}

// Downloader copies a file from a host. Host implements it over SSH;
// Local reads the local filesystem.
type Downloader interface {
	Download(ctx context.Context, path string, w io.Writer) (int64, error)
}
