// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package git provides typed access to the git CLI on a local or
// remote host. Every command runs through a [remote.Executor] and
// targets one repository directory via "git -C <dir>", injected by all
// Repository methods, so the same code drives a working tree on the
// orchestrating machine and one on a build host reached over SSH.
//
// Failed commands return a [failure.Error] whose Kind comes from the
// command's output: authentication rejections are Authorization,
// network trouble is TransientNetwork, anything else is
// CommandExecution. Callers decide about retries.
package git

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bureau-foundation/buildrelay/lib/failure"
	"github.com/bureau-foundation/buildrelay/lib/remote"
)

// DefaultTimeout bounds a single git command. Fetch and pull on a
// large repository over a slow link need more than the executor's
// default.
const DefaultTimeout = 5 * time.Minute

// nonInteractiveEnv keeps git from ever waiting on a prompt: a
// credential prompt on a headless build host would hang until the
// command timeout.
var nonInteractiveEnv = map[string]string{
	"GIT_TERMINAL_PROMPT": "0",
	"GCM_INTERACTIVE":     "never",
}

// Repository is a git repository at a specific directory on the host
// behind its executor.
type Repository struct {
	dir      string
	executor remote.Executor
	env      map[string]string
	timeout  time.Duration
}

// Option configures a Repository.
type Option func(*Repository)

// WithEnv adds environment variables to every git command.
func WithEnv(env map[string]string) Option {
	return func(r *Repository) {
		for name, value := range env {
			r.env[name] = value
		}
	}
}

// WithSSHKey makes git's ssh transport use keyPath exclusively, with
// BatchMode so a rejected key fails instead of prompting.
func WithSSHKey(keyPath string) Option {
	return func(r *Repository) {
		if keyPath == "" {
			return
		}
		r.env["GIT_SSH_COMMAND"] = "ssh -i " + remote.Quote(keyPath) +
			" -o IdentitiesOnly=yes -o BatchMode=yes -o StrictHostKeyChecking=accept-new"
	}
}

// WithTimeout overrides DefaultTimeout.
func WithTimeout(timeout time.Duration) Option {
	return func(r *Repository) { r.timeout = timeout }
}

// NewRepository returns a Repository for dir on executor's host.
func NewRepository(executor remote.Executor, dir string, options ...Option) *Repository {
	repository := &Repository{
		dir:      dir,
		executor: executor,
		env:      make(map[string]string, len(nonInteractiveEnv)),
		timeout:  DefaultTimeout,
	}
	for name, value := range nonInteractiveEnv {
		repository.env[name] = value
	}
	for _, option := range options {
		option(repository)
	}
	return repository
}

// Dir returns the repository directory.
func (r *Repository) Dir() string {
	return r.dir
}

// Command returns the remote.Command for a git invocation in this
// repository without running it.
func (r *Repository) Command(args ...string) remote.Command {
	return remote.Command{
		Name:    "git",
		Args:    append([]string{"-C", r.dir}, args...),
		Env:     r.env,
		Timeout: r.timeout,
	}
}

// Exec runs git and returns the raw result. A non-nil error means the
// command could not run; a non-zero exit is in the result.
func (r *Repository) Exec(ctx context.Context, args ...string) (remote.Result, error) {
	result, err := r.executor.Execute(ctx, r.Command(args...))
	if err != nil {
		return result, failure.Wrap(failure.Classify(err), r.op(args), err)
	}
	return result, nil
}

// Run executes git and returns stdout. A non-zero exit or timeout
// becomes a classified error carrying stderr.
func (r *Repository) Run(ctx context.Context, args ...string) (string, error) {
	result, err := r.Exec(ctx, args...)
	if err != nil {
		return "", err
	}
	if err := resultError(r.op(args), result); err != nil {
		return "", err
	}
	return result.Stdout, nil
}

func (r *Repository) op(args []string) string {
	return fmt.Sprintf("git %s in %s", strings.Join(args, " "), r.dir)
}

// resultError converts an unsuccessful result into a classified error.
func resultError(op string, result remote.Result) error {
	if result.TimedOut {
		return failure.New(failure.Timeout, op, "command timed out")
	}
	if result.ExitCode == 0 {
		return nil
	}
	output := strings.TrimSpace(result.Output())
	kind := failure.ClassifyOutput(output)
	if kind == failure.Unknown {
		kind = failure.CommandExecution
	}
	return failure.New(kind, op, fmt.Sprintf("exit code %d: %s", result.ExitCode, output))
}
