// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package gitsync brings a build host's working tree up to date with
// its remote branch before a build.
//
// [Synchronizer.Sync] runs a fixed sequence where every step can end
// the sync:
//
//  1. Check the repository path exists, then validate the SSH
//     environment (key readable, known_hosts present or created from
//     the configured host key entry, fallback key installed in a
//     service context). Fatal on failure; no network is touched.
//  2. Probe the git host with a bare "ssh -T". Permission denied is
//     fatal; other failures are retried.
//  3. Verify the path is a repository with the configured remote, and
//     check out the configured branch if another one is current.
//  4. Rewrite an http(s) remote URL to its SSH form and persist it.
//  5. fetch, then pull (merge, never rebase), each retried.
//  6. Summarize the latest commit.
//
// Retries: up to MaxAttempts tries, sleeping InitialBackoff and then
// doubling between tries, for transient network failures and
// timeouts. Authorization failures end the sync on the first attempt.
// Other git failures (merge conflicts, unknown refs) are not retried.
package gitsync

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/bureau-foundation/buildrelay/lib/clock"
	"github.com/bureau-foundation/buildrelay/lib/failure"
	"github.com/bureau-foundation/buildrelay/lib/git"
	"github.com/bureau-foundation/buildrelay/lib/remote"
)

// Defaults for Config.
const (
	DefaultRemote         = "origin"
	DefaultMaxAttempts    = 3
	DefaultInitialBackoff = time.Second
	DefaultProbeTimeout   = 10
)

// Config configures a Synchronizer.
type Config struct {
	// Executor runs git and ssh on the host holding the repository.
	Executor remote.Executor

	// Files accesses that host's filesystem. Default LocalFiles.
	Files Files

	// Remote is the git remote name. Default "origin".
	Remote string

	// RemoteMap maps http(s) remote URLs to the SSH URL that replaces
	// them. Unmapped http(s) URLs get the generic "git@host:path" form.
	RemoteMap map[string]string

	// MaxAttempts and InitialBackoff shape the retry policy.
	MaxAttempts    int
	InitialBackoff time.Duration

	// ProbeTimeoutSeconds is ssh's ConnectTimeout for the probe.
	ProbeTimeoutSeconds int

	Clock  clock.Clock
	Logger *slog.Logger
}

// Result is the outcome of one Sync.
type Result struct {
	Success bool

	// Message is a one-line human-readable outcome.
	Message string

	// LatestCommit is "<hash> - <subject> (<author>)" after a
	// successful pull.
	LatestCommit string

	// Step names the step that failed ("environment", "probe",
	// "repository", "remote", "fetch", "pull").
	Step string

	// Kind classifies the failure.
	Kind failure.Kind

	// Attempts counts tries of the failing (or last) retried step.
	Attempts int

	// Err is the underlying error for a failed sync.
	Err error
}

// Synchronizer runs Sync. Safe for concurrent use when the executor
// is; concurrent syncs of the same working tree are not coordinated.
type Synchronizer struct {
	executor       remote.Executor
	files          Files
	remote         string
	remoteMap      map[string]string
	maxAttempts    int
	initialBackoff time.Duration
	probeTimeout   int
	clock          clock.Clock
	logger         *slog.Logger
}

// New returns a Synchronizer, filling defaults into config.
func New(config Config) *Synchronizer {
	s := &Synchronizer{
		executor:       config.Executor,
		files:          config.Files,
		remote:         config.Remote,
		remoteMap:      config.RemoteMap,
		maxAttempts:    config.MaxAttempts,
		initialBackoff: config.InitialBackoff,
		probeTimeout:   config.ProbeTimeoutSeconds,
		clock:          config.Clock,
		logger:         config.Logger,
	}
	if s.files == nil {
		s.files = LocalFiles{}
	}
	if s.remote == "" {
		s.remote = DefaultRemote
	}
	if s.maxAttempts <= 0 {
		s.maxAttempts = DefaultMaxAttempts
	}
	if s.initialBackoff <= 0 {
		s.initialBackoff = DefaultInitialBackoff
	}
	if s.probeTimeout <= 0 {
		s.probeTimeout = DefaultProbeTimeout
	}
	if s.clock == nil {
		s.clock = clock.Real()
	}
	if s.logger == nil {
		s.logger = slog.New(slog.DiscardHandler)
	}
	return s
}

// Sync updates the working tree at repoDir to the tip of branch.
func (s *Synchronizer) Sync(ctx context.Context, repoDir, branch string, env SSHEnvironment) Result {
	logger := s.logger.With("repo", repoDir, "branch", branch)

	if repoDir == "" || branch == "" {
		return failed("environment", 0, failure.New(failure.Configuration, "sync", "repository path and branch are required"))
	}
	exists, err := s.files.Exists(ctx, repoDir)
	if err != nil {
		return failed("environment", 0, failure.Wrap(failure.EnvironmentValidation, "checking repository path", err))
	}
	if !exists {
		return failed("environment", 0, failure.New(failure.Configuration, "sync",
			fmt.Sprintf("repository path %s does not exist", repoDir)))
	}
	if err := s.validateEnvironment(ctx, env); err != nil {
		return failed("environment", 0, err)
	}

	logger.Info("probing git host", "target", env.Target())
	attempts, err := s.retry(ctx, logger, "probe", func() error { return s.probe(ctx, env) }, true)
	if err != nil {
		return failed("probe", attempts, err)
	}

	repository := git.NewRepository(s.executor, repoDir, git.WithSSHKey(env.KeyPath))

	if _, err := repository.GitDir(ctx); err != nil {
		return failed("repository", 0, failure.Wrap(failure.Configuration, "sync",
			fmt.Errorf("%s is not a git repository: %w", repoDir, err)))
	}
	current, err := repository.CurrentBranch(ctx)
	if err != nil {
		return failed("repository", 0, err)
	}
	if current != branch {
		logger.Info("checking out configured branch", "current_branch", current)
		if err := repository.Checkout(ctx, branch); err != nil {
			return failed("repository", 0, fmt.Errorf("checking out %s: %w", branch, err))
		}
	}

	remoteURL, err := repository.RemoteURL(ctx, s.remote)
	if err != nil {
		return failed("remote", 0, fmt.Errorf("resolving remote %s: %w", s.remote, err))
	}
	if rewritten, changed := NormalizeRemoteURL(remoteURL, s.remoteMap); changed {
		logger.Info("converting remote URL to ssh", "from", remoteURL, "to", rewritten)
		if err := repository.SetRemoteURL(ctx, s.remote, rewritten); err != nil {
			return failed("remote", 0, fmt.Errorf("setting ssh remote URL: %w", err))
		}
	}

	logger.Info("fetching")
	attempts, err = s.retry(ctx, logger, "fetch", func() error { return repository.Fetch(ctx, s.remote, branch) }, false)
	if err != nil {
		return failed("fetch", attempts, err)
	}
	logger.Info("pulling")
	attempts, err = s.retry(ctx, logger, "pull", func() error {
		_, err := repository.Pull(ctx, s.remote, branch)
		return err
	}, false)
	if err != nil {
		return failed("pull", attempts, err)
	}

	summary, err := repository.LastCommit(ctx)
	if err != nil {
		logger.Warn("reading latest commit failed", "error", err)
		summary = "unknown"
	}
	logger.Info("sync complete", "latest_commit", summary)
	return Result{
		Success:      true,
		Message:      fmt.Sprintf("Pulled latest changes from %s. Latest commit: %s", branch, summary),
		LatestCommit: summary,
		Attempts:     attempts,
	}
}

func failed(step string, attempts int, err error) Result {
	kind := failure.KindOf(err)
	if kind == failure.Unknown {
		kind = failure.Classify(err)
	}
	return Result{
		Message:  fmt.Sprintf("%s failed: %v", step, err),
		Step:     step,
		Kind:     kind,
		Attempts: attempts,
		Err:      err,
	}
}

// ProbeCommand returns the connectivity probe for env.
func ProbeCommand(env SSHEnvironment, timeoutSeconds int) remote.Command {
	return remote.Command{
		Name: "ssh",
		Args: []string{
			"-T",
			"-i", env.KeyPath,
			"-o", "StrictHostKeyChecking=accept-new",
			"-o", "BatchMode=yes",
			"-o", "ConnectTimeout=" + strconv.Itoa(timeoutSeconds),
			env.Target(),
		},
		Timeout: time.Duration(timeoutSeconds+5) * time.Second,
	}
}

// probe runs the ssh handshake. Git hosts refuse a shell, so exit 1
// after a successful handshake is normal; exit 255 is ssh's own
// failure. Authorization markers in the output win over exit codes.
func (s *Synchronizer) probe(ctx context.Context, env SSHEnvironment) error {
	const op = "ssh probe"
	result, err := s.executor.Execute(ctx, ProbeCommand(env, s.probeTimeout))
	if err != nil {
		return failure.Wrap(failure.Classify(err), op, err)
	}
	if result.TimedOut {
		return failure.New(failure.Timeout, op, "probe timed out")
	}
	output := strings.TrimSpace(result.Output())
	if failure.ClassifyOutput(output) == failure.Authorization {
		return failure.New(failure.Authorization, op, output)
	}
	if result.ExitCode == 0 || result.ExitCode == 1 {
		return nil
	}
	kind := failure.ClassifyOutput(output)
	if kind == failure.Unknown {
		kind = failure.TransientNetwork
	}
	return failure.New(kind, op, fmt.Sprintf("exit code %d: %s", result.ExitCode, output))
}

// retryable reports whether a failure of kind is worth another try.
func retryable(kind failure.Kind) bool {
	return kind.Retryable() || kind == failure.Timeout
}

// retry runs fn up to maxAttempts times. Between tries it waits
// initialBackoff, doubling each time. Authorization and other
// non-retryable failures return at once. When retryUnknown is set,
// failures nobody could classify count as retryable.
func (s *Synchronizer) retry(ctx context.Context, logger *slog.Logger, step string, fn func() error, retryUnknown bool) (int, error) {
	backoff := s.initialBackoff
	for attempt := 1; ; attempt++ {
		err := fn()
		if err == nil {
			return attempt, nil
		}
		if ctx.Err() != nil {
			return attempt, ctx.Err()
		}
		kind := failure.KindOf(err)
		if kind == failure.Unknown {
			kind = failure.Classify(err)
		}
		canRetry := retryable(kind) || (retryUnknown && kind == failure.Unknown)
		if !canRetry {
			logger.Error(step+" failed", "attempt", attempt, "kind", kind.String(), "error", err)
			return attempt, err
		}
		if attempt >= s.maxAttempts {
			logger.Error(step+" failed after retries", "attempts", attempt, "kind", kind.String(), "error", err)
			return attempt, fmt.Errorf("%s failed after %d attempts: %w", step, attempt, err)
		}
		logger.Warn(step+" failed, retrying", "attempt", attempt, "backoff", backoff, "kind", kind.String(), "error", err)
		if err := clock.Wait(ctx, s.clock, backoff); err != nil {
			return attempt, err
		}
		backoff *= 2
	}
}
