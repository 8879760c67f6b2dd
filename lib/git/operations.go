// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package git

import (
	"context"
	"strings"
)

// GitDir returns the repository's git directory ("rev-parse
// --git-dir"). Fails when Dir is not inside a repository.
func (r *Repository) GitDir(ctx context.Context) (string, error) {
	output, err := r.Run(ctx, "rev-parse", "--git-dir")
	return strings.TrimSpace(output), err
}

// CurrentBranch returns the checked-out branch name, or "" on a
// detached HEAD.
func (r *Repository) CurrentBranch(ctx context.Context) (string, error) {
	output, err := r.Run(ctx, "branch", "--show-current")
	return strings.TrimSpace(output), err
}

// Checkout switches to branch.
func (r *Repository) Checkout(ctx context.Context, branch string) error {
	_, err := r.Run(ctx, "checkout", branch)
	return err
}

// RemoteURL returns the fetch URL of remote.
func (r *Repository) RemoteURL(ctx context.Context, remote string) (string, error) {
	output, err := r.Run(ctx, "remote", "get-url", remote)
	return strings.TrimSpace(output), err
}

// SetRemoteURL changes remote's URL in the repository config.
func (r *Repository) SetRemoteURL(ctx context.Context, remote, url string) error {
	_, err := r.Run(ctx, "remote", "set-url", remote, url)
	return err
}

// SetConfig sets a repository-local config value.
func (r *Repository) SetConfig(ctx context.Context, key, value string) error {
	_, err := r.Run(ctx, "config", key, value)
	return err
}

// LsRemote checks that ref resolves on remote. Exit code 2 from
// "--exit-code" (no matching ref) is reported as an error like any
// other failure.
func (r *Repository) LsRemote(ctx context.Context, remote, ref string) (string, error) {
	output, err := r.Run(ctx, "ls-remote", "--exit-code", remote, ref)
	return strings.TrimSpace(output), err
}

// Fetch fetches branch from remote.
func (r *Repository) Fetch(ctx context.Context, remote, branch string) error {
	_, err := r.Run(ctx, "fetch", remote, branch)
	return err
}

// Pull merges branch from remote into the current branch. Never
// rebases, whatever the repository's pull.rebase setting says.
func (r *Repository) Pull(ctx context.Context, remote, branch string) (string, error) {
	output, err := r.Run(ctx, "pull", "--no-rebase", remote, branch)
	return strings.TrimSpace(output), err
}

// Status returns "status --porcelain=v1" output; empty means a clean
// working tree.
func (r *Repository) Status(ctx context.Context) (string, error) {
	output, err := r.Run(ctx, "status", "--no-ahead-behind", "--porcelain=v1")
	return strings.TrimRight(output, "\n"), err
}

// LastCommit returns "<short hash> - <subject> (<author>)" for HEAD.
func (r *Repository) LastCommit(ctx context.Context) (string, error) {
	output, err := r.Run(ctx, "log", "-1", "--pretty=format:%h - %s (%an)")
	return strings.TrimSpace(output), err
}
