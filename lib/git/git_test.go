// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package git

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/bureau-foundation/buildrelay/lib/failure"
	"github.com/bureau-foundation/buildrelay/lib/remote"
	"github.com/bureau-foundation/buildrelay/lib/remote/remotetest"
)

var identityEnv = []string{
	"GIT_AUTHOR_NAME=Test",
	"GIT_AUTHOR_EMAIL=test@test.local",
	"GIT_COMMITTER_NAME=Test",
	"GIT_COMMITTER_EMAIL=test@test.local",
	"GIT_CONFIG_NOSYSTEM=1",
}

func gitCommand(t *testing.T, dir string, args ...string) string {
	t.Helper()
	command := exec.Command("git", append([]string{"-C", dir}, args...)...)
	command.Env = append(os.Environ(), identityEnv...)
	output, err := command.CombinedOutput()
	if err != nil {
		t.Fatalf("git %s: %v\n%s", strings.Join(args, " "), err, output)
	}
	return string(output)
}

func commitFile(t *testing.T, dir, name, content, message string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	gitCommand(t, dir, "add", name)
	gitCommand(t, dir, "commit", "-m", message)
}

// initClones creates a bare origin with one commit on main and two
// independent clones of it: the one under test and a second one used
// to push new upstream commits.
func initClones(t *testing.T) (origin, clone, upstream string) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
	root := t.TempDir()
	origin = filepath.Join(root, "origin.git")
	gitCommand(t, root, "init", "--bare", "--initial-branch=main", origin)

	upstream = filepath.Join(root, "upstream")
	gitCommand(t, root, "clone", origin, upstream)
	gitCommand(t, upstream, "checkout", "-B", "main")
	commitFile(t, upstream, "README", "first\n", "initial commit")
	gitCommand(t, upstream, "push", "origin", "main")

	clone = filepath.Join(root, "clone")
	gitCommand(t, root, "clone", "--branch", "main", origin, clone)
	return origin, clone, upstream
}

func newTestRepository(dir string) *Repository {
	env := map[string]string{}
	for _, pair := range identityEnv {
		name, value, _ := strings.Cut(pair, "=")
		env[name] = value
	}
	return NewRepository(remote.NewLocal(nil), dir, WithEnv(env))
}

func TestRepositoryFetchPull(t *testing.T) {
	t.Parallel()
	_, clone, upstream := initClones(t)
	repository := newTestRepository(clone)
	ctx := context.Background()

	gitDir, err := repository.GitDir(ctx)
	if err != nil {
		t.Fatalf("GitDir: %v", err)
	}
	if gitDir != ".git" {
		t.Errorf("GitDir = %q, want .git", gitDir)
	}

	commitFile(t, upstream, "VERSION", "2026.01.02\n", "bump version")
	gitCommand(t, upstream, "push", "origin", "main")

	if err := repository.Fetch(ctx, "origin", "main"); err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if _, err := repository.Pull(ctx, "origin", "main"); err != nil {
		t.Fatalf("Pull: %v", err)
	}

	summary, err := repository.LastCommit(ctx)
	if err != nil {
		t.Fatalf("LastCommit: %v", err)
	}
	if !strings.HasSuffix(summary, " - bump version (Test)") {
		t.Errorf("LastCommit = %q, want \"<hash> - bump version (Test)\"", summary)
	}

	status, err := repository.Status(ctx)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if status != "" {
		t.Errorf("Status = %q, want clean tree", status)
	}
}

func TestRepositoryBranchAndRemote(t *testing.T) {
	t.Parallel()
	origin, clone, _ := initClones(t)
	repository := newTestRepository(clone)
	ctx := context.Background()

	branch, err := repository.CurrentBranch(ctx)
	if err != nil || branch != "main" {
		t.Fatalf("CurrentBranch = %q, %v; want main", branch, err)
	}

	gitCommand(t, clone, "branch", "release")
	if err := repository.Checkout(ctx, "release"); err != nil {
		t.Fatalf("Checkout: %v", err)
	}
	if branch, _ := repository.CurrentBranch(ctx); branch != "release" {
		t.Errorf("CurrentBranch after checkout = %q", branch)
	}

	url, err := repository.RemoteURL(ctx, "origin")
	if err != nil || url != origin {
		t.Fatalf("RemoteURL = %q, %v; want %q", url, err, origin)
	}
	if err := repository.SetRemoteURL(ctx, "origin", "git@example.com:team/repo.git"); err != nil {
		t.Fatalf("SetRemoteURL: %v", err)
	}
	if url, _ := repository.RemoteURL(ctx, "origin"); url != "git@example.com:team/repo.git" {
		t.Errorf("RemoteURL after set = %q", url)
	}
}

func TestRepositoryNotARepository(t *testing.T) {
	t.Parallel()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
	repository := newTestRepository(t.TempDir())
	_, err := repository.GitDir(context.Background())
	if !failure.Is(err, failure.CommandExecution) {
		t.Errorf("GitDir outside a repository: error = %v, want command execution failure", err)
	}
}

func TestRepositoryCommandShape(t *testing.T) {
	t.Parallel()
	fake := remotetest.New()
	repository := NewRepository(fake, "/Users/build/src", WithSSHKey("/Users/build/.ssh/id_ed25519"))

	if _, err := repository.Pull(context.Background(), "origin", "main"); err != nil {
		t.Fatalf("Pull: %v", err)
	}
	calls := fake.Calls()
	if len(calls) != 1 {
		t.Fatalf("calls = %q", fake.Lines())
	}
	if got, want := remotetest.Plain(calls[0]), "git -C /Users/build/src pull --no-rebase origin main"; got != want {
		t.Errorf("command = %q, want %q", got, want)
	}
	if calls[0].Env["GIT_TERMINAL_PROMPT"] != "0" {
		t.Error("GIT_TERMINAL_PROMPT not disabled")
	}
	if ssh := calls[0].Env["GIT_SSH_COMMAND"]; !strings.Contains(ssh, "-i /Users/build/.ssh/id_ed25519") || !strings.Contains(ssh, "BatchMode=yes") {
		t.Errorf("GIT_SSH_COMMAND = %q", ssh)
	}
	if calls[0].Timeout != DefaultTimeout {
		t.Errorf("Timeout = %v, want %v", calls[0].Timeout, DefaultTimeout)
	}
}

func TestRunClassifiesFailures(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		result remote.Result
		want   failure.Kind
	}{
		{"auth", remote.Result{ExitCode: 128, Stderr: "git@bitbucket.org: Permission denied (publickey).\nfatal: Could not read from remote repository."}, failure.Authorization},
		{"dns", remote.Result{ExitCode: 128, Stderr: "ssh: Could not resolve hostname bitbucket.org: nodename nor servname provided"}, failure.TransientNetwork},
		{"reset", remote.Result{ExitCode: 128, Stderr: "fatal: the remote end hung up unexpectedly"}, failure.TransientNetwork},
		{"conflict", remote.Result{ExitCode: 1, Stdout: "CONFLICT (content): Merge conflict in Version.xml"}, failure.CommandExecution},
		{"timeout", remote.Result{ExitCode: -1, TimedOut: true}, failure.Timeout},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			t.Parallel()
			fake := remotetest.New()
			fake.OnResult("git", test.result)
			_, err := NewRepository(fake, "/src").Run(context.Background(), "fetch", "origin", "main")
			if got := failure.KindOf(err); got != test.want {
				t.Errorf("kind = %s (error %v), want %s", got, err, test.want)
			}
		})
	}
}
