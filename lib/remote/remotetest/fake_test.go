// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package remotetest

import (
	"context"
	"testing"

	"github.com/bureau-foundation/buildrelay/lib/remote"
)

func execute(t *testing.T, fake *Fake, name string, args ...string) remote.Result {
	t.Helper()
	result, err := fake.Execute(context.Background(), remote.Command{Name: name, Args: args})
	if err != nil {
		t.Fatalf("Execute(%s): %v", name, err)
	}
	return result
}

func TestLaterRegistrationOverridesSamePrefix(t *testing.T) {
	t.Parallel()

	fake := New()
	fake.OnResult("ssh -T", remote.Result{ExitCode: 0})
	fake.OnResult("ssh -T", remote.Result{ExitCode: 255, Stderr: "Permission denied (publickey)."})

	result := execute(t, fake, "ssh", "-T", "git@bitbucket.org")
	if result.ExitCode != 255 {
		t.Errorf("ExitCode = %d, want 255 from the later registration", result.ExitCode)
	}
}

func TestLongestPrefixWins(t *testing.T) {
	t.Parallel()

	fake := New()
	fake.OnResult("git -C /repo fetch", remote.Result{ExitCode: 128})
	fake.OnResult("git", remote.Result{Stdout: "generic"})

	if result := execute(t, fake, "git", "-C", "/repo", "fetch", "origin", "main"); result.ExitCode != 128 {
		t.Errorf("fetch ExitCode = %d, want 128 from the longer prefix", result.ExitCode)
	}
	if result := execute(t, fake, "git", "-C", "/repo", "status"); result.Stdout != "generic" {
		t.Errorf("status Stdout = %q, want the shorter prefix's result", result.Stdout)
	}
	if result := execute(t, fake, "ls"); result.ExitCode != 0 || result.Stdout != "" {
		t.Errorf("unmatched command = %+v, want the empty fallback result", result)
	}
}

func TestCountAndLines(t *testing.T) {
	t.Parallel()

	fake := New()
	execute(t, fake, "git", "fetch")
	execute(t, fake, "git", "pull")
	execute(t, fake, "rm", "-f", "/tmp/x")

	if got := fake.Count("git"); got != 2 {
		t.Errorf("Count(git) = %d, want 2", got)
	}
	lines := fake.Lines()
	if len(lines) != 3 || lines[2] != "rm -f /tmp/x" {
		t.Errorf("Lines = %q", lines)
	}
}
