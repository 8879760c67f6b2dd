// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package terminal

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"slices"
	"testing"
	"time"

	"github.com/bureau-foundation/buildrelay/lib/failure"
	"github.com/bureau-foundation/buildrelay/lib/remote"
	"github.com/bureau-foundation/buildrelay/lib/remote/remotetest"
	"github.com/bureau-foundation/buildrelay/lib/testutil"
)

func TestTerminalAppLaunch(t *testing.T) {
	fake := remotetest.New()
	session := Session{Title: "Mac Build", Script: `cd '/Users/build/src' && ./build.sh > "/tmp/out" 2>&1`}

	if err := (TerminalApp{}).Launch(context.Background(), fake, session); err != nil {
		t.Fatalf("Launch: %v", err)
	}

	calls := fake.Calls()
	if len(calls) != 1 || calls[0].Name != "osascript" {
		t.Fatalf("calls = %v, want one osascript call", fake.Lines())
	}
	want := []string{
		"-e", `tell application "Terminal"`,
		"-e", "activate",
		"-e", `set newTab to do script "cd '/Users/build/src' && ./build.sh > \"/tmp/out\" 2>&1"`,
		"-e", `set custom title of newTab to "Mac Build"`,
		"-e", "end tell",
	}
	if !slices.Equal(calls[0].Args, want) {
		t.Errorf("args = %q\nwant   %q", calls[0].Args, want)
	}
}

func TestTerminalAppLaunchFailure(t *testing.T) {
	fake := remotetest.New()
	fake.OnResult("osascript", remote.Result{ExitCode: 1, Stderr: "execution error: Not authorized"})

	err := (TerminalApp{}).Launch(context.Background(), fake, Session{Title: "x", Script: "true"})
	if !failure.Is(err, failure.CommandExecution) {
		t.Fatalf("error = %v, want command execution failure", err)
	}
}

func TestTerminalAppClose(t *testing.T) {
	fake := remotetest.New()
	if err := (TerminalApp{}).Close(context.Background(), fake, "Mac Build"); err != nil {
		t.Fatalf("Close: %v", err)
	}
	want := `osascript -e tell application "Terminal" to close (every window whose name contains "Mac Build")`
	if lines := fake.Lines(); len(lines) != 1 || lines[0] != want {
		t.Errorf("lines = %q, want %q", lines, want)
	}
}

func TestTmuxCommands(t *testing.T) {
	fake := remotetest.New()
	launcher := Tmux{SocketPath: "/tmp/build.sock", ConfigFile: "/dev/null"}

	if err := launcher.Launch(context.Background(), fake, Session{Title: "bh.mac build", Script: "./build.sh"}); err != nil {
		t.Fatalf("Launch: %v", err)
	}
	if err := launcher.Close(context.Background(), fake, "bh.mac build"); err != nil {
		t.Fatalf("Close: %v", err)
	}

	want := []string{
		"tmux -f /dev/null -S /tmp/build.sock new-session -d -s bh-mac-build sh -c ./build.sh",
		"tmux -S /tmp/build.sock kill-session -t bh-mac-build",
	}
	if got := fake.Lines(); !slices.Equal(got, want) {
		t.Errorf("lines = %q\nwant    %q", got, want)
	}
}

func TestTmuxCloseMissingSession(t *testing.T) {
	for _, message := range []string{"can't find session: build", "no server running on /tmp/x"} {
		fake := remotetest.New()
		fake.OnResult("tmux", remote.Result{ExitCode: 1, Stderr: message})
		if err := (Tmux{}).Close(context.Background(), fake, "build"); err != nil {
			t.Errorf("Close with %q: %v", message, err)
		}
	}

	fake := remotetest.New()
	fake.OnResult("tmux", remote.Result{ExitCode: 1, Stderr: "permission denied"})
	if err := (Tmux{}).Close(context.Background(), fake, "build"); err == nil {
		t.Error("Close with unexpected tmux error returned nil")
	}
}

func TestSessionName(t *testing.T) {
	tests := map[string]string{
		"BaseHead Build": "BaseHead-Build",
		"bh.mac:1":       "bh-mac-1",
		"   ":            "buildrelay",
	}
	for title, want := range tests {
		if got := SessionName(title); got != want {
			t.Errorf("SessionName(%q) = %q, want %q", title, got, want)
		}
	}
}

func TestNew(t *testing.T) {
	for _, kind := range []string{KindTerminalApp, KindTmux, KindDetached, ""} {
		launcher, err := New(kind, Options{})
		if err != nil {
			t.Errorf("New(%q): %v", kind, err)
			continue
		}
		if kind != "" && launcher.Kind() != kind {
			t.Errorf("New(%q).Kind() = %q", kind, launcher.Kind())
		}
	}
	if _, err := New("screen", Options{}); !failure.Is(err, failure.Configuration) {
		t.Errorf("New(screen) error = %v, want configuration failure", err)
	}
}

func TestTmuxLocalServer(t *testing.T) {
	if _, err := exec.LookPath("tmux"); err != nil {
		t.Skip("tmux not installed")
	}
	socket := filepath.Join(testutil.SocketDir(t), "tmux.sock")
	launcher := Tmux{SocketPath: socket, ConfigFile: "/dev/null"}
	executor := remote.NewLocal(nil)
	ctx := context.Background()
	t.Cleanup(func() {
		executor.Execute(ctx, remote.Command{Name: "tmux", Args: []string{"-S", socket, "kill-server"}})
	})

	if err := launcher.Launch(ctx, executor, Session{Title: "local build", Script: "sleep 60"}); err != nil {
		t.Fatalf("Launch: %v", err)
	}
	if !launcher.HasSession(ctx, executor, "local build") {
		t.Fatal("session missing after Launch")
	}
	if err := launcher.Close(ctx, executor, "local build"); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if launcher.HasSession(ctx, executor, "local build") {
		t.Fatal("session still present after Close")
	}
	if err := launcher.Close(ctx, executor, "local build"); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}

func TestDetachedLocal(t *testing.T) {
	path := filepath.Join(t.TempDir(), "done")
	err := (Detached{}).Launch(context.Background(), remote.NewLocal(nil),
		Session{Title: "detached", Script: "echo ok > " + remote.Quote(path)})
	if err != nil {
		t.Fatalf("Launch: %v", err)
	}

	written := make(chan struct{})
	go func() {
		for {
			if _, err := os.Stat(path); err == nil {
				close(written)
				return
			}
			runtime.Gosched()
		}
	}()
	testutil.RequireClosed(t, written, 10*time.Second, "detached script did not run")
}
