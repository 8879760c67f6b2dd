// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package terminal starts shell scripts inside an interactive session
// on a host reached through a [remote.Executor].
//
// Some build tools only work when run from a real terminal (they need
// a login keychain, a window server, or a tty). A plain SSH pipe cannot
// provide that, so the script is handed to a session launcher and the
// caller supervises completion out of band (see lib/remotejob).
// Launching returns as soon as the session has been asked to start the
// script; it does not wait for the script.
//
// Three launchers exist:
//   - [TerminalApp] opens a macOS Terminal.app window via osascript
//   - [Tmux] starts a detached tmux session, optionally on a dedicated
//     server socket
//   - [Detached] backgrounds the script with nohup (no visible session)
package terminal

import (
	"context"
	"fmt"
	"strings"

	"github.com/bureau-foundation/buildrelay/lib/failure"
	"github.com/bureau-foundation/buildrelay/lib/remote"
)

// Session describes what to start.
type Session struct {
	// Title names the session. Terminal.app shows it as the tab title
	// and matches it when closing; tmux derives the session name from
	// it.
	Title string

	// Script is a POSIX shell command line run by "sh -c".
	Script string
}

// Launcher starts and closes interactive sessions.
type Launcher interface {
	// Launch asks the host to start session.Script and returns once
	// the request has been accepted.
	Launch(ctx context.Context, executor remote.Executor, session Session) error

	// Close tears down sessions with the given title. Sessions that
	// are already gone are not an error.
	Close(ctx context.Context, executor remote.Executor, title string) error

	// Kind returns the launcher's configuration name.
	Kind() string
}

// Launcher kind names used in target definitions.
const (
	KindTerminalApp = "terminal-app"
	KindTmux        = "tmux"
	KindDetached    = "detached"
)

// Options carries launcher-specific settings.
type Options struct {
	// TmuxSocket selects a dedicated tmux server. Empty uses the
	// host user's default server.
	TmuxSocket string
}

// New returns the launcher named by kind.
func New(kind string, options Options) (Launcher, error) {
	switch kind {
	case KindTerminalApp, "":
		return TerminalApp{}, nil
	case KindTmux:
		return Tmux{SocketPath: options.TmuxSocket, ConfigFile: "/dev/null"}, nil
	case KindDetached:
		return Detached{}, nil
	default:
		return nil, failure.New(failure.Configuration, "terminal launcher",
			fmt.Sprintf("unknown launcher %q (want %s, %s, or %s)", kind, KindTerminalApp, KindTmux, KindDetached))
	}
}

// run executes cmd and converts a non-zero exit into a
// CommandExecution failure carrying the command's output.
func run(ctx context.Context, executor remote.Executor, op string, cmd remote.Command) (remote.Result, error) {
	result, err := executor.Execute(ctx, cmd)
	if err != nil {
		return result, fmt.Errorf("%s: %w", op, err)
	}
	if result.TimedOut {
		return result, failure.New(failure.Timeout, op, "command timed out")
	}
	if result.ExitCode != 0 {
		return result, failure.New(failure.CommandExecution, op,
			fmt.Sprintf("exit code %d: %s", result.ExitCode, strings.TrimSpace(result.Output())))
	}
	return result, nil
}
