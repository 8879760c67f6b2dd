// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package terminal

import (
	"context"
	"errors"
	"strings"

	"github.com/bureau-foundation/buildrelay/lib/failure"
	"github.com/bureau-foundation/buildrelay/lib/remote"
)

// Tmux starts a detached tmux session running the script.
//
// When SocketPath is set every command carries "-S <socket>", so the
// build sessions live on a dedicated server and never touch the host
// user's own tmux. ConfigFile is passed as "-f" on new-session, the
// only command that may start the server; "/dev/null" keeps the user's
// ~/.tmux.conf out of it.
type Tmux struct {
	SocketPath string
	ConfigFile string
}

// Kind returns KindTmux.
func (Tmux) Kind() string { return KindTmux }

// Launch creates the session with "sh -c <script>" as its command. The
// session ends when the script exits.
func (t Tmux) Launch(ctx context.Context, executor remote.Executor, session Session) error {
	var args []string
	if t.ConfigFile != "" {
		args = append(args, "-f", t.ConfigFile)
	}
	args = append(args, t.socketArgs()...)
	args = append(args, "new-session", "-d", "-s", SessionName(session.Title), "sh", "-c", session.Script)

	_, err := run(ctx, executor, "tmux new-session "+SessionName(session.Title), remote.Command{Name: "tmux", Args: args})
	return err
}

// Close kills the session. "can't find session" and "no server
// running" mean it is already gone.
func (t Tmux) Close(ctx context.Context, executor remote.Executor, title string) error {
	args := append(t.socketArgs(), "kill-session", "-t", SessionName(title))
	_, err := run(ctx, executor, "tmux kill-session "+SessionName(title), remote.Command{Name: "tmux", Args: args})
	if err == nil {
		return nil
	}
	var failed *failure.Error
	if errors.As(err, &failed) && failed.Kind == failure.CommandExecution &&
		(strings.Contains(failed.Detail, "can't find session") ||
			strings.Contains(failed.Detail, "no server running")) {
		return nil
	}
	return err
}

// HasSession reports whether a session derived from title exists.
func (t Tmux) HasSession(ctx context.Context, executor remote.Executor, title string) bool {
	args := append(t.socketArgs(), "has-session", "-t", SessionName(title))
	result, err := executor.Execute(ctx, remote.Command{Name: "tmux", Args: args})
	return err == nil && result.Succeeded()
}

func (t Tmux) socketArgs() []string {
	if t.SocketPath == "" {
		return nil
	}
	return []string{"-S", t.SocketPath}
}

// SessionName converts a title into a tmux session name. tmux treats
// '.' and ':' as target separators, so those and whitespace become '-'.
func SessionName(title string) string {
	name := strings.Map(func(r rune) rune {
		switch r {
		case '.', ':', ' ', '\t', '\n':
			return '-'
		}
		return r
	}, strings.TrimSpace(title))
	if name == "" {
		return "buildrelay"
	}
	return name
}
