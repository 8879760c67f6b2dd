// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package terminal

import (
	"context"
	"strings"

	"github.com/bureau-foundation/buildrelay/lib/remote"
)

// TerminalApp opens a macOS Terminal.app window running the script.
type TerminalApp struct{}

// Kind returns KindTerminalApp.
func (TerminalApp) Kind() string { return KindTerminalApp }

// Launch runs osascript on the host. Each AppleScript line is passed
// as its own -e argument, so the script text needs AppleScript string
// escaping but no additional shell quoting.
func (TerminalApp) Launch(ctx context.Context, executor remote.Executor, session Session) error {
	cmd := remote.Command{
		Name: "osascript",
		Args: []string{
			"-e", `tell application "Terminal"`,
			"-e", "activate",
			"-e", "set newTab to do script " + appleScriptString(session.Script),
			"-e", "set custom title of newTab to " + appleScriptString(session.Title),
			"-e", "end tell",
		},
	}
	_, err := run(ctx, executor, "opening Terminal.app window", cmd)
	return err
}

// Close closes every window whose name contains title.
func (TerminalApp) Close(ctx context.Context, executor remote.Executor, title string) error {
	cmd := remote.Command{
		Name: "osascript",
		Args: []string{
			"-e", `tell application "Terminal" to close (every window whose name contains ` + appleScriptString(title) + ")",
		},
	}
	_, err := run(ctx, executor, "closing Terminal.app windows", cmd)
	return err
}

// appleScriptString renders s as an AppleScript string literal.
func appleScriptString(s string) string {
	escaped := strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(s)
	return `"` + escaped + `"`
}
