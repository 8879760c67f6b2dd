// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package cli is the command-line framework for the buildrelay binary.
//
// The central type is [Command]: a named node with optional nested
// [Command.Subcommands], a [pflag.FlagSet] factory, and a Run function.
// [Command.Execute] handles flag parsing, subcommand routing, and help
// output with examples. Unknown subcommands and flags get a
// closest-match suggestion (edit distance <= 3).
//
// [NewLogger] builds the process logger: text on a terminal, JSON
// otherwise. [ExitError] lets a command choose the exit code after it
// has written its own output.
package cli
