// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package remote runs single commands either as local child processes
// or over an authenticated SSH connection, behind one [Executor]
// interface.
//
// An Execute call never retries. It returns a [Result] carrying the
// exit code and separately captured stdout and stderr; a non-zero exit
// is a Result, not an error. Errors are reserved for commands that
// could not be started or whose transport failed, and are classified
// with lib/failure so callers can decide on retry.
//
// On timeout the command is killed and the Result has TimedOut set,
// along with whatever output was captured before the kill. Local
// commands run in their own process group and the whole group is
// killed. Remote commands are signalled and their channel closed; the
// remote sshd delivers SIGHUP to the command's session.
//
// SSH connections are scoped resources. [Dialer.Dial] opens a
// [Session] for one logical operation, which may run several commands
// and must be closed by the caller ([WithSession] does both). [Host]
// is an Executor that dials a fresh session per command, so sessions
// are never shared between concurrent pipelines.
package remote
