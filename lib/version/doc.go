// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package version reports build information for the buildrelay binary.
//
// [GitCommit], [GitDirty], [BuildTime], and [Version] are injected with
// -ldflags -X. When they are not (go install, go run, tests), the VCS
// stamp the Go toolchain embeds in the binary is used instead.
package version
