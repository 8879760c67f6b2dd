// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// buildrelay runs build pipelines (git sync, version stamp, build,
// package, distribute) for configured targets on this machine and on
// build hosts reached over SSH.
package main

import (
	"os"

	"github.com/bureau-foundation/buildrelay/cmd/buildrelay/commands"
	"github.com/bureau-foundation/buildrelay/lib/process"
)

func main() {
	if err := run(); err != nil {
		process.Fatal(err)
	}
}

func run() error {
	return commands.Root().Execute(os.Args[1:])
}
