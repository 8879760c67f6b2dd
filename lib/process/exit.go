// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package process

import (
	"errors"
	"fmt"
	"io"
	"os"
)

// exitCoder is an error that selects the process exit code. An error
// with an empty message has already been reported.
type exitCoder interface {
	error
	ExitCode() int
}

// Fatal writes "error: err" to stderr and exits. The exit code is 1
// unless err carries its own.
func Fatal(err error) {
	os.Exit(report(os.Stderr, err))
}

// report writes err to w and returns the exit code for it.
func report(w io.Writer, err error) int {
	code := 1
	var coder exitCoder
	if errors.As(err, &coder) {
		code = coder.ExitCode()
		if coder.Error() == "" {
			return code
		}
	}
	fmt.Fprintf(w, "error: %v\n", err)
	return code
}
