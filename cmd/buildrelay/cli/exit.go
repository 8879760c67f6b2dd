// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import "fmt"

// ExitError signals a non-zero exit code without printing an extra
// error message. The command is expected to have already written its
// own output, e.g. "run" after reporting a failed build.
type ExitError struct {
	Code int
}

// Error returns "". process.Fatal prints nothing for an empty message.
func (e *ExitError) Error() string {
	return ""
}

// ExitCode returns the exit code.
func (e *ExitError) ExitCode() int {
	return e.Code
}

// String describes the error for logs.
func (e *ExitError) String() string {
	return fmt.Sprintf("exit code %d", e.Code)
}
