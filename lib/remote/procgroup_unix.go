// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

//go:build unix

package remote

import (
	"errors"
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

// isolateProcessTree starts process in a new process group and makes
// cancellation kill the group.
func isolateProcessTree(process *exec.Cmd) {
	process.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	process.Cancel = func() error {
		// ESRCH means the group already exited, which is what we wanted.
		if err := unix.Kill(-process.Process.Pid, unix.SIGKILL); err != nil && !errors.Is(err, unix.ESRCH) {
			return err
		}
		return nil
	}
}

func programPath(name string) string {
	return name
}
