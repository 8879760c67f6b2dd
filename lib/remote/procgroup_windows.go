// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

//go:build windows

package remote

import (
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"syscall"

	"golang.org/x/sys/windows"
)

// isolateProcessTree starts process in a new process group and makes
// cancellation kill it and every descendant. taskkill walks the parent
// links, so a grandchild whose parent already exited can survive.
func isolateProcessTree(process *exec.Cmd) {
	process.SysProcAttr = &syscall.SysProcAttr{CreationFlags: windows.CREATE_NEW_PROCESS_GROUP}
	process.Cancel = func() error {
		pid := strconv.Itoa(process.Process.Pid)
		if err := exec.Command("taskkill", "/T", "/F", "/PID", pid).Run(); err != nil {
			return process.Process.Kill()
		}
		return nil
	}
}

// programPath finds the Git for Windows shell when sh is not on PATH.
// Step commands are sh scripts on every host, and git is already a
// requirement, so its bundled shell is the one to use.
func programPath(name string) string {
	if name != "sh" {
		return name
	}
	if _, err := exec.LookPath(name); err == nil {
		return name
	}
	git, err := exec.LookPath("git")
	if err != nil {
		return name
	}
	root := filepath.Dir(filepath.Dir(git))
	for _, candidate := range []string{
		filepath.Join(root, "bin", "sh.exe"),
		filepath.Join(root, "usr", "bin", "sh.exe"),
	} {
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}
	return name
}
