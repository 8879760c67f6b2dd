// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

//go:build windows

package filelock

import (
	"os"

	"golang.org/x/sys/windows"
)

// allBytes spans the whole file, including bytes not yet written.
const allBytes = ^uint32(0)

func lock(file *os.File, exclusive bool) error {
	var flags uint32
	if exclusive {
		flags = windows.LOCKFILE_EXCLUSIVE_LOCK
	}
	return windows.LockFileEx(windows.Handle(file.Fd()), flags, 0, allBytes, allBytes, new(windows.Overlapped))
}

func unlock(file *os.File) error {
	return windows.UnlockFileEx(windows.Handle(file.Fd()), 0, allBytes, allBytes, new(windows.Overlapped))
}
