// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package filelock holds advisory whole-file locks across processes.
//
// On unix the lock is flock(2). On Windows it is LockFileEx over the
// entire byte range, which the OS enforces: while one handle holds an
// exclusive lock, reads and writes through any other handle fail.
// Callers therefore do all their I/O through the locked handle, and
// readers that may race a writer take a shared lock first.
package filelock

import (
	"fmt"
	"os"
)

// Lock blocks until it holds an exclusive lock on file.
func Lock(file *os.File) error {
	if err := lock(file, true); err != nil {
		return fmt.Errorf("locking %s: %w", file.Name(), err)
	}
	return nil
}

// RLock blocks until it holds a shared lock on file.
func RLock(file *os.File) error {
	if err := lock(file, false); err != nil {
		return fmt.Errorf("locking %s: %w", file.Name(), err)
	}
	return nil
}

// Unlock releases a lock taken by [Lock] or [RLock]. Closing the file
// also releases it.
func Unlock(file *os.File) error {
	if err := unlock(file); err != nil {
		return fmt.Errorf("unlocking %s: %w", file.Name(), err)
	}
	return nil
}
