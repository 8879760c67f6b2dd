// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package filelock

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func open(t *testing.T, path string) *os.File {
	t.Helper()
	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	t.Cleanup(func() { file.Close() })
	return file
}

func TestLockExcludesSecondHandle(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "version")
	first := open(t, path)
	second := open(t, path)

	if err := Lock(first); err != nil {
		t.Fatalf("Lock(first): %v", err)
	}

	acquired := make(chan error, 1)
	go func() {
		acquired <- Lock(second)
	}()

	select {
	case err := <-acquired:
		t.Fatalf("second Lock returned %v while the first was held", err)
	case <-time.After(100 * time.Millisecond):
	}

	if err := Unlock(first); err != nil {
		t.Fatalf("Unlock(first): %v", err)
	}
	select {
	case err := <-acquired:
		if err != nil {
			t.Fatalf("second Lock: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("second Lock still blocked after the first was released")
	}
	if err := Unlock(second); err != nil {
		t.Fatalf("Unlock(second): %v", err)
	}
}

func TestSharedLocksCoexist(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "ledger")
	first := open(t, path)
	second := open(t, path)

	if err := RLock(first); err != nil {
		t.Fatalf("RLock(first): %v", err)
	}
	done := make(chan error, 1)
	go func() {
		done <- RLock(second)
	}()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("RLock(second): %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("shared lock blocked behind another shared lock")
	}
	Unlock(second)
	Unlock(first)
}

func TestLockedHandleCanRewrite(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "version")
	if err := os.WriteFile(path, []byte("1.0.0"), 0o644); err != nil {
		t.Fatal(err)
	}
	file := open(t, path)
	if err := Lock(file); err != nil {
		t.Fatalf("Lock: %v", err)
	}
	if err := file.Truncate(0); err != nil {
		t.Fatalf("Truncate: %v", err)
	}
	if _, err := file.WriteAt([]byte("1.0.1"), 0); err != nil {
		t.Fatalf("WriteAt: %v", err)
	}
	if err := Unlock(file); err != nil {
		t.Fatalf("Unlock: %v", err)
	}

	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "1.0.1" {
		t.Errorf("content = %q, want 1.0.1", got)
	}
}
