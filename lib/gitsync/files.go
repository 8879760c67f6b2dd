// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package gitsync

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/bureau-foundation/buildrelay/lib/remote"
)

// Files is the file access environment validation needs, on whichever
// host the repository lives.
type Files interface {
	// Exists reports whether path exists.
	Exists(ctx context.Context, path string) (bool, error)

	// Readable returns nil when path is a regular file the current
	// user can read.
	Readable(ctx context.Context, path string) error

	// MkdirAll creates dir and its parents with mode perm.
	MkdirAll(ctx context.Context, dir string, perm fs.FileMode) error

	// ReadFile returns the content of path.
	ReadFile(ctx context.Context, path string) ([]byte, error)

	// WriteFile creates or replaces path.
	WriteFile(ctx context.Context, path string, data []byte, perm fs.FileMode) error

	// CopyFile copies src to dst with mode perm.
	CopyFile(ctx context.Context, src, dst string, perm fs.FileMode) error
}

// LocalFiles accesses the local filesystem.
type LocalFiles struct{}

func (LocalFiles) Exists(_ context.Context, path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, err
}

func (LocalFiles) Readable(_ context.Context, path string) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()
	info, err := file.Stat()
	if err != nil {
		return err
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("%s is not a regular file", path)
	}
	return nil
}

func (LocalFiles) MkdirAll(_ context.Context, dir string, perm fs.FileMode) error {
	return os.MkdirAll(dir, perm)
}

func (LocalFiles) ReadFile(_ context.Context, path string) ([]byte, error) {
	return os.ReadFile(path)
}

func (LocalFiles) WriteFile(_ context.Context, path string, data []byte, perm fs.FileMode) error {
	return os.WriteFile(path, data, perm)
}

func (LocalFiles) CopyFile(_ context.Context, src, dst string, perm fs.FileMode) error {
	source, err := os.Open(src)
	if err != nil {
		return err
	}
	defer source.Close()
	destination, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	if _, err := io.Copy(destination, source); err != nil {
		destination.Close()
		return err
	}
	if err := destination.Close(); err != nil {
		return err
	}
	return os.Chmod(dst, perm)
}

// RemoteFiles accesses files on the host behind an executor with POSIX
// shell utilities.
type RemoteFiles struct {
	Executor remote.Executor
}

func (r RemoteFiles) Exists(ctx context.Context, path string) (bool, error) {
	result, err := r.Executor.Execute(ctx, remote.Command{Name: "test", Args: []string{"-e", path}})
	if err != nil {
		return false, err
	}
	switch result.ExitCode {
	case 0:
		return true, nil
	case 1:
		return false, nil
	default:
		return false, fmt.Errorf("test -e %s: exit code %d: %s", path, result.ExitCode, strings.TrimSpace(result.Stderr))
	}
}

func (r RemoteFiles) Readable(ctx context.Context, path string) error {
	return r.run(ctx, "test -f "+remote.Quote(path)+" && test -r "+remote.Quote(path))
}

func (r RemoteFiles) MkdirAll(ctx context.Context, dir string, perm fs.FileMode) error {
	return r.run(ctx, fmt.Sprintf("mkdir -p %s && chmod %o %s", remote.Quote(dir), perm.Perm(), remote.Quote(dir)))
}

func (r RemoteFiles) ReadFile(ctx context.Context, path string) ([]byte, error) {
	result, err := r.Executor.Execute(ctx, remote.Command{Name: "cat", Args: []string{path}})
	if err != nil {
		return nil, err
	}
	if !result.Succeeded() {
		return nil, fmt.Errorf("cat %s: exit code %d: %s", path, result.ExitCode, strings.TrimSpace(result.Stderr))
	}
	return []byte(result.Stdout), nil
}

func (r RemoteFiles) WriteFile(ctx context.Context, path string, data []byte, perm fs.FileMode) error {
	return r.run(ctx, fmt.Sprintf("printf '%%s' %s > %s && chmod %o %s",
		remote.Quote(string(data)), remote.Quote(path), perm.Perm(), remote.Quote(path)))
}

func (r RemoteFiles) CopyFile(ctx context.Context, src, dst string, perm fs.FileMode) error {
	return r.run(ctx, fmt.Sprintf("cp %s %s && chmod %o %s",
		remote.Quote(src), remote.Quote(dst), perm.Perm(), remote.Quote(dst)))
}

func (r RemoteFiles) run(ctx context.Context, script string) error {
	result, err := r.Executor.Execute(ctx, remote.Shell(script))
	if err != nil {
		return err
	}
	if !result.Succeeded() {
		return fmt.Errorf("%s: exit code %d: %s", script, result.ExitCode, strings.TrimSpace(result.Output()))
	}
	return nil
}

// parentDir returns the directory of path, using forward slashes for
// remote paths and the platform separator locally.
func parentDir(path string) string {
	if strings.Contains(path, "/") {
		index := strings.LastIndex(path, "/")
		if index == 0 {
			return "/"
		}
		return path[:index]
	}
	return filepath.Dir(path)
}
