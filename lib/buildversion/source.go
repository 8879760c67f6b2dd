// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package buildversion reads and writes the build version recorded in a
// project metadata file, and keeps an installer project's product
// version in step with it.
//
// The version file is the one resource concurrent platform pipelines
// share. Within a process, every write goes through a [Store], a single
// goroutine that applies updates one at a time. Across processes, each
// read-modify-write holds an exclusive lock on the file itself. A
// pipeline reads the version once into its run snapshot and publishes a
// new one only through the store.
package buildversion

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"regexp"
	"time"

	"github.com/bureau-foundation/buildrelay/lib/failure"
	"github.com/bureau-foundation/buildrelay/lib/filelock"
)

// DefaultPattern finds the version in an MSBuild project file.
const DefaultPattern = `<Version>(.*?)</Version>`

// DateLayout is the layout of date-stamped versions.
const DateLayout = "2006.01.02"

// Today returns the date-stamp version for now, in now's location.
func Today(now time.Time) string {
	return now.Format(DateLayout)
}

// Source locates a version token in a file: the first capture group of
// the first match of Pattern.
type Source struct {
	Path    string
	Pattern *regexp.Regexp
}

// NewSource compiles pattern (DefaultPattern when empty). The pattern
// must have at least one capture group.
func NewSource(path, pattern string) (Source, error) {
	if pattern == "" {
		pattern = DefaultPattern
	}
	compiled, err := regexp.Compile(pattern)
	if err != nil {
		return Source{}, failure.Wrap(failure.Configuration, "version pattern", err)
	}
	if compiled.NumSubexp() < 1 {
		return Source{}, failure.New(failure.Configuration, "version pattern",
			fmt.Sprintf("%q has no capture group", pattern))
	}
	return Source{Path: path, Pattern: compiled}, nil
}

// Read returns the version currently recorded in the file.
func (s Source) Read() (string, error) {
	file, err := s.open(os.O_RDONLY)
	if err != nil {
		return "", err
	}
	defer file.Close()

	if err := filelock.RLock(file); err != nil {
		return "", err
	}
	defer filelock.Unlock(file)

	content, err := io.ReadAll(file)
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", s.Path, err)
	}
	location, err := s.find(content)
	if err != nil {
		return "", err
	}
	return string(content[location[2]:location[3]]), nil
}

// Update describes one write to a version file.
type Update struct {
	Previous string
	Version  string
	Changed  bool
}

// Message returns the operator-facing summary of the update.
func (u Update) Message() string {
	if !u.Changed {
		return "Version already up to date: " + u.Version
	}
	return fmt.Sprintf("Updated version from %s to %s", u.Previous, u.Version)
}

// write replaces the version with next under an exclusive lock. The
// rest of the file is preserved byte for byte. Writing the version the
// file already holds leaves the file untouched.
func (s Source) write(next string) (Update, error) {
	return rewriteLocked(s.Path, func(content []byte) ([]byte, Update, error) {
		location, err := s.find(content)
		if err != nil {
			return nil, Update{}, err
		}
		previous := string(content[location[2]:location[3]])
		update := Update{Previous: previous, Version: next, Changed: previous != next}
		if !update.Changed {
			return nil, update, nil
		}
		var rewritten bytes.Buffer
		rewritten.Grow(len(content) + len(next) - len(previous))
		rewritten.Write(content[:location[2]])
		rewritten.WriteString(next)
		rewritten.Write(content[location[3]:])
		return rewritten.Bytes(), update, nil
	})
}

func (s Source) open(flag int) (*os.File, error) {
	if s.Path == "" {
		return nil, failure.New(failure.Configuration, "version file", "no path configured")
	}
	if s.Pattern == nil {
		return nil, failure.New(failure.Configuration, "version file", "no pattern configured")
	}
	file, err := os.OpenFile(s.Path, flag, 0)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, failure.Wrap(failure.Configuration, "version file", err)
	}
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", s.Path, err)
	}
	return file, nil
}

func (s Source) find(content []byte) ([]int, error) {
	location := s.Pattern.FindSubmatchIndex(content)
	if location == nil || location[2] < 0 {
		return nil, failure.New(failure.Configuration, "version file",
			fmt.Sprintf("no version matching %s in %s", s.Pattern, s.Path))
	}
	return location, nil
}

// rewriteLocked applies edit to the file at path while holding an
// exclusive file lock on it. A nil result from edit means no change. The
// file is rewritten in place so its inode, mode, and any other holder's
// lock stay valid.
func rewriteLocked[T any](path string, edit func([]byte) ([]byte, T, error)) (T, error) {
	var zero T
	file, err := os.OpenFile(path, os.O_RDWR, 0)
	if errors.Is(err, fs.ErrNotExist) {
		return zero, failure.Wrap(failure.Configuration, "version file", err)
	}
	if err != nil {
		return zero, fmt.Errorf("opening %s: %w", path, err)
	}
	defer file.Close()

	if err := filelock.Lock(file); err != nil {
		return zero, err
	}
	defer filelock.Unlock(file)

	content, err := io.ReadAll(file)
	if err != nil {
		return zero, fmt.Errorf("reading %s: %w", path, err)
	}
	rewritten, result, err := edit(content)
	if err != nil || rewritten == nil {
		return result, err
	}
	if err := file.Truncate(0); err != nil {
		return zero, fmt.Errorf("truncating %s: %w", path, err)
	}
	if _, err := file.WriteAt(rewritten, 0); err != nil {
		return zero, fmt.Errorf("writing %s: %w", path, err)
	}
	if err := file.Sync(); err != nil {
		return zero, fmt.Errorf("syncing %s: %w", path, err)
	}
	return result, nil
}
