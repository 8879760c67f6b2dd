// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package artifact

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Descriptor describes a located artifact.
type Descriptor struct {
	Path      string
	SizeBytes int64
	CreatedAt time.Time

	// Version is inferred from the file name ("Install App v2026.03.14"
	// gives "2026.03.14"); empty when the name carries none.
	Version string
}

// Name returns the file's base name.
func (d Descriptor) Name() string {
	return filepath.Base(d.Path)
}

// SizeMB returns the size in mebibytes, for messages.
func (d Descriptor) SizeMB() float64 {
	return float64(d.SizeBytes) / (1024 * 1024)
}

// CandidateDirs returns the directories an installer project at
// projectPath writes its output to, highest priority first. A
// projectPath naming an existing directory is the project directory
// itself.
func CandidateDirs(projectPath string) []string {
	dir := filepath.Dir(projectPath)
	if info, err := os.Stat(projectPath); err == nil && info.IsDir() {
		dir = filepath.Clean(projectPath)
	}
	return []string{
		filepath.Join(dir, "Output"),
		filepath.Join(dir, "Builds"),
		filepath.Join(dir, "Setup"),
		dir,
	}
}

// Locate returns the newest regular file in dirs whose extension is
// one of extensions (case-insensitive, with or without the leading
// dot). found is false when no directory holds a match; that is not an
// error. Missing directories are skipped; other read failures are
// returned.
func Locate(dirs, extensions []string) (descriptor Descriptor, found bool, err error) {
	wanted := make(map[string]bool, len(extensions))
	for _, extension := range extensions {
		extension = strings.ToLower(strings.TrimSpace(extension))
		if extension == "" {
			continue
		}
		if !strings.HasPrefix(extension, ".") {
			extension = "." + extension
		}
		wanted[extension] = true
	}

	for _, dir := range dirs {
		entries, err := os.ReadDir(dir)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return Descriptor{}, false, fmt.Errorf("scanning %s: %w", dir, err)
		}
		for _, entry := range entries {
			if !entry.Type().IsRegular() {
				continue
			}
			if !wanted[strings.ToLower(filepath.Ext(entry.Name()))] {
				continue
			}
			path := filepath.Join(dir, entry.Name())
			info, err := entry.Info()
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			if err != nil {
				return Descriptor{}, false, fmt.Errorf("reading %s: %w", path, err)
			}
			created := creationTime(path, info)
			if found && !created.After(descriptor.CreatedAt) {
				continue
			}
			descriptor = Descriptor{
				Path:      path,
				SizeBytes: info.Size(),
				CreatedAt: created,
				Version:   VersionFromName(entry.Name()),
			}
			found = true
		}
	}
	return descriptor, found, nil
}
