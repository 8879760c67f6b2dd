// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package artifact

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/bureau-foundation/buildrelay/lib/failure"
)

// Distribution records a completed copy to the share.
type Distribution struct {
	Source      string
	Destination string
	SizeBytes   int64
	Digest      Hash
}

// Distribute copies the artifact into shareDir under
// VersionedName(name, version). The copy is written to a temporary file
// in shareDir, verified against the source digest, and renamed into
// place, so readers of the share never see a partial file. An existing
// file with the same name is replaced.
func Distribute(descriptor Descriptor, shareDir, version string) (Distribution, error) {
	if shareDir == "" {
		return Distribution{}, failure.New(failure.Configuration, "distribute", "no share directory configured")
	}
	info, err := os.Stat(shareDir)
	if err != nil {
		return Distribution{}, failure.Wrap(failure.Configuration, "distribute", fmt.Errorf("share directory: %w", err))
	}
	if !info.IsDir() {
		return Distribution{}, failure.New(failure.Configuration, "distribute", shareDir+" is not a directory")
	}

	source, err := os.Open(descriptor.Path)
	if errors.Is(err, fs.ErrNotExist) {
		return Distribution{}, failure.Wrap(failure.ArtifactNotFound, "distribute", err)
	}
	if err != nil {
		return Distribution{}, fmt.Errorf("opening artifact: %w", err)
	}
	defer source.Close()

	destination := filepath.Join(shareDir, VersionedName(descriptor.Name(), version))
	temporary, err := os.CreateTemp(shareDir, ".buildrelay-*.partial")
	if err != nil {
		return Distribution{}, fmt.Errorf("creating temporary file in share: %w", err)
	}
	temporaryPath := temporary.Name()
	committed := false
	defer func() {
		if !committed {
			os.Remove(temporaryPath)
		}
	}()

	sourceDigest, size, err := HashReader(io.TeeReader(source, temporary))
	if err != nil {
		temporary.Close()
		return Distribution{}, fmt.Errorf("copying %s: %w", descriptor.Path, err)
	}
	if err := temporary.Close(); err != nil {
		return Distribution{}, fmt.Errorf("closing copy: %w", err)
	}

	copyDigest, err := HashFile(temporaryPath)
	if err != nil {
		return Distribution{}, fmt.Errorf("verifying copy: %w", err)
	}
	if copyDigest != sourceDigest {
		return Distribution{}, fmt.Errorf("copy of %s is corrupt: digest %s, source %s",
			descriptor.Path, copyDigest.Short(), sourceDigest.Short())
	}

	if err := os.Rename(temporaryPath, destination); err != nil {
		return Distribution{}, fmt.Errorf("publishing %s: %w", destination, err)
	}
	committed = true

	return Distribution{
		Source:      descriptor.Path,
		Destination: destination,
		SizeBytes:   size,
		Digest:      sourceDigest,
	}, nil
}
