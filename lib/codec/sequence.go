// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/bureau-foundation/buildrelay/lib/filelock"
)

// Append encodes v and appends it to the CBOR sequence file at path,
// creating the file (and its directory) if needed. The write happens
// under an exclusive file lock so concurrent appenders from separate
// processes never interleave items.
func Append(path string, v any) error {
	data, err := Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding record for %s: %w", path, err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating directory for %s: %w", path, err)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("opening %s: %w", path, err)
	}
	defer file.Close()

	if err := filelock.Lock(file); err != nil {
		return err
	}
	defer filelock.Unlock(file)

	if _, err := file.Write(data); err != nil {
		return fmt.Errorf("appending to %s: %w", path, err)
	}
	return nil
}

// ReadAll decodes every item of the CBOR sequence in r. A truncated
// final item (a write interrupted by a crash) is dropped; every
// complete item before it is returned.
func ReadAll[T any](r io.Reader) ([]T, error) {
	decoder := NewDecoder(r)
	var items []T
	for {
		var item T
		err := decoder.Decode(&item)
		if errors.Is(err, io.EOF) {
			return items, nil
		}
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return items, nil
		}
		if err != nil {
			return items, err
		}
		items = append(items, item)
	}
}

// ReadFile decodes the CBOR sequence file at path. A missing file is
// an empty sequence.
func ReadFile[T any](path string) ([]T, error) {
	file, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer file.Close()
	if err := filelock.RLock(file); err != nil {
		return nil, err
	}
	defer filelock.Unlock(file)
	items, err := ReadAll[T](file)
	if err != nil {
		return items, fmt.Errorf("decoding %s: %w", path, err)
	}
	return items, nil
}

// Rewrite replaces the sequence file at path with items, via a
// temporary file and rename so readers see either the old or the new
// content.
func Rewrite[T any](path string, items []T) error {
	temporary, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temporary file for %s: %w", path, err)
	}
	defer os.Remove(temporary.Name())

	encoder := NewEncoder(temporary)
	for _, item := range items {
		if err := encoder.Encode(item); err != nil {
			temporary.Close()
			return fmt.Errorf("encoding %s: %w", path, err)
		}
	}
	if err := temporary.Close(); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	if err := os.Rename(temporary.Name(), path); err != nil {
		return fmt.Errorf("replacing %s: %w", path, err)
	}
	return nil
}
