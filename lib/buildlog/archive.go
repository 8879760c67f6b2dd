// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package buildlog

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Archive stores the full captured output of pipeline stages, one
// compressed file per stage under a directory per run:
//
//	<dir>/<run id>/<target>-<stage>.log[.zst|.lz4]
//
// Reports only carry a bounded tail; the archive keeps the rest.
type Archive struct {
	Dir   string
	Codec Codec
}

// Store writes output for one stage and returns the file's path.
func (a Archive) Store(runID, target, stage, output string) (string, error) {
	runDir := filepath.Join(a.Dir, runID)
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return "", fmt.Errorf("creating archive directory: %w", err)
	}
	name := fmt.Sprintf("%s-%s.log%s", target, stage, a.Codec.Extension())
	path := filepath.Join(runDir, name)

	file, err := os.CreateTemp(runDir, "."+name+".*")
	if err != nil {
		return "", fmt.Errorf("creating archive file: %w", err)
	}
	temporaryPath := file.Name()
	if err := compressTo(file, a.Codec, strings.NewReader(output)); err != nil {
		file.Close()
		os.Remove(temporaryPath)
		return "", fmt.Errorf("archiving %s/%s output: %w", target, stage, err)
	}
	if err := file.Close(); err != nil {
		os.Remove(temporaryPath)
		return "", fmt.Errorf("closing archive file: %w", err)
	}
	if err := os.Rename(temporaryPath, path); err != nil {
		os.Remove(temporaryPath)
		return "", fmt.Errorf("publishing archive file: %w", err)
	}
	return path, nil
}

// Open returns the decompressed content of an archived output file.
// The codec is taken from the file extension.
func Open(path string) (io.ReadCloser, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	reader, err := decompressFrom(file, codecForExtension(filepath.Ext(path)))
	if err != nil {
		file.Close()
		return nil, err
	}
	return &archiveReader{ReadCloser: reader, file: file}, nil
}

// ReadOutput returns the whole decompressed content of an archived
// output file.
func ReadOutput(path string) (string, error) {
	reader, err := Open(path)
	if err != nil {
		return "", err
	}
	defer reader.Close()
	data, err := io.ReadAll(reader)
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", path, err)
	}
	return string(data), nil
}

type archiveReader struct {
	io.ReadCloser
	file *os.File
}

func (r *archiveReader) Close() error {
	r.ReadCloser.Close()
	return r.file.Close()
}
