// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package pipelinedef provides parsing, validation, and variable
// expansion for build target definitions.
//
// Targets are authored on disk as JSONC files (JSON extended with
// comments and trailing commas), one target per file, all in one
// definitions directory.
//
// The typical flow:
//
//  1. ReadDir, ReadFile, or Parse: JSONC bytes → Target
//  2. Validate: structural checks (required fields, durations, etc.)
//  3. ResolveVariables: merge declarations + built-ins + environment → variable map
//  4. ExpandStep: substitute ${NAME} references before running a step
package pipelinedef

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/tidwall/jsonc"

	"github.com/bureau-foundation/buildrelay/lib/failure"
)

// Parse strips JSONC comments and trailing commas from data, then
// unmarshals the result into a Target. Unknown fields are rejected so a
// misspelled key fails loudly instead of silently doing nothing.
func Parse(data []byte) (*Target, error) {
	stripped := jsonc.ToJSON(data)

	decoder := json.NewDecoder(bytes.NewReader(stripped))
	decoder.DisallowUnknownFields()
	var target Target
	if err := decoder.Decode(&target); err != nil {
		return nil, fmt.Errorf("parsing target: %w", err)
	}
	return &target, nil
}

// ReadFile reads and parses a JSONC target file. The target's Name
// defaults to the file's base name.
func ReadFile(path string) (*Target, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	target, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if target.Name == "" {
		target.Name = NameFromPath(path)
	}
	return target, nil
}

// ReadDir reads every .jsonc and .json file in dir, validates each, and
// returns the targets sorted by name. Every invalid definition is
// reported, joined into one configuration error.
func ReadDir(dir string) ([]*Target, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, failure.Wrap(failure.Configuration, "reading target definitions", err)
	}

	var targets []*Target
	var problems []error
	seen := make(map[string]string)
	for _, entry := range entries {
		extension := filepath.Ext(entry.Name())
		if entry.IsDir() || (extension != ".jsonc" && extension != ".json") {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		target, err := ReadFile(path)
		if err != nil {
			problems = append(problems, err)
			continue
		}
		if issues := Validate(target); len(issues) > 0 {
			problems = append(problems, fmt.Errorf("%s: %s", path, strings.Join(issues, "; ")))
			continue
		}
		if previous, exists := seen[target.Name]; exists {
			problems = append(problems, fmt.Errorf("%s: target %q already defined in %s", path, target.Name, previous))
			continue
		}
		seen[target.Name] = path
		targets = append(targets, target)
	}
	if len(problems) > 0 {
		return nil, failure.Wrap(failure.Configuration, "target definitions", errors.Join(problems...))
	}

	sort.Slice(targets, func(i, j int) bool { return targets[i].Name < targets[j].Name })
	return targets, nil
}

// NameFromPath extracts a target name from a file path by stripping
// the directory prefix and the file extension. For example,
// "targets/app-windows.jsonc" returns "app-windows".
func NameFromPath(path string) string {
	base := filepath.Base(path)
	extension := filepath.Ext(base)
	return strings.TrimSuffix(base, extension)
}
