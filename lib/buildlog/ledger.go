// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package buildlog keeps the history of pipeline runs: a ledger of run
// records (a CBOR sequence file, one item per run) and an archive of
// each stage's full output.
package buildlog

import (
	"fmt"
	"slices"
	"time"

	"github.com/bureau-foundation/buildrelay/lib/codec"
)

// Run is the ledger record of one pipeline run.
type Run struct {
	ID       string        `cbor:"id"`
	Target   string        `cbor:"target"`
	Platform string        `cbor:"platform,omitempty"`
	Trigger  string        `cbor:"trigger,omitempty"`
	Branch   string        `cbor:"branch,omitempty"`
	Version  string        `cbor:"version,omitempty"`
	Outcome  string        `cbor:"outcome"`
	Started  time.Time     `cbor:"started"`
	Duration time.Duration `cbor:"duration"`
	Stages   []Stage       `cbor:"stages"`
}

// Stage is the ledger record of one stage.
type Stage struct {
	Name     string        `cbor:"name"`
	Status   string        `cbor:"status"`
	Message  string        `cbor:"message,omitempty"`
	Duration time.Duration `cbor:"duration"`

	// OutputPath is the archived full output, when any was captured.
	OutputPath string `cbor:"output_path,omitempty"`
}

// Ledger appends run records to a CBOR sequence file. Appends from
// concurrent pipelines, and from separate processes, are serialized by
// a file lock.
type Ledger struct {
	path string
}

// OpenLedger returns a ledger backed by path. The file is created on
// the first Append.
func OpenLedger(path string) *Ledger {
	return &Ledger{path: path}
}

// Path returns the ledger file path.
func (l *Ledger) Path() string { return l.path }

// Append records a run.
func (l *Ledger) Append(run Run) error {
	if err := codec.Append(l.path, run); err != nil {
		return fmt.Errorf("recording run %s: %w", run.ID, err)
	}
	return nil
}

// Runs returns every recorded run, oldest first.
func (l *Ledger) Runs() ([]Run, error) {
	runs, err := codec.ReadFile[Run](l.path)
	if err != nil {
		return nil, fmt.Errorf("reading run ledger: %w", err)
	}
	return runs, nil
}

// Recent returns up to limit runs, newest first, optionally filtered
// to one target. A limit of zero or less returns every match.
func (l *Ledger) Recent(limit int, target string) ([]Run, error) {
	runs, err := l.Runs()
	if err != nil {
		return nil, err
	}
	slices.Reverse(runs)
	var selected []Run
	for _, run := range runs {
		if target != "" && run.Target != target {
			continue
		}
		selected = append(selected, run)
		if limit > 0 && len(selected) == limit {
			break
		}
	}
	return selected, nil
}

// Find returns the run with the given ID.
func (l *Ledger) Find(id string) (Run, bool, error) {
	runs, err := l.Runs()
	if err != nil {
		return Run{}, false, err
	}
	for _, run := range runs {
		if run.ID == id {
			return run, true, nil
		}
	}
	return Run{}, false, nil
}
