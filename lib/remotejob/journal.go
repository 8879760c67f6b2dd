// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package remotejob

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bureau-foundation/buildrelay/lib/codec"
	"github.com/bureau-foundation/buildrelay/lib/remote"
)

// Entry is one launched job whose scratch files have not been cleaned
// up yet.
type Entry struct {
	Handle   Handle    `cbor:"handle"`
	Host     string    `cbor:"host"`
	Title    string    `cbor:"title"`
	Launcher string    `cbor:"launcher"`
	Launched time.Time `cbor:"launched"`
}

// Journal is a CBOR sequence file of pending jobs. One process owns a
// journal file; the mutex serializes its own writers.
type Journal struct {
	path string
	mu   sync.Mutex
}

// OpenJournal returns a journal stored at path. The file is created on
// first Record.
func OpenJournal(path string) *Journal {
	return &Journal{path: path}
}

// Path returns the journal file path.
func (j *Journal) Path() string { return j.path }

// Record appends entry.
func (j *Journal) Record(entry Entry) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return codec.Append(j.path, entry)
}

// Remove drops every entry for job id.
func (j *Journal) Remove(id string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	entries, err := codec.ReadFile[Entry](j.path)
	if err != nil {
		return err
	}
	kept := entries[:0]
	for _, entry := range entries {
		if entry.Handle.ID != id {
			kept = append(kept, entry)
		}
	}
	if len(kept) == len(entries) {
		return nil
	}
	return codec.Rewrite(j.path, kept)
}

// Entries returns the pending entries.
func (j *Journal) Entries() ([]Entry, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return codec.ReadFile[Entry](j.path)
}

// ExecutorFor resolves the executor for a journaled host name. An
// empty host means the local machine.
type ExecutorFor func(host string) (remote.Executor, error)

// Sweep removes the scratch files of every journaled job and drops the
// entries it cleaned. Entries whose host cannot be reached stay in the
// journal for the next sweep. Returns the number of entries cleaned.
func (j *Journal) Sweep(ctx context.Context, executorFor ExecutorFor, logger *slog.Logger) (int, error) {
	entries, err := j.Entries()
	if err != nil {
		return 0, fmt.Errorf("reading job journal: %w", err)
	}
	cleaned := 0
	for _, entry := range entries {
		entryLogger := logger.With("job_id", entry.Handle.ID, "host", entry.Host, "launched", entry.Launched)
		executor, err := executorFor(entry.Host)
		if err != nil {
			entryLogger.Warn("skipping journaled job: no executor for host", "error", err)
			continue
		}
		result, err := executor.Execute(ctx, entry.Handle.cleanupCommand())
		if err != nil || !result.Succeeded() {
			entryLogger.Warn("removing stale scratch files failed", "error", err, "exit_code", result.ExitCode)
			continue
		}
		if err := j.Remove(entry.Handle.ID); err != nil {
			return cleaned, err
		}
		entryLogger.Info("removed scratch files of abandoned remote job")
		cleaned++
	}
	return cleaned, nil
}
