// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package remotejob

import (
	"encoding/hex"
	"path"
	"time"

	"github.com/google/uuid"

	"github.com/bureau-foundation/buildrelay/lib/remote"
)

// DefaultScratchDir holds the scratch files when none is configured.
const DefaultScratchDir = "/tmp"

// Defaults for the polling loop: one poll per second, 1000 polls.
const (
	DefaultPollInterval = time.Second
	DefaultTickBudget   = 1000
)

// State is a job's position in the supervision state machine.
type State int

const (
	Launching State = iota
	Running
	Succeeded
	Failed
	TimedOut
)

func (s State) String() string {
	switch s {
	case Launching:
		return "launching"
	case Running:
		return "running"
	case Succeeded:
		return "succeeded"
	case Failed:
		return "failed"
	case TimedOut:
		return "timed_out"
	default:
		return "unknown"
	}
}

// Terminal reports whether s is a final state.
func (s State) Terminal() bool {
	return s == Succeeded || s == Failed || s == TimedOut
}

// Handle names one job's scratch files.
type Handle struct {
	ID           string `cbor:"id"`
	MarkerPath   string `cbor:"marker_path"`
	ExitCodePath string `cbor:"exit_code_path"`
	OutputPath   string `cbor:"output_path"`
}

// NewHandle returns a handle for id with files under scratchDir.
func NewHandle(scratchDir, id string) Handle {
	if scratchDir == "" {
		scratchDir = DefaultScratchDir
	}
	return Handle{
		ID:           id,
		MarkerPath:   path.Join(scratchDir, "build_complete_"+id),
		ExitCodePath: path.Join(scratchDir, "build_exit_"+id),
		OutputPath:   path.Join(scratchDir, "build_output_"+id),
	}
}

// NewID returns a job id: a random UUID without hyphens, safe to embed
// unquoted in file names and shell words.
func NewID() string {
	id := uuid.New()
	return hex.EncodeToString(id[:])
}

// Paths returns the three scratch paths.
func (h Handle) Paths() []string {
	return []string{h.MarkerPath, h.ExitCodePath, h.OutputPath}
}

// wrapperScript is the command line the interactive session runs. The
// output file is opened for append: polls truncate it, and a writer
// without O_APPEND would keep its old offset and pad the file with
// NULs. The exit status goes through a temporary file and rename so
// the exit file is never observed half-written, and the marker is
// touched only after the rename succeeded.
func (h Handle) wrapperScript(dir, script string) string {
	exitTemporary := h.ExitCodePath + ".tmp"
	output := remote.Quote(h.OutputPath)
	prefix := ""
	if dir != "" {
		prefix = "cd " + remote.Quote(dir) + " || exit 1; "
	}
	return ": > " + output + "; ( " + prefix + script + " ) >> " + output + " 2>&1; " +
		"rc=$?; printf '%d\\n' \"$rc\" > " + remote.Quote(exitTemporary) +
		" && mv -f " + remote.Quote(exitTemporary) + " " + remote.Quote(h.ExitCodePath) +
		" && touch " + remote.Quote(h.MarkerPath)
}

// cleanupCommand removes all scratch files, including a leftover
// temporary exit file.
func (h Handle) cleanupCommand() remote.Command {
	return remote.Command{
		Name: "rm",
		Args: []string{"-f", h.MarkerPath, h.ExitCodePath, h.ExitCodePath + ".tmp", h.OutputPath},
	}
}

// Job is one script to supervise.
type Job struct {
	// Title names the interactive session.
	Title string

	// Dir is the working directory for Script. Empty keeps the
	// session's default.
	Dir string

	// Script is the shell command line to run, e.g. "./build.sh".
	Script string
}

// Outcome is the terminal result of a supervised job.
type Outcome struct {
	Handle Handle

	// State is Succeeded, Failed, or TimedOut.
	State State

	// ExitCode is the script's exit status. -1 when it was never read
	// (TimedOut) or could not be parsed.
	ExitCode int

	// Output is everything read from the output file.
	Output string

	// Ticks is the number of polls performed.
	Ticks int

	Duration time.Duration
}

// Succeeded reports whether the job exited 0.
func (o Outcome) Succeeded() bool {
	return o.State == Succeeded
}
