// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package pipeline sequences the stages of a build: sync, version
// stamp, build, package, distribute. Each stage has a fixed failure
// policy (see [Policies]): sync and build failures abort the pipeline;
// version, package, and distribute failures become warnings and the
// build still counts as successful.
//
// A [Coordinator] runs one pipeline per target. [Coordinator.RunAll]
// runs several targets concurrently and returns only when every one has
// finished. Pipelines share nothing mutable except the version file,
// which is written only through a buildversion.Store.
package pipeline

import (
	"fmt"
	"strings"
	"time"
)

// Stage names one phase of the pipeline.
type Stage string

const (
	StageSync       Stage = "sync"
	StageVersion    Stage = "version-stamp"
	StageBuild      Stage = "build"
	StagePackage    Stage = "package"
	StageDistribute Stage = "distribute"
)

// Stages lists every stage in execution order.
var Stages = []Stage{StageSync, StageVersion, StageBuild, StagePackage, StageDistribute}

// Status is the outcome of a stage.
type Status int

const (
	Succeeded Status = iota
	Failed
	Warned
	Skipped
)

var statusNames = map[Status]string{
	Succeeded: "succeeded",
	Failed:    "failed",
	Warned:    "warned",
	Skipped:   "skipped",
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// FailurePolicy says what a stage failure does to the rest of the
// pipeline.
type FailurePolicy int

const (
	// Abort stops the pipeline: later stages do not run and do not
	// appear in the report.
	Abort FailurePolicy = iota

	// Warn records the failure as Warned and continues.
	Warn
)

// Policies is the failure policy of every stage.
var Policies = map[Stage]FailurePolicy{
	StageSync:       Abort,
	StageVersion:    Warn,
	StageBuild:      Abort,
	StagePackage:    Warn,
	StageDistribute: Warn,
}

// Request asks for one target to be built. Immutable once created.
type Request struct {
	Target string

	// Origin describes what triggered the build ("chat", "http", "cli").
	Origin string

	// Branch overrides the target's configured branch when set.
	Branch string

	Time time.Time
}

// StageResult is the outcome of one stage.
type StageResult struct {
	Stage   Stage
	Status  Status
	Message string

	// OutputTail is the last DefaultTailSize characters of the
	// captured output, for reports.
	OutputTail string

	// Hints are operator advice matched from the output of a failed
	// stage.
	Hints []string

	Duration time.Duration

	// output is the full captured output, archived but not reported.
	output string
}

// Report is the result of one pipeline run: the stages that ran, in
// order.
type Report struct {
	ID       string
	Request  Request
	Target   string
	Platform string

	// Branch is the branch the run synchronized.
	Branch string

	// Version is the build version the run used (read or stamped).
	Version string

	Stages []StageResult

	// Artifact is the path of the distributed artifact, when any.
	Artifact string

	// Link is the download link reported for the artifact.
	Link string

	// Cancelled is set when the run's context ended before every
	// configured stage finished. A cancelled run never succeeded.
	Cancelled bool

	Started  time.Time
	Duration time.Duration
}

// Succeeded reports whether the run was not cancelled and no stage
// failed. Warned stages do not count against the run.
func (r Report) Succeeded() bool {
	if r.Cancelled {
		return false
	}
	for _, stage := range r.Stages {
		if stage.Status == Failed {
			return false
		}
	}
	return true
}

// Outcome returns "succeeded", "failed", or "cancelled".
func (r Report) Outcome() string {
	if r.Cancelled {
		return "cancelled"
	}
	if r.Succeeded() {
		return "succeeded"
	}
	return "failed"
}

// Stage returns the result of the named stage, if it ran.
func (r Report) Stage(stage Stage) (StageResult, bool) {
	for _, result := range r.Stages {
		if result.Stage == stage {
			return result, true
		}
	}
	return StageResult{}, false
}

// Summary renders the stage list on one line:
// "sync=succeeded build=succeeded package=warned".
func (r Report) Summary() string {
	parts := make([]string, len(r.Stages))
	for index, stage := range r.Stages {
		parts[index] = string(stage.Stage) + "=" + stage.Status.String()
	}
	return strings.Join(parts, " ")
}

// DefaultTailSize is the number of characters of captured output kept
// in a report.
const DefaultTailSize = 1000

// Tail returns the last size characters of output, prefixed with
// "..." when anything was cut. The cut never splits a UTF-8 sequence.
func Tail(output string, size int) string {
	output = strings.TrimRight(output, " \t\r\n")
	if size <= 0 || len(output) <= size {
		return output
	}
	start := len(output) - size
	for start < len(output) && !isRuneStart(output[start]) {
		start++
	}
	return "..." + output[start:]
}

func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}
