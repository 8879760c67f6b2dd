// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package pipelinedef

import "time"

// Target is one build target: where its source lives, how it is
// built, packaged, and distributed. Platform variations (a Windows
// host building locally, a macOS host reached over SSH) are expressed
// as data here rather than as separate code paths.
type Target struct {
	// Name identifies the target in triggers, logs, and reports.
	// Defaults to the definition file's base name.
	Name string `json:"name"`

	Description string `json:"description,omitempty"`

	// Platform labels the report ("Windows", "Mac").
	Platform string `json:"platform,omitempty"`

	// Host names an entry of the hosts section of the configuration.
	// Empty means the target builds on the machine running buildrelay.
	Host string `json:"host,omitempty"`

	Repository Repository `json:"repository"`

	Version *VersionStep `json:"version,omitempty"`

	Build Step `json:"build"`

	Package *PackageStep `json:"package,omitempty"`

	Distribute *DistributeStep `json:"distribute,omitempty"`

	// Variables declares ${NAME} variables the commands may reference,
	// beyond the built-in ones (see Builtins).
	Variables map[string]Variable `json:"variables,omitempty"`

	// Hints are matched against captured output of a failed build or
	// package step; every matching hint's message is added to the
	// report. DefaultHints apply when Hints is empty.
	Hints []Hint `json:"hints,omitempty"`
}

// Repository is the source checkout a target builds from.
type Repository struct {
	Path   string `json:"path"`
	Branch string `json:"branch"`

	// Remote is the git remote to fetch from. Defaults to "origin".
	Remote string `json:"remote,omitempty"`
}

// VersionStep reads, and optionally stamps, the build version.
type VersionStep struct {
	// File holds the version token.
	File string `json:"file"`

	// Pattern locates the token; its first capture group is the
	// version. Defaults to the MSBuild <Version> element.
	Pattern string `json:"pattern,omitempty"`

	// StampToday writes today's date (2006.01.02) as the version before
	// the build.
	StampToday bool `json:"stamp_today,omitempty"`

	// InstallerProject, when set, is an installer project whose
	// ProductVersion is kept equal to the version.
	InstallerProject string `json:"installer_project,omitempty"`
}

// Step runs one or more commands in order. Each is a shell script
// judged by its exit code; the first non-zero exit fails the step.
type Step struct {
	Commands []string `json:"commands"`

	// Dir is the working directory. Defaults to the repository path.
	Dir string `json:"dir,omitempty"`

	Env map[string]string `json:"env,omitempty"`

	// Timeout bounds each command (Go duration syntax). Commands run
	// through the interactive job protocol are bounded by its tick
	// budget instead.
	Timeout string `json:"timeout,omitempty"`

	// Interactive runs each command inside a visible terminal session
	// on the host, supervised through completion marker files, instead
	// of over a plain pipe.
	Interactive bool `json:"interactive,omitempty"`

	// Title names the terminal window or session of an interactive
	// step. Defaults to "<target> <stage>".
	Title string `json:"title,omitempty"`
}

// TimeoutDuration returns the parsed Timeout, or zero when unset or
// invalid (Validate reports invalid values).
func (s Step) TimeoutDuration() time.Duration {
	if s.Timeout == "" {
		return 0
	}
	duration, err := time.ParseDuration(s.Timeout)
	if err != nil {
		return 0
	}
	return duration
}

// PackageStep builds the installer.
type PackageStep struct {
	Step

	// Clean lists directories whose contents are removed before the
	// first command runs, so the artifact locator cannot pick up the
	// output of an earlier run.
	Clean []string `json:"clean,omitempty"`
}

// DistributeStep publishes the packaged artifact.
type DistributeStep struct {
	// Downloads are fetched from the target's host to the local machine
	// before the artifact is located.
	Downloads []Download `json:"downloads,omitempty"`

	// Project is the installer project file, or the directory holding
	// it; that directory's Output, Builds, and Setup subdirectories and
	// the directory itself are the default search locations.
	Project string `json:"project,omitempty"`

	// Dirs overrides the search locations, highest priority first.
	Dirs []string `json:"dirs,omitempty"`

	// Extensions the artifact may have (".msi", ".exe").
	Extensions []string `json:"extensions"`

	// Share is the directory the artifact is copied into.
	Share string `json:"share"`

	// Link is an optional download URL template reported after a
	// successful copy, expanded with the same variables as commands
	// plus ${FILE} (the published file name).
	Link string `json:"link,omitempty"`
}

// Download copies one file from the target's host.
type Download struct {
	RemotePath string `json:"remote_path"`
	LocalPath  string `json:"local_path"`
}

// Variable declares a ${NAME} variable.
type Variable struct {
	Description string `json:"description,omitempty"`
	Default     string `json:"default,omitempty"`
	Required    bool   `json:"required,omitempty"`
}

// Hint maps output text to advice for the operator.
type Hint struct {
	// Contains lists case-insensitive substrings; any one matches.
	Contains []string `json:"contains"`
	Message  string   `json:"message"`
}

// DefaultHints covers the two failures operators hit most on build
// hosts: insufficient privileges and files held open by a running copy
// of the application.
var DefaultHints = []Hint{
	{
		Contains: []string{"Permission denied", "Access is denied"},
		Message:  "The build may need administrator privileges on the host.",
	},
	{
		Contains: []string{"is in use by another process", "being used by another process"},
		Message:  "Files are locked by another process. Close running instances of the application and retry.",
	},
}
