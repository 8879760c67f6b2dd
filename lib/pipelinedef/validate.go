// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package pipelinedef

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// targetNamePattern matches valid target names: lower-case words
// joined by hyphens, as they appear in trigger text.
var targetNamePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9-]*$`)

// Validate checks a Target for structural issues. Returns a list of
// human-readable issue descriptions. An empty list means the target is
// valid.
//
// Structural checks include:
//   - Name is a lower-case identifier
//   - repository.path and repository.branch are required
//   - build has at least one command; package does when present
//   - Timeout (when present) must be parseable by time.ParseDuration
//   - version.file is required, version.pattern must compile with a capture
//     group, and the version step needs a local target
//   - distribute needs extensions, a share, and either project or dirs
//   - downloads need both paths, and a host to download from
//   - variable names are identifiers; built-in names cannot be redeclared
//   - every hint has at least one match string and a message
func Validate(target *Target) []string {
	var issues []string

	switch {
	case target.Name == "":
		issues = append(issues, "name is required")
	case !targetNamePattern.MatchString(target.Name):
		issues = append(issues, fmt.Sprintf("name %q must be lower-case letters, digits, and hyphens", target.Name))
	}

	if strings.TrimSpace(target.Repository.Path) == "" {
		issues = append(issues, "repository.path is required")
	}
	if strings.TrimSpace(target.Repository.Branch) == "" {
		issues = append(issues, "repository.branch is required")
	}

	issues = append(issues, validateStep(target.Build, "build")...)
	if target.Package != nil {
		issues = append(issues, validateStep(target.Package.Step, "package")...)
		for index, dir := range target.Package.Clean {
			if strings.TrimSpace(dir) == "" || dir == "/" {
				issues = append(issues, fmt.Sprintf("package.clean[%d]: %q is not a directory that can be emptied", index, dir))
			}
		}
	}

	if target.Version != nil {
		if target.Host != "" {
			issues = append(issues, "version is only supported for targets built on this machine (no host)")
		}
		if target.Version.File == "" {
			issues = append(issues, "version.file is required when version is set")
		}
		if target.Version.Pattern != "" {
			compiled, err := regexp.Compile(target.Version.Pattern)
			switch {
			case err != nil:
				issues = append(issues, fmt.Sprintf("version.pattern: %v", err))
			case compiled.NumSubexp() < 1:
				issues = append(issues, "version.pattern must have a capture group for the version")
			}
		}
	}

	if target.Distribute != nil {
		issues = append(issues, validateDistribute(target.Distribute, target.Host)...)
	}

	for name := range target.Variables {
		if !variableNamePattern.MatchString(name) {
			issues = append(issues, fmt.Sprintf("variables[%q]: name must be a valid identifier ([A-Za-z_][A-Za-z0-9_]*)", name))
		}
		if isBuiltin(name) {
			issues = append(issues, fmt.Sprintf("variables[%q]: %s is built in and cannot be declared", name, name))
		}
	}

	for index, hint := range target.Hints {
		if len(hint.Contains) == 0 {
			issues = append(issues, fmt.Sprintf("hints[%d]: contains is required", index))
		}
		if hint.Message == "" {
			issues = append(issues, fmt.Sprintf("hints[%d]: message is required", index))
		}
	}

	return issues
}

func validateStep(step Step, prefix string) []string {
	var issues []string
	if len(step.Commands) == 0 {
		issues = append(issues, fmt.Sprintf("%s: at least one command is required", prefix))
	}
	for index, command := range step.Commands {
		if strings.TrimSpace(command) == "" {
			issues = append(issues, fmt.Sprintf("%s.commands[%d]: empty command", prefix, index))
		}
	}
	if step.Timeout != "" {
		duration, err := time.ParseDuration(step.Timeout)
		switch {
		case err != nil:
			issues = append(issues, fmt.Sprintf("%s: invalid timeout %q: %v", prefix, step.Timeout, err))
		case duration <= 0:
			issues = append(issues, fmt.Sprintf("%s: timeout must be positive, got %q", prefix, step.Timeout))
		}
	}
	for name := range step.Env {
		if !variableNamePattern.MatchString(name) {
			issues = append(issues, fmt.Sprintf("%s.env[%q]: name must be a valid identifier", prefix, name))
		}
	}
	return issues
}

func validateDistribute(distribute *DistributeStep, host string) []string {
	var issues []string
	if len(distribute.Extensions) == 0 {
		issues = append(issues, "distribute.extensions is required")
	}
	if distribute.Share == "" {
		issues = append(issues, "distribute.share is required")
	}
	if distribute.Project == "" && len(distribute.Dirs) == 0 {
		issues = append(issues, "distribute: set project or dirs to say where the artifact is written")
	}
	if len(distribute.Downloads) > 0 && host == "" {
		issues = append(issues, "distribute.downloads requires a host to download from")
	}
	for index, download := range distribute.Downloads {
		if download.RemotePath == "" || download.LocalPath == "" {
			issues = append(issues, fmt.Sprintf("distribute.downloads[%d]: remote_path and local_path are required", index))
		}
	}
	return issues
}
