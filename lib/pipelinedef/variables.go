// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package pipelinedef

import (
	"fmt"
	"maps"
	"regexp"
	"slices"
	"strings"
)

// variablePattern matches ${NAME} references in strings. Only the
// braced form is recognized; bare $NAME is left for shell
// interpretation. Variable names must start with a letter or
// underscore and contain only letters, digits, and underscores.
var variablePattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

var variableNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Built-in variables, set by the coordinator for every run.
const (
	VariableVersion  = "VERSION"
	VariableTarget   = "TARGET"
	VariableBranch   = "BRANCH"
	VariableRepo     = "REPO"
	VariablePlatform = "PLATFORM"
	VariableFile     = "FILE"
)

var builtins = []string{
	VariableVersion, VariableTarget, VariableBranch,
	VariableRepo, VariablePlatform, VariableFile,
}

func isBuiltin(name string) bool {
	return slices.Contains(builtins, name)
}

// ResolveVariables merges variable sources (lowest to highest
// priority):
//
//  1. Declared defaults from the target's variable definitions
//  2. Environment lookup via the environ function
//  3. Built-in values supplied by the coordinator
//
// The environ function is os.Getenv in production, a stub in tests. It
// is only consulted for declared variables. Returns an error if a
// required variable has no value from any source.
func ResolveVariables(declarations map[string]Variable, builtinValues map[string]string, environ func(string) string) (map[string]string, error) {
	resolved := make(map[string]string, len(declarations)+len(builtinValues))

	for name, declaration := range declarations {
		if declaration.Default != "" {
			resolved[name] = declaration.Default
		}
	}

	if environ != nil {
		for name := range declarations {
			if value := environ(name); value != "" {
				resolved[name] = value
			}
		}
	}

	maps.Copy(resolved, builtinValues)

	var missing []string
	for name, declaration := range declarations {
		if declaration.Required {
			if _, exists := resolved[name]; !exists {
				missing = append(missing, name)
			}
		}
	}
	if len(missing) > 0 {
		slices.Sort(missing)
		return nil, fmt.Errorf("required target variables not set: %s", strings.Join(missing, ", "))
	}

	return resolved, nil
}

// Expand replaces ${NAME} references in input with values from the
// variables map. Returns an error listing every referenced variable
// that has no value, so a definition fails before it runs a broken
// command.
func Expand(input string, variables map[string]string) (string, error) {
	var unresolved []string

	result := variablePattern.ReplaceAllStringFunc(input, func(match string) string {
		name := match[2 : len(match)-1]
		if value, exists := variables[name]; exists {
			return value
		}
		unresolved = append(unresolved, name)
		return match
	})

	if len(unresolved) > 0 {
		return "", fmt.Errorf("unresolved variables: %s", strings.Join(unresolved, ", "))
	}

	return result, nil
}

// ExpandStep returns a copy of step with Commands, Dir, Title, and Env
// values expanded. Env values are expanded first, against the target
// variables only, then merged on top of them for the other fields, so
// a command can reference a step env variable with ${NAME}.
func ExpandStep(step Step, variables map[string]string) (Step, error) {
	var expandedEnv map[string]string
	if len(step.Env) > 0 {
		expandedEnv = make(map[string]string, len(step.Env))
		for name, value := range step.Env {
			expandedValue, err := Expand(value, variables)
			if err != nil {
				return Step{}, fmt.Errorf("env[%s]: %w", name, err)
			}
			expandedEnv[name] = expandedValue
		}
	}

	merged := make(map[string]string, len(variables)+len(expandedEnv))
	maps.Copy(merged, variables)
	maps.Copy(merged, expandedEnv)

	var err error
	commands := make([]string, len(step.Commands))
	for index, command := range step.Commands {
		if commands[index], err = Expand(command, merged); err != nil {
			return Step{}, fmt.Errorf("commands[%d]: %w", index, err)
		}
	}
	step.Commands = commands
	if step.Dir, err = Expand(step.Dir, merged); err != nil {
		return Step{}, fmt.Errorf("dir: %w", err)
	}
	if step.Title, err = Expand(step.Title, merged); err != nil {
		return Step{}, fmt.Errorf("title: %w", err)
	}
	step.Env = expandedEnv
	return step, nil
}

// ExpandAll expands each string of values.
func ExpandAll(values []string, variables map[string]string) ([]string, error) {
	if values == nil {
		return nil, nil
	}
	expanded := make([]string, len(values))
	for index, value := range values {
		var err error
		if expanded[index], err = Expand(value, variables); err != nil {
			return nil, fmt.Errorf("[%d]: %w", index, err)
		}
	}
	return expanded, nil
}

// MatchHints returns the message of every hint with a match string
// contained in output (case-insensitive), in hint order.
func MatchHints(hints []Hint, output string) []string {
	lower := strings.ToLower(output)
	var messages []string
	for _, hint := range hints {
		for _, needle := range hint.Contains {
			if needle != "" && strings.Contains(lower, strings.ToLower(needle)) {
				messages = append(messages, hint.Message)
				break
			}
		}
	}
	return messages
}
