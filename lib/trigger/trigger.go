// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package trigger maps free-text build commands to build targets.
//
// A [Table] holds a small fixed set of commands, each with an optional
// numeric alias. Input is trimmed and case-folded before matching, so
// " Build BH-PC " and "build bh-pc" are the same command. Input that
// matches nothing is not an error: [Table.Match] returns a Result with
// Known false and, when some command is within a few edits of the
// input, a suggestion.
package trigger

import (
	"errors"
	"fmt"
	"strings"
)

// Entry is one recognized command.
type Entry struct {
	// Command is the canonical text, e.g. "build bh-pc".
	Command string `yaml:"command" json:"command"`

	// Alias is a short form accepted in place of Command, e.g. "2".
	Alias string `yaml:"alias,omitempty" json:"alias,omitempty"`

	// Targets are the build targets the command starts. More than one
	// target runs the pipelines concurrently.
	Targets []string `yaml:"targets" json:"targets"`

	// Description is shown in command listings.
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
}

// DefaultEntries is the built-in command set.
var DefaultEntries = []Entry{
	{Command: "build bh", Alias: "1", Targets: []string{"bh-pc", "bh-mac"}, Description: "Windows and Mac in parallel"},
	{Command: "build bh-pc", Alias: "2", Targets: []string{"bh-pc"}, Description: "Windows only"},
	{Command: "build bh-mac", Alias: "3", Targets: []string{"bh-mac"}, Description: "Mac only"},
	{Command: "build lls", Alias: "4", Targets: []string{"lls"}, Description: "LLS"},
}

// Result is the outcome of matching one input.
type Result struct {
	// Input is the text as received.
	Input string

	// Known reports whether Input matched an entry.
	Known bool

	// Blank is set for input that is empty after trimming. Blank input
	// is neither known nor worth a reply.
	Blank bool

	// Entry is the matched entry when Known.
	Entry Entry

	// Suggestion is the closest command for unknown input, or "".
	Suggestion string
}

// Reply renders the operator-facing response for an unknown command.
func (r Result) Reply() string {
	if r.Known || r.Blank {
		return ""
	}
	reply := "Unknown command: " + strings.TrimSpace(r.Input)
	if r.Suggestion != "" {
		reply += fmt.Sprintf(" (did you mean %q?)", r.Suggestion)
	}
	return reply
}

// Table matches input against a set of entries.
type Table struct {
	entries []Entry
	lookup  map[string]int
}

// maxSuggestDistance is the largest edit distance that still yields a
// suggestion.
const maxSuggestDistance = 3

// NewTable builds a table. Commands and aliases are normalized; a
// command or alias used twice, or an entry without targets, is an
// error.
func NewTable(entries []Entry) (*Table, error) {
	table := &Table{lookup: make(map[string]int)}
	var problems []error
	for _, entry := range entries {
		entry.Command = normalize(entry.Command)
		entry.Alias = normalize(entry.Alias)
		if entry.Command == "" {
			problems = append(problems, errors.New("trigger entry has no command"))
			continue
		}
		if len(entry.Targets) == 0 {
			problems = append(problems, fmt.Errorf("trigger %q has no targets", entry.Command))
			continue
		}
		index := len(table.entries)
		for _, key := range []string{entry.Command, entry.Alias} {
			if key == "" {
				continue
			}
			if existing, taken := table.lookup[key]; taken {
				problems = append(problems, fmt.Errorf("trigger %q: %q is already used by %q", entry.Command, key, table.entries[existing].Command))
				continue
			}
			table.lookup[key] = index
		}
		table.entries = append(table.entries, entry)
	}
	if len(problems) > 0 {
		return nil, errors.Join(problems...)
	}
	return table, nil
}

// Default returns a table of DefaultEntries.
func Default() *Table {
	table, err := NewTable(DefaultEntries)
	if err != nil {
		panic("trigger: invalid default entries: " + err.Error())
	}
	return table
}

// Entries returns the table's entries in definition order.
func (t *Table) Entries() []Entry {
	return append([]Entry(nil), t.entries...)
}

// Targets returns every target named by any entry, in first-seen order.
func (t *Table) Targets() []string {
	seen := make(map[string]bool)
	var targets []string
	for _, entry := range t.entries {
		for _, target := range entry.Targets {
			if !seen[target] {
				seen[target] = true
				targets = append(targets, target)
			}
		}
	}
	return targets
}

// Match looks input up in the table.
func (t *Table) Match(input string) Result {
	key := normalize(input)
	if key == "" {
		return Result{Input: input, Blank: true}
	}
	if index, ok := t.lookup[key]; ok {
		return Result{Input: input, Known: true, Entry: t.entries[index]}
	}
	return Result{Input: input, Suggestion: t.suggest(key)}
}

func (t *Table) suggest(key string) string {
	best := ""
	bestDistance := maxSuggestDistance + 1
	for _, entry := range t.entries {
		if distance := levenshtein(key, entry.Command); distance < bestDistance {
			bestDistance = distance
			best = entry.Command
		}
	}
	return best
}

// normalize trims surrounding space, folds case, and collapses runs of
// inner whitespace to one space.
func normalize(input string) string {
	return strings.ToLower(strings.Join(strings.Fields(input), " "))
}

// levenshtein returns the edit distance between a and b, counting
// runes.
func levenshtein(a, b string) int {
	ar, br := []rune(a), []rune(b)
	if len(ar) > len(br) {
		ar, br = br, ar
	}
	previous := make([]int, len(ar)+1)
	for i := range previous {
		previous[i] = i
	}
	current := make([]int, len(ar)+1)
	for j := 1; j <= len(br); j++ {
		current[0] = j
		for i := 1; i <= len(ar); i++ {
			cost := 1
			if ar[i-1] == br[j-1] {
				cost = 0
			}
			current[i] = min(previous[i]+1, current[i-1]+1, previous[i-1]+cost)
		}
		previous, current = current, previous
	}
	return previous[len(ar)]
}
