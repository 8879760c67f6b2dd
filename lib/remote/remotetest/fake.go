// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package remotetest provides a scripted [remote.Executor] for tests.
//
// A Fake matches each executed command line against registered
// handlers by prefix (longest prefix wins; among equal prefixes the
// latest registration wins) and records every call so
// tests can assert on the exact sequence of commands issued:
//
//	fake := remotetest.New()
//	fake.OnResult("git rev-parse", remote.Result{Stdout: ".git\n"})
//	fake.On("git fetch", func(cmd remote.Command) (remote.Result, error) { ... })
//	// ... run code under test with fake as its executor ...
//	if got := fake.Lines(); !slices.Equal(got, want) { ... }
package remotetest

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/bureau-foundation/buildrelay/lib/remote"
)

// Handler produces the outcome of one command.
type Handler func(cmd remote.Command) (remote.Result, error)

type route struct {
	prefix  string
	handler Handler
}

// Fake is a scripted Executor. Safe for concurrent use.
type Fake struct {
	mu       sync.Mutex
	routes   []route
	fallback Handler
	calls    []remote.Command
}

// New returns a Fake whose unmatched commands succeed with empty
// output.
func New() *Fake {
	return &Fake{
		fallback: func(remote.Command) (remote.Result, error) { return remote.Result{}, nil },
	}
}

// On registers handler for command lines starting with prefix,
// replacing any earlier handler for the same prefix. The
// prefix is matched against the program name and arguments joined
// with single spaces, unquoted, so it excludes any "cd" or "env"
// preamble.
func (f *Fake) On(prefix string, handler Handler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	// Newest first, so a later registration replaces an earlier one
	// with the same prefix once the stable sort groups them by length.
	f.routes = append([]route{{prefix: prefix, handler: handler}}, f.routes...)
	sort.SliceStable(f.routes, func(i, j int) bool {
		return len(f.routes[i].prefix) > len(f.routes[j].prefix)
	})
}

// OnResult registers a fixed result for prefix.
func (f *Fake) OnResult(prefix string, result remote.Result) {
	f.On(prefix, func(remote.Command) (remote.Result, error) { return result, nil })
}

// OnSequence registers results returned in order for successive
// matching commands. The last result repeats once the sequence is
// exhausted.
func (f *Fake) OnSequence(prefix string, results ...remote.Result) {
	var (
		mu    sync.Mutex
		index int
	)
	f.On(prefix, func(remote.Command) (remote.Result, error) {
		mu.Lock()
		defer mu.Unlock()
		result := results[index]
		if index < len(results)-1 {
			index++
		}
		return result, nil
	})
}

// Fallback replaces the handler for unmatched commands.
func (f *Fake) Fallback(handler Handler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fallback = handler
}

// Execute records cmd and dispatches it to the matching handler.
func (f *Fake) Execute(ctx context.Context, cmd remote.Command) (remote.Result, error) {
	if err := ctx.Err(); err != nil {
		return remote.Result{ExitCode: -1}, err
	}
	line := Plain(cmd)

	f.mu.Lock()
	f.calls = append(f.calls, cmd)
	handler := f.fallback
	for _, candidate := range f.routes {
		if strings.HasPrefix(line, candidate.prefix) {
			handler = candidate.handler
			break
		}
	}
	f.mu.Unlock()

	return handler(cmd)
}

// Calls returns a copy of every command executed so far.
func (f *Fake) Calls() []remote.Command {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]remote.Command(nil), f.calls...)
}

// Lines returns Plain(cmd) for every call, in order.
func (f *Fake) Lines() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	lines := make([]string, len(f.calls))
	for i, cmd := range f.calls {
		lines[i] = Plain(cmd)
	}
	return lines
}

// Count returns how many executed commands start with prefix.
func (f *Fake) Count(prefix string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	count := 0
	for _, cmd := range f.calls {
		if strings.HasPrefix(Plain(cmd), prefix) {
			count++
		}
	}
	return count
}

// Plain joins the program name and arguments with single spaces,
// without quoting.
func Plain(cmd remote.Command) string {
	return strings.Join(append([]string{cmd.Name}, cmd.Args...), " ")
}
