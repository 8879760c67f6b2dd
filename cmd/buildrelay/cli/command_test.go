// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"bytes"
	"slices"
	"strings"
	"testing"

	"github.com/spf13/pflag"
)

func TestExecuteDispatchesToSubcommand(t *testing.T) {
	var called string
	var received []string
	root := &Command{
		Name: "buildrelay",
		Subcommands: []*Command{
			{Name: "version", Run: func(args []string) error { called = "version"; return nil }},
			{Name: "run", Run: func(args []string) error { called = "run"; received = args; return nil }},
		},
	}

	if err := root.Execute([]string{"run", "build", "bh"}); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if called != "run" {
		t.Errorf("dispatched to %q, want run", called)
	}
	if !slices.Equal(received, []string{"build", "bh"}) {
		t.Errorf("args = %v", received)
	}
}

func TestExecuteParsesFlags(t *testing.T) {
	var branch string
	var got []string
	command := &Command{
		Name: "run",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("run", pflag.ContinueOnError)
			flagSet.StringVar(&branch, "branch", "main", "branch")
			return flagSet
		},
		Run: func(args []string) error { got = args; return nil },
	}

	if err := command.Execute([]string{"--branch", "release", "2"}); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if branch != "release" {
		t.Errorf("branch = %q", branch)
	}
	if !slices.Equal(got, []string{"2"}) {
		t.Errorf("args = %v", got)
	}
}

func TestExecuteSuggestsCommand(t *testing.T) {
	var help bytes.Buffer
	root := &Command{
		Name:       "buildrelay",
		HelpOutput: &help,
		Subcommands: []*Command{
			{Name: "serve", Run: func([]string) error { return nil }},
			{Name: "history", Run: func([]string) error { return nil }},
		},
	}
	err := root.Execute([]string{"srve"})
	if err == nil || !strings.Contains(err.Error(), `did you mean "serve"`) {
		t.Errorf("Execute(srve) = %v, want suggestion", err)
	}
}

func TestExecuteSuggestsFlag(t *testing.T) {
	command := &Command{
		Name: "history",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("history", pflag.ContinueOnError)
			flagSet.Int("limit", 20, "")
			flagSet.String("target", "", "")
			return flagSet
		},
		Run: func([]string) error { return nil },
	}
	err := command.Execute([]string{"--limt", "5"})
	if err == nil || !strings.Contains(err.Error(), "did you mean --limit?") {
		t.Errorf("Execute(--limt) = %v, want suggestion", err)
	}
}

func TestExecuteHelp(t *testing.T) {
	var help bytes.Buffer
	root := &Command{
		Name:        "buildrelay",
		Description: "Build orchestration.",
		HelpOutput:  &help,
		Subcommands: []*Command{
			{
				Name:    "run",
				Summary: "Run build pipelines",
				Flags: func() *pflag.FlagSet {
					flagSet := pflag.NewFlagSet("run", pflag.ContinueOnError)
					flagSet.String("branch", "", "branch to build")
					return flagSet
				},
				Examples: []Example{{Description: "Build both platforms", Command: "buildrelay run build bh"}},
				Run:      func([]string) error { t.Error("Run called for --help"); return nil },
			},
		},
	}

	if err := root.Execute([]string{"--help"}); err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"Build orchestration.", "buildrelay <command> [flags]", "run", "Run build pipelines"} {
		if !strings.Contains(help.String(), want) {
			t.Errorf("root help missing %q:\n%s", want, help.String())
		}
	}

	help.Reset()
	if err := root.Execute([]string{"run", "--help"}); err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"buildrelay run [flags]", "--branch", "# Build both platforms"} {
		if !strings.Contains(help.String(), want) {
			t.Errorf("run help missing %q:\n%s", want, help.String())
		}
	}
}

func TestExecuteRequiresSubcommand(t *testing.T) {
	root := &Command{
		Name:        "buildrelay",
		HelpOutput:  &bytes.Buffer{},
		Subcommands: []*Command{{Name: "run", Run: func([]string) error { return nil }}},
	}
	if err := root.Execute(nil); err == nil {
		t.Error("Execute() with no subcommand succeeded")
	}
}

func TestExitError(t *testing.T) {
	err := &ExitError{Code: 2}
	if err.Error() != "" || err.ExitCode() != 2 {
		t.Errorf("ExitError = %q/%d", err.Error(), err.ExitCode())
	}
}
