// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/buildrelay/cmd/buildrelay/cli"
	"github.com/bureau-foundation/buildrelay/lib/clock"
	"github.com/bureau-foundation/buildrelay/lib/pipeline"
	"github.com/bureau-foundation/buildrelay/lib/trigger"
)

type runOptions struct {
	commonOptions
	targets []string
	branch  string
	json    bool
}

func runCommand(stdout io.Writer) *cli.Command {
	var options runOptions
	return &cli.Command{
		Name:    "run",
		Summary: "Run build pipelines for a trigger command or targets",
		Description: "Run the pipelines a trigger command names (\"build bh\", \"2\", ...) or the\n" +
			"targets given with --target, and wait for all of them to finish.\n" +
			"Progress goes to the configured notifier; the final report is\n" +
			"printed here. The exit code is 1 when any pipeline failed.",
		Usage: "buildrelay run [flags] [trigger command]",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("run", pflag.ContinueOnError)
			options.register(flagSet)
			flagSet.StringSliceVarP(&options.targets, "target", "t", nil, "target to build (repeatable); overrides the trigger command")
			flagSet.StringVar(&options.branch, "branch", "", "branch to build instead of each target's configured branch")
			flagSet.BoolVar(&options.json, "json", false, "print reports as JSON")
			return flagSet
		},
		Examples: []cli.Example{
			{Description: "Build Windows and Mac in parallel", Command: "buildrelay run build bh"},
			{Description: "Build one target from a release branch", Command: "buildrelay run --target bh-pc --branch release/2026.03"},
		},
		Run: func(args []string) error {
			a, err := openApp(options.commonOptions)
			if err != nil {
				return err
			}
			defer a.Close()

			requests, err := resolveRequests(a.table, args, options.targets, options.branch, clock.Real().Now())
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if swept, err := a.coordinator.Recover(ctx); err != nil {
				a.logger.Warn("sweeping abandoned remote jobs failed", "error", err)
			} else if swept > 0 {
				a.logger.Info("removed scratch files of abandoned remote jobs", "jobs", swept)
			}

			reports, runErr := a.coordinator.RunAll(ctx, requests)
			if options.json {
				if err := cli.WriteJSON(stdout, reportsJSON(reports)); err != nil {
					return err
				}
			} else {
				renderReports(stdout, reports)
			}
			if runErr != nil {
				return runErr
			}
			for _, report := range reports {
				if !report.Succeeded() {
					return &cli.ExitError{Code: 1}
				}
			}
			return nil
		},
	}
}

// resolveRequests turns the command line into pipeline requests:
// explicit targets when given, otherwise the targets of the trigger
// command in args.
func resolveRequests(table *trigger.Table, args, targets []string, branch string, now time.Time) ([]pipeline.Request, error) {
	if len(targets) == 0 {
		result := table.Match(strings.Join(args, " "))
		switch {
		case result.Blank:
			return nil, errors.New("a trigger command or --target is required")
		case !result.Known:
			return nil, errors.New(result.Reply())
		}
		targets = result.Entry.Targets
	} else if len(args) > 0 {
		return nil, fmt.Errorf("--target and a trigger command (%q) are mutually exclusive", strings.Join(args, " "))
	}

	requests := make([]pipeline.Request, len(targets))
	for index, target := range targets {
		requests[index] = pipeline.Request{
			Target: target,
			Origin: "cli",
			Branch: branch,
			Time:   now,
		}
	}
	return requests, nil
}

// stageJSON and reportJSON are the --json shapes of a report.
type stageJSON struct {
	Stage    string   `json:"stage"`
	Status   string   `json:"status"`
	Message  string   `json:"message"`
	Output   string   `json:"output,omitempty"`
	Hints    []string `json:"hints,omitempty"`
	Duration string   `json:"duration"`
}

type reportJSON struct {
	ID       string      `json:"id"`
	Target   string      `json:"target"`
	Platform string      `json:"platform,omitempty"`
	Branch   string      `json:"branch"`
	Version  string      `json:"version,omitempty"`
	Outcome  string      `json:"outcome"`
	Stages   []stageJSON `json:"stages"`
	Artifact string      `json:"artifact,omitempty"`
	Link     string      `json:"link,omitempty"`
	Started  time.Time   `json:"started"`
	Duration string      `json:"duration"`
}

func reportsJSON(reports []pipeline.Report) []reportJSON {
	out := make([]reportJSON, len(reports))
	for index, report := range reports {
		entry := reportJSON{
			ID:       report.ID,
			Target:   report.Target,
			Platform: report.Platform,
			Branch:   report.Branch,
			Version:  report.Version,
			Outcome:  report.Outcome(),
			Stages:   []stageJSON{},
			Artifact: report.Artifact,
			Link:     report.Link,
			Started:  report.Started,
			Duration: report.Duration.String(),
		}
		for _, stage := range report.Stages {
			entry.Stages = append(entry.Stages, stageJSON{
				Stage:    string(stage.Stage),
				Status:   stage.Status.String(),
				Message:  stage.Message,
				Output:   stage.OutputTail,
				Hints:    stage.Hints,
				Duration: stage.Duration.String(),
			})
		}
		out[index] = entry
	}
	return out
}
