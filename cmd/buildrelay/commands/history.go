// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"fmt"
	"io"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/buildrelay/cmd/buildrelay/cli"
	"github.com/bureau-foundation/buildrelay/lib/buildlog"
)

func historyCommand(stdout io.Writer) *cli.Command {
	var (
		options commonOptions
		limit   int
		target  string
		json    bool
	)
	return &cli.Command{
		Name:    "history",
		Summary: "List recent pipeline runs, or show one run's stage output",
		Usage:   "buildrelay history [flags] [run-id [stage]]",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("history", pflag.ContinueOnError)
			options.register(flagSet)
			flagSet.IntVarP(&limit, "limit", "n", 20, "number of runs to list")
			flagSet.StringVar(&target, "target", "", "only list runs of this target")
			flagSet.BoolVar(&json, "json", false, "print runs as JSON")
			return flagSet
		},
		Examples: []cli.Example{
			{Description: "Last ten Mac builds", Command: "buildrelay history --target bh-mac -n 10"},
			{Description: "Full build output of one run", Command: "buildrelay history <run-id> build"},
		},
		Run: func(args []string) error {
			if len(args) > 2 {
				return fmt.Errorf("unexpected argument %q", args[2])
			}
			cfg, _, err := loadConfig(options)
			if err != nil {
				return err
			}
			ledger := buildlog.OpenLedger(cfg.Paths.LedgerPath())

			if len(args) == 0 {
				runs, err := ledger.Recent(limit, target)
				if err != nil {
					return err
				}
				if json {
					return cli.WriteJSON(stdout, runs)
				}
				if len(runs) == 0 {
					fmt.Fprintln(stdout, "no runs recorded")
					return nil
				}
				renderRuns(stdout, runs)
				return nil
			}

			run, found, err := ledger.Find(args[0])
			if err != nil {
				return err
			}
			if !found {
				return fmt.Errorf("no run %q in %s", args[0], ledger.Path())
			}
			if len(args) == 1 {
				if json {
					return cli.WriteJSON(stdout, run)
				}
				renderRun(stdout, run)
				return nil
			}
			return printStageOutput(stdout, run, args[1])
		},
	}
}

func renderRun(w io.Writer, run buildlog.Run) {
	renderRuns(w, []buildlog.Run{run})
	for _, stage := range run.Stages {
		fmt.Fprintf(w, "  %-14s %-10s %s\n", stage.Name, stage.Status, stage.Message)
	}
}

func printStageOutput(w io.Writer, run buildlog.Run, name string) error {
	for _, stage := range run.Stages {
		if stage.Name != name {
			continue
		}
		if stage.OutputPath == "" {
			return fmt.Errorf("stage %s of run %s has no archived output", name, run.ID)
		}
		output, err := buildlog.ReadOutput(stage.OutputPath)
		if err != nil {
			return err
		}
		_, err = io.WriteString(w, output)
		return err
	}
	return fmt.Errorf("run %s has no stage %q", run.ID, name)
}
