// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/buildrelay/cmd/buildrelay/cli"
	"github.com/bureau-foundation/buildrelay/lib/gitsync"
)

func syncCommand(stdout io.Writer) *cli.Command {
	var (
		options commonOptions
		branch  string
	)
	return &cli.Command{
		Name:    "sync",
		Summary: "Synchronize a target's repository without building",
		Description: "Validate the SSH environment, probe the git host, and fetch and pull\n" +
			"the target's branch, with the same retry policy the build pipeline\n" +
			"uses. Useful for checking a host's git access before a build.",
		Usage: "buildrelay sync [flags] <target>",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("sync", pflag.ContinueOnError)
			options.register(flagSet)
			flagSet.StringVar(&branch, "branch", "", "branch to pull instead of the configured one")
			return flagSet
		},
		Run: func(args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("exactly one target is required")
			}
			a, err := openApp(options)
			if err != nil {
				return err
			}
			defer a.Close()

			target, ok := a.coordinator.Target(args[0])
			if !ok {
				return fmt.Errorf("unknown target %q (defined: %v)", args[0], a.targetNames())
			}
			host := a.hosts[target.Host]
			if branch == "" {
				branch = target.Repository.Branch
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			synchronizer := gitsync.New(gitsync.Config{
				Executor:       host.Executor,
				Files:          host.Files,
				Remote:         target.Repository.Remote,
				RemoteMap:      a.config.Git.RemoteMap,
				MaxAttempts:    a.config.Git.SyncAttempts,
				InitialBackoff: a.config.Git.Backoff(),
				Logger:         a.logger.With("target", target.Name),
			})
			result := synchronizer.Sync(ctx, target.Repository.Path, branch, host.SSH)
			if !result.Success {
				fmt.Fprintf(stdout, "sync failed at %s after %d attempt(s): %s\n", result.Step, result.Attempts, result.Message)
				return &cli.ExitError{Code: 1}
			}
			fmt.Fprintf(stdout, "%s: %s\n", target.Name, result.Message)
			if result.LatestCommit != "" {
				fmt.Fprintf(stdout, "latest commit: %s\n", result.LatestCommit)
			}
			return nil
		},
	}
}
