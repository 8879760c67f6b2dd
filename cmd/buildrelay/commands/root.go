// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/buildrelay/cmd/buildrelay/cli"
	"github.com/bureau-foundation/buildrelay/lib/version"
)

// Root returns the buildrelay command tree writing to the process's
// standard streams.
func Root() *cli.Command {
	return newRoot(os.Stdout, os.Stderr)
}

func newRoot(stdout, stderr io.Writer) *cli.Command {
	return &cli.Command{
		Name: "buildrelay",
		Description: "buildrelay runs build pipelines for configured targets: git sync,\n" +
			"version stamp, build, package, and distribute, locally or on build\n" +
			"hosts over SSH, reporting progress to a chat webhook.",
		HelpOutput: stderr,
		Subcommands: []*cli.Command{
			runCommand(stdout),
			serveCommand(),
			syncCommand(stdout),
			locateCommand(stdout),
			historyCommand(stdout),
			keygenCommand(stdout),
			sealCommand(stdout),
			versionCommand(stdout),
		},
	}
}

// commonOptions are the flags every command that loads configuration
// accepts.
type commonOptions struct {
	configPath string
	logLevel   string
}

func (o *commonOptions) register(flagSet *pflag.FlagSet) {
	flagSet.StringVar(&o.configPath, "config", "", "configuration file (default $BUILDRELAY_CONFIG)")
	flagSet.StringVar(&o.logLevel, "log-level", "info", "log level: debug, info, warn, or error")
}

func versionCommand(stdout io.Writer) *cli.Command {
	return &cli.Command{
		Name:    "version",
		Summary: "Print version information",
		Run: func(args []string) error {
			if len(args) > 0 {
				return fmt.Errorf("unexpected argument %q", args[0])
			}
			fmt.Fprintf(stdout, "buildrelay %s\n", version.Full())
			return nil
		},
	}
}
