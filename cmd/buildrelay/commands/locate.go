// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/buildrelay/cmd/buildrelay/cli"
	"github.com/bureau-foundation/buildrelay/lib/artifact"
)

func locateCommand(stdout io.Writer) *cli.Command {
	var (
		options    commonOptions
		dirs       []string
		extensions []string
		digest     bool
	)
	return &cli.Command{
		Name:    "locate",
		Summary: "Find the artifact a target would distribute",
		Description: "Print the newest artifact in a target's search directories, or in\n" +
			"directories given with --dir. Nothing is built or copied.",
		Usage: "buildrelay locate [flags] [target]",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("locate", pflag.ContinueOnError)
			options.register(flagSet)
			flagSet.StringSliceVar(&dirs, "dir", nil, "directory to search, highest priority first (repeatable); no target needed")
			flagSet.StringSliceVar(&extensions, "ext", []string{".msi", ".exe"}, "artifact extensions for --dir")
			flagSet.BoolVar(&digest, "digest", false, "print the artifact's blake3 digest")
			return flagSet
		},
		Examples: []cli.Example{
			{Command: "buildrelay locate bh-pc"},
			{Command: "buildrelay locate --dir 'C:/Build/Output' --ext .msi --digest"},
		},
		Run: func(args []string) error {
			var (
				descriptor artifact.Descriptor
				searched   []string
				found      bool
				err        error
			)
			switch {
			case len(dirs) > 0 && len(args) == 0:
				searched = dirs
				descriptor, found, err = artifact.Locate(dirs, extensions)
			case len(dirs) == 0 && len(args) == 1:
				a, openErr := openApp(options)
				if openErr != nil {
					return openErr
				}
				defer a.Close()
				descriptor, searched, found, err = a.coordinator.Locate(args[0])
			default:
				return fmt.Errorf("give either one target or --dir")
			}
			if err != nil {
				return err
			}
			if !found {
				fmt.Fprintf(stdout, "no artifact found in %s\n", strings.Join(searched, ", "))
				return &cli.ExitError{Code: 1}
			}

			fmt.Fprintf(stdout, "%s\n  size:    %.1f MB\n  created: %s\n",
				descriptor.Path, descriptor.SizeMB(), descriptor.CreatedAt.Format("2006-01-02 15:04:05"))
			if descriptor.Version != "" {
				fmt.Fprintf(stdout, "  version: %s\n", descriptor.Version)
			}
			if digest {
				hash, err := artifact.HashFile(descriptor.Path)
				if err != nil {
					return err
				}
				fmt.Fprintf(stdout, "  blake3:  %s\n", hash)
			}
			return nil
		},
	}
}
