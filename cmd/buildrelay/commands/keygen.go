// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/buildrelay/cmd/buildrelay/cli"
	"github.com/bureau-foundation/buildrelay/lib/gitsync"
	"github.com/bureau-foundation/buildrelay/lib/remote"
)

func keygenCommand(stdout io.Writer) *cli.Command {
	var (
		options commonOptions
		host    string
		name    string
	)
	return &cli.Command{
		Name:    "keygen",
		Summary: "Provision a git deploy key on this machine or a build host",
		Description: "Ensure ~/.ssh exists (mode 0700), generate an ed25519 key at\n" +
			"~/.ssh/id_<name> unless one is already there, and add a Host entry for\n" +
			"the git host to ~/.ssh/config (mode 0600). The public key is printed\n" +
			"for registration with the git host.",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("keygen", pflag.ContinueOnError)
			options.register(flagSet)
			flagSet.StringVar(&host, "host", "", "configured build host (default this machine)")
			flagSet.StringVar(&name, "name", "buildrelay", "key name: ~/.ssh/id_<name>")
			return flagSet
		},
		Examples: []cli.Example{
			{Description: "Provision the Mac build host", Command: "buildrelay keygen --host mac"},
		},
		Run: func(args []string) error {
			if len(args) > 0 {
				return fmt.Errorf("unexpected argument %q", args[0])
			}
			cfg, logger, err := loadConfig(options)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			var (
				files   gitsync.Files = gitsync.LocalFiles{}
				home    string
				comment = "buildrelay"
			)
			if host == "" {
				if home, err = os.UserHomeDir(); err != nil {
					return err
				}
				if hostname, err := os.Hostname(); err == nil {
					comment += "@" + hostname
				}
			} else {
				hostConfig, ok := cfg.Hosts[host]
				if !ok {
					return fmt.Errorf("unknown host %q", host)
				}
				executor := remote.Host{Dialer: remote.NewDialer(dialConfig(hostConfig), logger.With("host", host))}
				files = gitsync.RemoteFiles{Executor: executor}
				if home, err = remoteHome(ctx, executor); err != nil {
					return fmt.Errorf("host %s: %w", host, err)
				}
				comment += "@" + host
			}

			key, err := gitsync.ProvisionKey(ctx, files, gitsync.KeyRequest{
				Home:    home,
				Name:    name,
				Host:    cfg.Git.Host,
				User:    cfg.Git.User,
				Comment: comment,
			})
			if err != nil {
				return err
			}

			if key.Created {
				fmt.Fprintf(stdout, "generated %s\n", key.KeyPath)
			} else {
				fmt.Fprintf(stdout, "using existing %s\n", key.KeyPath)
			}
			if key.ConfigUpdated {
				fmt.Fprintf(stdout, "added Host %s to %s\n", cfg.Git.Host, key.ConfigPath)
			}
			fmt.Fprintf(stdout, "\nRegister this public key with %s:\n\n%s\n", cfg.Git.Host, key.PublicKey)
			if host != "" {
				fmt.Fprintf(stdout, "\nThen set hosts.%s.git_key_path to %s\n", host, key.KeyPath)
			}
			return nil
		},
	}
}

// remoteHome returns $HOME on the host behind executor.
func remoteHome(ctx context.Context, executor remote.Executor) (string, error) {
	result, err := executor.Execute(ctx, remote.Shell(`printf '%s' "$HOME"`))
	if err != nil {
		return "", err
	}
	home := strings.TrimSpace(result.Stdout)
	if !result.Succeeded() || !strings.HasPrefix(home, "/") {
		return "", fmt.Errorf("cannot determine home directory (exit code %d): %s", result.ExitCode, strings.TrimSpace(result.Output()))
	}
	return home, nil
}
