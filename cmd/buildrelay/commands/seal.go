// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/buildrelay/cmd/buildrelay/cli"
	"github.com/bureau-foundation/buildrelay/lib/sealed"
)

func sealCommand(stdout io.Writer) *cli.Command {
	return &cli.Command{
		Name:    "seal",
		Summary: "Manage age-sealed secrets for the configuration file",
		Description: "Secrets in the configuration file (notify.webhook_url,\n" +
			"serve.signing_secret) may be written as \"sealed:...\" values, opened\n" +
			"at load time with the identity in secrets.identity_file.",
		Subcommands: []*cli.Command{
			sealKeygenCommand(stdout),
			sealEncryptCommand(os.Stdin, stdout),
		},
	}
}

func sealKeygenCommand(stdout io.Writer) *cli.Command {
	var identityPath string
	return &cli.Command{
		Name:    "keygen",
		Summary: "Create an identity file and print its recipient",
		Usage:   "buildrelay seal keygen --identity <path>",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("keygen", pflag.ContinueOnError)
			flagSet.StringVar(&identityPath, "identity", "", "identity file to create (mode 0600, never overwritten)")
			return flagSet
		},
		Run: func(args []string) error {
			if identityPath == "" {
				return errors.New("--identity is required")
			}
			keypair, err := sealed.GenerateKeypair()
			if err != nil {
				return err
			}
			if err := sealed.WriteIdentityFile(identityPath, keypair); err != nil {
				return err
			}
			fmt.Fprintln(stdout, keypair.Recipient)
			return nil
		},
	}
}

func sealEncryptCommand(stdin io.Reader, stdout io.Writer) *cli.Command {
	var (
		recipients   []string
		identityPath string
	)
	return &cli.Command{
		Name:    "encrypt",
		Summary: "Seal a secret read from stdin",
		Description: "Read a secret from stdin and print it sealed to the given recipients\n" +
			"(or to the recipient of --identity). One trailing newline is removed.",
		Usage: "buildrelay seal encrypt [--recipient age1...]... [--identity <path>] < secret",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("encrypt", pflag.ContinueOnError)
			flagSet.StringSliceVar(&recipients, "recipient", nil, "age recipient (repeatable)")
			flagSet.StringVar(&identityPath, "identity", "", "seal to this identity file's recipient")
			return flagSet
		},
		Examples: []cli.Example{
			{Command: "printf %s \"$WEBHOOK\" | buildrelay seal encrypt --identity ~/.buildrelay/identity.txt"},
		},
		Run: func(args []string) error {
			keys := append([]string(nil), recipients...)
			if identityPath != "" {
				identities, err := sealed.ReadIdentityFile(identityPath)
				if err != nil {
					return err
				}
				own, err := sealed.Recipients(identities)
				if err != nil {
					return err
				}
				keys = append(keys, own...)
			}
			if len(keys) == 0 {
				return errors.New("--recipient or --identity is required")
			}

			secret, err := io.ReadAll(stdin)
			if err != nil {
				return fmt.Errorf("reading secret: %w", err)
			}
			secret = bytes.TrimSuffix(secret, []byte("\n"))
			if len(secret) == 0 {
				return errors.New("no secret on stdin")
			}
			value, err := sealed.Seal(secret, keys)
			if err != nil {
				return err
			}
			fmt.Fprintln(stdout, value)
			return nil
		},
	}
}
