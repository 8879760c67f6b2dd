// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package gitsync

import (
	"context"
	"fmt"
	"os"
	"strings"

	"golang.org/x/crypto/ssh"
	"golang.org/x/term"

	"github.com/bureau-foundation/buildrelay/lib/failure"
)

// SSHEnvironment is the SSH identity git uses to reach the git host.
// It is validated, and repaired where possible, before every sync.
type SSHEnvironment struct {
	// KeyPath is the private key git's ssh uses.
	KeyPath string

	// KnownHostsPath is the known_hosts file checked for the git host.
	KnownHostsPath string

	// Host is the git host name, e.g. "bitbucket.org".
	Host string

	// User is the login on the git host, usually "git".
	User string

	// HostKeyEntry is the known_hosts line written when the file is
	// missing, e.g. "bitbucket.org ssh-ed25519 AAAA...".
	HostKeyEntry string

	// FallbackKeyPath is copied to KeyPath when running as a service
	// and KeyPath is absent. Service accounts often have no home
	// directory key of their own.
	FallbackKeyPath string

	// ServiceContext marks a non-interactive run (system service,
	// scheduled task). See DetectServiceContext.
	ServiceContext bool
}

// Target returns "user@host" for the probe, or just the host when no
// user is configured.
func (e SSHEnvironment) Target() string {
	if e.User == "" {
		return e.Host
	}
	return e.User + "@" + e.Host
}

// DetectServiceContext reports whether this process runs without an
// interactive user: under systemd (INVOCATION_ID set) or with stdin
// not attached to a terminal.
func DetectServiceContext() bool {
	if os.Getenv("INVOCATION_ID") != "" {
		return true
	}
	return !term.IsTerminal(int(os.Stdin.Fd()))
}

// ValidateHostKeyEntry checks that entry is one parseable known_hosts
// line naming host.
func ValidateHostKeyEntry(entry, host string) error {
	_, hosts, _, _, rest, err := ssh.ParseKnownHosts([]byte(entry))
	if err != nil {
		return fmt.Errorf("parsing host key entry: %w", err)
	}
	if strings.TrimSpace(string(rest)) != "" {
		return fmt.Errorf("host key entry has more than one line")
	}
	for _, candidate := range hosts {
		if candidate == host || strings.HasPrefix(candidate, "|1|") {
			return nil
		}
	}
	return fmt.Errorf("host key entry is for %v, not %s", hosts, host)
}

// validateEnvironment checks (and where possible repairs) the SSH
// environment. Every error is an EnvironmentValidation or
// Configuration failure: none of them is worth retrying.
func (s *Synchronizer) validateEnvironment(ctx context.Context, env SSHEnvironment) error {
	const op = "validating ssh environment"
	if env.KeyPath == "" || env.KnownHostsPath == "" || env.Host == "" {
		return failure.New(failure.Configuration, op, "key path, known_hosts path, and host are required")
	}

	keyExists, err := s.files.Exists(ctx, env.KeyPath)
	if err != nil {
		return failure.Wrap(failure.EnvironmentValidation, op, err)
	}
	if !keyExists && env.ServiceContext && env.FallbackKeyPath != "" {
		s.logger.Info("ssh key missing in service context, installing fallback key",
			"key_path", env.KeyPath, "fallback_key_path", env.FallbackKeyPath)
		if err := s.files.Readable(ctx, env.FallbackKeyPath); err != nil {
			return failure.Wrap(failure.EnvironmentValidation, op,
				fmt.Errorf("fallback key %s: %w", env.FallbackKeyPath, err))
		}
		if err := s.files.MkdirAll(ctx, parentDir(env.KeyPath), 0o700); err != nil {
			return failure.Wrap(failure.EnvironmentValidation, op, err)
		}
		if err := s.files.CopyFile(ctx, env.FallbackKeyPath, env.KeyPath, 0o600); err != nil {
			return failure.Wrap(failure.EnvironmentValidation, op,
				fmt.Errorf("copying fallback key: %w", err))
		}
	}
	if err := s.files.Readable(ctx, env.KeyPath); err != nil {
		return failure.Wrap(failure.EnvironmentValidation, op,
			fmt.Errorf("ssh key %s: %w", env.KeyPath, err))
	}

	knownHostsExists, err := s.files.Exists(ctx, env.KnownHostsPath)
	if err != nil {
		return failure.Wrap(failure.EnvironmentValidation, op, err)
	}
	if knownHostsExists {
		return nil
	}
	if env.HostKeyEntry == "" {
		return failure.New(failure.EnvironmentValidation, op,
			fmt.Sprintf("known_hosts %s is missing and no host key entry is configured", env.KnownHostsPath))
	}
	if err := ValidateHostKeyEntry(env.HostKeyEntry, env.Host); err != nil {
		return failure.Wrap(failure.Configuration, op, err)
	}
	s.logger.Info("creating known_hosts with configured host key",
		"known_hosts_path", env.KnownHostsPath, "host", env.Host)
	if err := s.files.MkdirAll(ctx, parentDir(env.KnownHostsPath), 0o700); err != nil {
		return failure.Wrap(failure.EnvironmentValidation, op, err)
	}
	entry := strings.TrimSpace(env.HostKeyEntry) + "\n"
	if err := s.files.WriteFile(ctx, env.KnownHostsPath, []byte(entry), 0o644); err != nil {
		return failure.Wrap(failure.EnvironmentValidation, op,
			fmt.Errorf("writing known_hosts: %w", err))
	}
	return nil
}
