// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package gitsync

import (
	"bufio"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"fmt"
	"strings"

	"golang.org/x/crypto/ssh"

	"github.com/bureau-foundation/buildrelay/lib/failure"
)

// KeyRequest describes a deploy key to provision on a build host.
type KeyRequest struct {
	// Home is the home directory on the host. Keys go in Home/.ssh.
	Home string

	// Name selects the key file: Home/.ssh/id_<Name>.
	Name string

	// Host is the git host the key is for, e.g. "bitbucket.org".
	Host string

	// User is the git host login. Default "git".
	User string

	// Comment is appended to the public key.
	Comment string
}

// ProvisionedKey describes the key after provisioning.
type ProvisionedKey struct {
	KeyPath    string
	ConfigPath string

	// PublicKey is the authorized_keys line to register with the git
	// host.
	PublicKey string

	// Created is set when the key pair was generated by this call.
	Created bool

	// ConfigUpdated is set when a Host entry was added to ssh config.
	ConfigUpdated bool
}

// ProvisionKey ensures an ed25519 deploy key and an ssh config entry
// for the git host exist under request.Home. An existing key is never
// replaced, and an existing Host entry for the git host is left as is.
func ProvisionKey(ctx context.Context, files Files, request KeyRequest) (ProvisionedKey, error) {
	const op = "provisioning ssh key"
	if request.Home == "" || request.Name == "" || request.Host == "" {
		return ProvisionedKey{}, failure.New(failure.Configuration, op, "home, key name, and git host are required")
	}
	if strings.ContainsAny(request.Name, "/ \t") {
		return ProvisionedKey{}, failure.New(failure.Configuration, op, fmt.Sprintf("invalid key name %q", request.Name))
	}
	user := request.User
	if user == "" {
		user = "git"
	}

	sshDir := strings.TrimSuffix(request.Home, "/") + "/.ssh"
	key := ProvisionedKey{
		KeyPath:    sshDir + "/id_" + request.Name,
		ConfigPath: sshDir + "/config",
	}
	if err := files.MkdirAll(ctx, sshDir, 0o700); err != nil {
		return key, failure.Wrap(failure.EnvironmentValidation, op, err)
	}

	exists, err := files.Exists(ctx, key.KeyPath)
	if err != nil {
		return key, failure.Wrap(failure.EnvironmentValidation, op, err)
	}
	if exists {
		public, err := files.ReadFile(ctx, key.KeyPath+".pub")
		if err != nil {
			return key, failure.Wrap(failure.EnvironmentValidation, op,
				fmt.Errorf("key %s exists but its public half is unreadable: %w", key.KeyPath, err))
		}
		key.PublicKey = strings.TrimSpace(string(public))
	} else {
		private, public, err := generateKey(request.Comment)
		if err != nil {
			return key, failure.Wrap(failure.EnvironmentValidation, op, err)
		}
		if err := files.WriteFile(ctx, key.KeyPath, private, 0o600); err != nil {
			return key, failure.Wrap(failure.EnvironmentValidation, op, err)
		}
		if err := files.WriteFile(ctx, key.KeyPath+".pub", []byte(public+"\n"), 0o644); err != nil {
			return key, failure.Wrap(failure.EnvironmentValidation, op, err)
		}
		key.PublicKey = public
		key.Created = true
	}

	var config string
	configExists, err := files.Exists(ctx, key.ConfigPath)
	if err != nil {
		return key, failure.Wrap(failure.EnvironmentValidation, op, err)
	}
	if configExists {
		content, err := files.ReadFile(ctx, key.ConfigPath)
		if err != nil {
			return key, failure.Wrap(failure.EnvironmentValidation, op, err)
		}
		config = string(content)
	}
	if hasHostEntry(config, request.Host) {
		return key, nil
	}
	if config != "" && !strings.HasSuffix(config, "\n") {
		config += "\n"
	}
	if config != "" {
		config += "\n"
	}
	config += HostEntry(request.Host, user, key.KeyPath)
	if err := files.WriteFile(ctx, key.ConfigPath, []byte(config), 0o600); err != nil {
		return key, failure.Wrap(failure.EnvironmentValidation, op, err)
	}
	key.ConfigUpdated = true
	return key, nil
}

// HostEntry renders an ssh config block routing host through keyPath.
func HostEntry(host, user, keyPath string) string {
	return fmt.Sprintf("Host %s\n  HostName %s\n  User %s\n  IdentityFile %s\n  IdentitiesOnly yes\n",
		host, host, user, keyPath)
}

// hasHostEntry reports whether an ssh config has a Host line whose
// patterns include host literally.
func hasHostEntry(config, host string) bool {
	scanner := bufio.NewScanner(strings.NewReader(config))
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 2 || !strings.EqualFold(fields[0], "Host") {
			continue
		}
		for _, pattern := range fields[1:] {
			if strings.EqualFold(pattern, host) {
				return true
			}
		}
	}
	return false
}

// generateKey returns an OpenSSH PEM private key and its authorized
// keys line.
func generateKey(comment string) (private []byte, public string, err error) {
	publicKey, privateKey, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, "", fmt.Errorf("generating ed25519 key: %w", err)
	}
	block, err := ssh.MarshalPrivateKey(privateKey, comment)
	if err != nil {
		return nil, "", fmt.Errorf("encoding private key: %w", err)
	}
	sshPublic, err := ssh.NewPublicKey(publicKey)
	if err != nil {
		return nil, "", fmt.Errorf("encoding public key: %w", err)
	}
	public = strings.TrimSpace(string(ssh.MarshalAuthorizedKey(sshPublic)))
	if comment != "" {
		public += " " + comment
	}
	return pem.EncodeToMemory(block), public, nil
}
