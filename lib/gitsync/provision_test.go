// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package gitsync

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"golang.org/x/crypto/ssh"

	"github.com/bureau-foundation/buildrelay/lib/failure"
	"github.com/bureau-foundation/buildrelay/lib/testutil"
)

func TestProvisionKeyGeneratesKeyAndConfig(t *testing.T) {
	t.Parallel()
	home := t.TempDir()

	key, err := ProvisionKey(context.Background(), LocalFiles{}, KeyRequest{
		Home:    home,
		Name:    "bitbucket",
		Host:    "bitbucket.org",
		Comment: "buildrelay@mac",
	})
	if err != nil {
		t.Fatalf("ProvisionKey: %v", err)
	}
	if !key.Created || !key.ConfigUpdated {
		t.Errorf("key = %+v, want created and config updated", key)
	}
	if key.KeyPath != filepath.Join(home, ".ssh", "id_bitbucket") {
		t.Errorf("KeyPath = %q", key.KeyPath)
	}

	info, err := os.Stat(filepath.Join(home, ".ssh"))
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0o700 {
		t.Errorf(".ssh mode = %o, want 700", info.Mode().Perm())
	}

	signer, err := ssh.ParsePrivateKey([]byte(testutil.ReadFile(t, key.KeyPath)))
	if err != nil {
		t.Fatalf("parsing generated key: %v", err)
	}
	if signer.PublicKey().Type() != ssh.KeyAlgoED25519 {
		t.Errorf("key type = %s", signer.PublicKey().Type())
	}
	public, _, _, _, err := ssh.ParseAuthorizedKey([]byte(key.PublicKey))
	if err != nil {
		t.Fatalf("parsing public key: %v", err)
	}
	if string(public.Marshal()) != string(signer.PublicKey().Marshal()) {
		t.Error("public key does not match private key")
	}
	if !strings.HasSuffix(key.PublicKey, " buildrelay@mac") {
		t.Errorf("PublicKey = %q, want comment", key.PublicKey)
	}

	config := testutil.ReadFile(t, key.ConfigPath)
	if config != HostEntry("bitbucket.org", "git", key.KeyPath) {
		t.Errorf("config = %q", config)
	}
	configInfo, err := os.Stat(key.ConfigPath)
	if err != nil {
		t.Fatal(err)
	}
	if configInfo.Mode().Perm() != 0o600 {
		t.Errorf("config mode = %o, want 600", configInfo.Mode().Perm())
	}
}

func TestProvisionKeyIsIdempotent(t *testing.T) {
	t.Parallel()
	home := t.TempDir()
	request := KeyRequest{Home: home, Name: "deploy", Host: "bitbucket.org"}

	first, err := ProvisionKey(context.Background(), LocalFiles{}, request)
	if err != nil {
		t.Fatal(err)
	}
	private := testutil.ReadFile(t, first.KeyPath)

	second, err := ProvisionKey(context.Background(), LocalFiles{}, request)
	if err != nil {
		t.Fatal(err)
	}
	if second.Created || second.ConfigUpdated {
		t.Errorf("second call = %+v, want no changes", second)
	}
	if second.PublicKey != first.PublicKey {
		t.Errorf("public key changed: %q -> %q", first.PublicKey, second.PublicKey)
	}
	if testutil.ReadFile(t, first.KeyPath) != private {
		t.Error("existing private key was replaced")
	}
}

func TestProvisionKeyAppendsToExistingConfig(t *testing.T) {
	t.Parallel()
	home := t.TempDir()
	existing := "Host github.com\n  User git"
	testutil.WriteFile(t, filepath.Join(home, ".ssh", "config"), existing)

	key, err := ProvisionKey(context.Background(), LocalFiles{}, KeyRequest{Home: home, Name: "deploy", Host: "bitbucket.org", User: "builder"})
	if err != nil {
		t.Fatal(err)
	}
	want := existing + "\n\n" + HostEntry("bitbucket.org", "builder", key.KeyPath)
	if got := testutil.ReadFile(t, key.ConfigPath); got != want {
		t.Errorf("config = %q, want %q", got, want)
	}
}

func TestProvisionKeyRejectsBadRequest(t *testing.T) {
	t.Parallel()
	for _, request := range []KeyRequest{
		{Name: "deploy", Host: "bitbucket.org"},
		{Home: "/home/build", Host: "bitbucket.org"},
		{Home: "/home/build", Name: "../evil", Host: "bitbucket.org"},
	} {
		_, err := ProvisionKey(context.Background(), LocalFiles{}, request)
		if !failure.Is(err, failure.Configuration) {
			t.Errorf("ProvisionKey(%+v) = %v, want configuration error", request, err)
		}
	}
}

func TestHasHostEntry(t *testing.T) {
	t.Parallel()
	config := "# comment\nhost  github.com gitlab.com\n  User git\nHost *.internal\n"
	if !hasHostEntry(config, "gitlab.com") {
		t.Error("gitlab.com not found")
	}
	if !hasHostEntry(config, "GitHub.com") {
		t.Error("match should ignore case")
	}
	if hasHostEntry(config, "bitbucket.org") {
		t.Error("bitbucket.org found")
	}
}
