// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package sealed encrypts configuration secrets with age so they can sit
// in a YAML file next to the values they configure.
//
// A sealed value is the string "sealed:" followed by the standard
// base64 encoding of an age ciphertext. [Seal] produces one for a set of
// x25519 recipients; [Open] decrypts one with the identities read from an
// identity file ([ReadIdentityFile]). Values without the prefix are not
// sealed and pass through [Open] unchanged, so a configuration may mix
// plain development values and sealed production ones.
package sealed

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"filippo.io/age"

	"github.com/bureau-foundation/buildrelay/lib/failure"
)

// Prefix marks a sealed value.
const Prefix = "sealed:"

// Keypair is an age x25519 identity and its recipient.
type Keypair struct {
	// Identity is the secret key in AGE-SECRET-KEY-1... form. It must
	// never be logged or stored outside a 0600 identity file.
	Identity string

	// Recipient is the public key in age1... form.
	Recipient string
}

// GenerateKeypair returns a new x25519 keypair.
func GenerateKeypair() (Keypair, error) {
	identity, err := age.GenerateX25519Identity()
	if err != nil {
		return Keypair{}, fmt.Errorf("generating age keypair: %w", err)
	}
	return Keypair{
		Identity:  identity.String(),
		Recipient: identity.Recipient().String(),
	}, nil
}

// IsSealed reports whether value carries the sealed prefix.
func IsSealed(value string) bool {
	return strings.HasPrefix(value, Prefix)
}

// Seal encrypts plaintext to every recipient and returns the prefixed
// value. At least one recipient is required.
func Seal(plaintext []byte, recipientKeys []string) (string, error) {
	if len(recipientKeys) == 0 {
		return "", failure.New(failure.Configuration, "seal", "at least one recipient is required")
	}
	recipients := make([]age.Recipient, 0, len(recipientKeys))
	for _, key := range recipientKeys {
		recipient, err := age.ParseX25519Recipient(strings.TrimSpace(key))
		if err != nil {
			return "", failure.Wrap(failure.Configuration, "seal", fmt.Errorf("parsing recipient %q: %w", key, err))
		}
		recipients = append(recipients, recipient)
	}

	var ciphertext bytes.Buffer
	writer, err := age.Encrypt(&ciphertext, recipients...)
	if err != nil {
		return "", fmt.Errorf("creating age encryptor: %w", err)
	}
	if _, err := writer.Write(plaintext); err != nil {
		return "", fmt.Errorf("writing plaintext to age encryptor: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("finalizing age encryption: %w", err)
	}
	return Prefix + base64.StdEncoding.EncodeToString(ciphertext.Bytes()), nil
}

// Open returns the plaintext of a sealed value. Unsealed values are
// returned as they are, without consulting identities.
func Open(value string, identities []age.Identity) (string, error) {
	if !IsSealed(value) {
		return value, nil
	}
	if len(identities) == 0 {
		return "", failure.New(failure.Configuration, "open sealed value", "no identity configured")
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(strings.TrimPrefix(value, Prefix)))
	if err != nil {
		return "", failure.Wrap(failure.Configuration, "open sealed value", fmt.Errorf("decoding base64: %w", err))
	}
	reader, err := age.Decrypt(bytes.NewReader(raw), identities...)
	if err != nil {
		return "", failure.Wrap(failure.Configuration, "open sealed value", err)
	}
	plaintext, err := io.ReadAll(reader)
	if err != nil {
		return "", failure.Wrap(failure.Configuration, "open sealed value", fmt.Errorf("reading plaintext: %w", err))
	}
	return string(plaintext), nil
}

// ReadIdentityFile parses the age identities in path. The file must not
// be readable by group or others.
func ReadIdentityFile(path string) ([]age.Identity, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, failure.Wrap(failure.Configuration, "identity file", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return nil, failure.Wrap(failure.Configuration, "identity file", err)
	}
	if info.Mode().Perm()&0o077 != 0 {
		return nil, failure.New(failure.Configuration, "identity file",
			fmt.Sprintf("%s is accessible by other users (mode %04o); chmod 600 it", path, info.Mode().Perm()))
	}

	identities, err := age.ParseIdentities(file)
	if err != nil {
		return nil, failure.Wrap(failure.Configuration, "identity file", fmt.Errorf("parsing %s: %w", path, err))
	}
	return identities, nil
}

// Recipients returns the public keys of the x25519 identities in
// identities, for sealing values the same identities can open.
func Recipients(identities []age.Identity) ([]string, error) {
	var recipients []string
	for _, identity := range identities {
		x25519, ok := identity.(*age.X25519Identity)
		if !ok {
			continue
		}
		recipients = append(recipients, x25519.Recipient().String())
	}
	if len(recipients) == 0 {
		return nil, errors.New("no x25519 identities")
	}
	return recipients, nil
}

// WriteIdentityFile writes keypair's identity to path with mode 0600,
// refusing to replace an existing file.
func WriteIdentityFile(path string, keypair Keypair) error {
	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return fmt.Errorf("creating identity file: %w", err)
	}
	content := fmt.Sprintf("# public key: %s\n%s\n", keypair.Recipient, keypair.Identity)
	if _, err := file.WriteString(content); err != nil {
		file.Close()
		return fmt.Errorf("writing identity file: %w", err)
	}
	return file.Close()
}
