// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package artifact

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"github.com/zeebo/blake3"
)

// Hash is a 32-byte BLAKE3 digest of an artifact's content.
type Hash [32]byte

// fileDomainKey separates artifact digests from any other BLAKE3 use:
// the ASCII domain name, zero-padded to 32 bytes.
var fileDomainKey = [32]byte{
	'b', 'u', 'i', 'l', 'd', 'r', 'e', 'l', 'a', 'y', '.', 'a', 'r', 't', 'i', 'f',
	'a', 'c', 't', 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
}

// HashReader returns the keyed digest of everything read from r.
func HashReader(r io.Reader) (Hash, int64, error) {
	// NewKeyed only fails for a key that is not 32 bytes.
	hasher, err := blake3.NewKeyed(fileDomainKey[:])
	if err != nil {
		panic("artifact: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	size, err := io.Copy(hasher, r)
	if err != nil {
		return Hash{}, size, err
	}
	var hash Hash
	copy(hash[:], hasher.Sum(nil))
	return hash, size, nil
}

// HashFile returns the digest of the file at path.
func HashFile(path string) (Hash, error) {
	file, err := os.Open(path)
	if err != nil {
		return Hash{}, err
	}
	defer file.Close()
	hash, _, err := HashReader(file)
	if err != nil {
		return Hash{}, fmt.Errorf("hashing %s: %w", path, err)
	}
	return hash, nil
}

// String returns the hex encoding.
func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

// Short returns the first 12 hex characters, for messages.
func (h Hash) Short() string {
	return hex.EncodeToString(h[:6])
}

// ParseHash parses a 64-character hex string.
func ParseHash(hexString string) (Hash, error) {
	var hash Hash
	decoded, err := hex.DecodeString(hexString)
	if err != nil {
		return hash, fmt.Errorf("parsing artifact hash: %w", err)
	}
	if len(decoded) != len(hash) {
		return hash, fmt.Errorf("artifact hash is %d bytes, want %d", len(decoded), len(hash))
	}
	copy(hash[:], decoded)
	return hash, nil
}
