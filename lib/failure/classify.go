// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package failure

import (
	"context"
	"crypto/tls"
	"errors"
	"io"
	"net"
	"os"
	"strings"
	"syscall"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// Transient output markers. These match messages printed by git, ssh,
// curl, and the platform resolver. Structured signals are checked
// first; these only decide when the error carries nothing but text.
var transientMarkers = []string{
	"timeout",
	"timed out",
	"network",
	"could not resolve host",
	"could not resolve hostname",
	"temporary failure in name resolution",
	"connection refused",
	"connection reset",
	"connection closed by remote host",
	"tls handshake failed",
	"ssl_connect",
	"gnutls_handshake",
	"temporarily unavailable",
	"early eof",
	"the remote end hung up unexpectedly",
}

// Authorization output markers.
var authorizationMarkers = []string{
	"permission denied",
	"authentication failed",
	"host key verification failed",
	"repository access denied",
	"unable to authenticate",
}

// Classify places an unclassified error into a Kind. Structured
// signals win over text: an error that wraps *net.DNSError is transient
// regardless of its message. Text matching is the fallback for errors
// built from tool output.
func Classify(err error) Kind {
	if err == nil {
		return Unknown
	}
	if kind, ok := classifyStructured(err); ok {
		return kind
	}
	return ClassifyOutput(err.Error())
}

// ClassifyOutput classifies captured tool output (stderr, or the
// combined text of a failed command). Authorization markers take
// precedence: "Permission denied (publickey)" often arrives alongside
// "Connection closed by remote host".
func ClassifyOutput(output string) Kind {
	lower := strings.ToLower(output)
	for _, marker := range authorizationMarkers {
		if strings.Contains(lower, marker) {
			return Authorization
		}
	}
	for _, marker := range transientMarkers {
		if strings.Contains(lower, marker) {
			return TransientNetwork
		}
	}
	return Unknown
}

func classifyStructured(err error) (Kind, bool) {
	var classified *Error
	if errors.As(err, &classified) {
		return classified.Kind, true
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return TransientNetwork, true
	}

	var dnsError *net.DNSError
	if errors.As(err, &dnsError) {
		return TransientNetwork, true
	}

	for _, errno := range []syscall.Errno{
		syscall.ECONNRESET,
		syscall.ECONNREFUSED,
		syscall.ECONNABORTED,
		syscall.ETIMEDOUT,
		syscall.EHOSTUNREACH,
		syscall.ENETUNREACH,
		syscall.EPIPE,
	} {
		if errors.Is(err, errno) {
			return TransientNetwork, true
		}
	}

	if errors.Is(err, io.ErrUnexpectedEOF) {
		return TransientNetwork, true
	}

	var recordHeaderError tls.RecordHeaderError
	if errors.As(err, &recordHeaderError) {
		return TransientNetwork, true
	}
	var alertError tls.AlertError
	if errors.As(err, &alertError) {
		return TransientNetwork, true
	}

	var keyError *knownhosts.KeyError
	if errors.As(err, &keyError) {
		return Authorization, true
	}
	var revokedError *knownhosts.RevokedError
	if errors.As(err, &revokedError) {
		return Authorization, true
	}

	// An SSH handshake that fails authentication surfaces as a plain
	// error with this prefix; x/crypto/ssh exports no type for it.
	if strings.Contains(err.Error(), "ssh: unable to authenticate") {
		return Authorization, true
	}

	var exitError *ssh.ExitError
	if errors.As(err, &exitError) {
		// Exit 255 is ssh's own failure status: the transport, not the
		// remote command, failed.
		if exitError.ExitStatus() == 255 {
			return ClassifyOutput(exitError.Msg()), true
		}
		return CommandExecution, true
	}

	var netError net.Error
	if errors.As(err, &netError) && netError.Timeout() {
		return TransientNetwork, true
	}
	var opError *net.OpError
	if errors.As(err, &opError) {
		return TransientNetwork, true
	}

	return Unknown, false
}
