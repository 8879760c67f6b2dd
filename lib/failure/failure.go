// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package failure defines the error taxonomy shared by the build
// orchestration packages and the classifier that decides whether a
// failure is worth retrying.
//
// Every error that crosses a component boundary is either a *Error
// carrying a [Kind], or an arbitrary error that [Classify] can place
// into a Kind from its structure (net.Error, DNS errors, errno values,
// TLS alerts, SSH exit statuses) or, failing that, from its text.
package failure

import (
	"errors"
	"fmt"
)

// Kind is the category of a failure. It decides retry and stage
// policy, never the message shown to the operator.
type Kind int

const (
	// Unknown is the zero Kind: the failure could not be classified.
	// Callers treat it as non-retryable.
	Unknown Kind = iota

	// Configuration means a required setting or path is missing or
	// invalid. Fatal, not retried.
	Configuration

	// EnvironmentValidation means the SSH key, known_hosts file, or a
	// required directory is missing and could not be repaired. Fatal.
	EnvironmentValidation

	// TransientNetwork covers timeouts, DNS failures, connection
	// reset/refused, and TLS handshake failures. Retried with backoff.
	TransientNetwork

	// Authorization means credentials were rejected. Fatal
	// immediately, never retried.
	Authorization

	// CommandExecution means an external tool exited non-zero.
	CommandExecution

	// Timeout means a command or remote job exceeded its allotted time.
	Timeout

	// ArtifactNotFound means no output file matched after an otherwise
	// successful build. Reported as a warning.
	ArtifactNotFound
)

var kindNames = map[Kind]string{
	Unknown:               "unknown",
	Configuration:         "configuration",
	EnvironmentValidation: "environment_validation",
	TransientNetwork:      "transient_network",
	Authorization:         "authorization",
	CommandExecution:      "command_execution",
	Timeout:               "timeout",
	ArtifactNotFound:      "artifact_not_found",
}

// String returns the snake_case name used in logs and metrics labels.
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Retryable reports whether failures of this kind should be retried.
func (k Kind) Retryable() bool {
	return k == TransientNetwork
}

// Error is a classified failure. Op names the operation that failed
// ("git fetch", "ssh probe"); Detail is an optional human-readable
// explanation; Err is the underlying cause.
type Error struct {
	Kind   Kind
	Op     string
	Detail string
	Err    error
}

func (e *Error) Error() string {
	message := e.Op
	if e.Detail != "" {
		if message != "" {
			message += ": "
		}
		message += e.Detail
	}
	if e.Err != nil {
		if message != "" {
			message += ": "
		}
		message += e.Err.Error()
	}
	if message == "" {
		message = e.Kind.String()
	}
	return message
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error by Kind, so errors.Is(err, &Error{Kind: k})
// reports whether err carries kind k anywhere in its chain.
func (e *Error) Is(target error) bool {
	other, ok := target.(*Error)
	if !ok {
		return false
	}
	return other.Op == "" && other.Detail == "" && other.Err == nil && other.Kind == e.Kind
}

// New returns a classified error.
func New(kind Kind, op, detail string) *Error {
	return &Error{Kind: kind, Op: op, Detail: detail}
}

// Wrap returns err classified as kind. Returns nil if err is nil.
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// Is reports whether err carries kind anywhere in its chain.
func Is(err error, kind Kind) bool {
	return errors.Is(err, &Error{Kind: kind})
}

// KindOf returns the Kind of the outermost *Error in err's chain, or
// the result of Classify when the chain has none.
func KindOf(err error) Kind {
	if err == nil {
		return Unknown
	}
	var classified *Error
	if errors.As(err, &classified) {
		return classified.Kind
	}
	return Classify(err)
}
