// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec holds the CBOR encoding configuration shared by the
// on-disk state files: the run ledger (lib/buildlog) and the pending
// remote job journal (lib/remotejob).
//
// Human-facing formats stay textual: YAML configuration, JSONC target
// definitions, and JSON on the HTTP surface. State the program writes
// for itself is CBOR.
//
// Encoding uses Core Deterministic Encoding (RFC 8949 §4.2) so equal
// values produce equal bytes, and time.Time values are written as
// RFC 3339 text with nanoseconds so ledgers stay readable in
// diagnostic notation.
//
// State files are CBOR sequences (RFC 8742): items concatenated with
// no framing. [Append] adds one item to a sequence file; [ReadAll]
// decodes every item in one.
//
// Struct tags: a `cbor` tag marks a type that is only ever CBOR. A
// `json` tag marks a type also rendered as JSON (fxamacker/cbor falls
// back to json tags). Never put both on one field.
package codec
