// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides shared test helpers.
//
// [RequireReceive] and [RequireClosed] wrap the select
// with a wall-clock fallback so individual tests never call time.After
// directly. Everything else in the test suite drives time through
// lib/clock's fake.
//
// [SocketDir] returns a short directory under /tmp for Unix sockets,
// whose paths are limited to 108 bytes. [Logger] returns a slog.Logger
// that writes through t.Log so output appears only for failing tests.
// [WriteFile] and [ReadFile] wrap file fixtures.
//
// Helpers call t.Fatalf on failure rather than returning errors.
package testutil
