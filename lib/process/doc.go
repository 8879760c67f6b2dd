// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package process holds the binary entrypoint helper used after run()
// returns, when the structured logger may not exist (configuration
// failed to load) or may already be closed.
package process
