// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package commands assembles the buildrelay command tree and wires
// configuration into the pipeline coordinator, the trigger service,
// and the supporting stores.
package commands
