// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads the buildrelay configuration file.
//
// Configuration comes from a single YAML file named by the
// BUILDRELAY_CONFIG environment variable (via [Load]) or a --config
// flag (via [LoadFile]). There is no discovery and no search path.
//
// The file may contain development, staging, and production sections
// that override base values when [Config].Environment matches. Path
// fields expand ${HOME}, ${BUILDRELAY_ROOT}, and ${VAR:-default}.
//
// Secrets never need to appear in the file in plaintext. The webhook
// URL and request signing secret may be given as sealed values
// ("sealed:<base64>", see lib/sealed) opened with the identity file
// named by secrets.identity_file, or supplied through BUILDRELAY_*
// environment variables, which take precedence over the file.
//
// Key exports:
//
//   - [Config] -- master struct: paths, git, hosts, jobs, notify,
//     archive, serve, triggers
//   - [Default] -- base values the file is merged into
//   - [Load] and [LoadFile] -- the two entry points
//   - [Config.Validate] -- every problem, joined
package config
