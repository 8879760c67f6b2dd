// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package service exposes build triggers over HTTP.
//
// [HTTPServer] owns the listener lifecycle: Serve blocks until its
// context is cancelled, then drains in-flight requests. [NewHandler]
// builds the routes:
//
//   - POST /trigger -- form field "text" is matched against the trigger
//     table; known commands start their pipelines in the background and
//     the response lists the targets
//   - GET /healthz -- liveness
//   - GET /metrics -- prometheus exposition, when a gatherer is set
//
// Trigger requests must carry a signature: the X-Buildrelay-Timestamp
// header (unix seconds) and X-Buildrelay-Signature "v0=<hex>", the
// HMAC-SHA256 of "v0:<timestamp>:<body>" keyed with the shared signing
// secret. Requests older or newer than the allowed skew are rejected
// so a captured request cannot be replayed later.
package service
