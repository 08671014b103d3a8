// Copyright 2026 The Stashwatch Authors
// SPDX-License-Identifier: Apache-2.0

// Package sandbox is the boundary between stashwatch and user handler
// code.
//
// A Sandbox receives one call per event (Deliver) and one call after
// every fully processed page (RequestReload). Delivery is best effort:
// an error is reported to the caller, which logs it and moves on. The
// payload is the event's stash as a JSON object.
//
// Implementations:
//
//   - Func adapts plain Go functions, for embedding and tests.
//   - Command runs add and remove scripts with the payload on stdin.
//     Scripts are snapshotted by content digest; RequestReload picks
//     up edits, so handler behavior can change without a restart and
//     a single page is always handled by one version of each script.
//   - Socket forwards each call to a handler process listening on a
//     unix socket. Serve is the matching server side, used by the
//     stashwatch-sink handler binary.
//   - Multi fans a call out to several sandboxes.
package sandbox
