// Copyright 2026 The Stashwatch Authors
// SPDX-License-Identifier: Apache-2.0

// Stashwatch follows the public stash-tab change feed and hands every
// item that appears in or disappears from a stash to a user-supplied
// handler.
//
// Usage:
//
//	stashwatch [--config FILE] [--log-level LEVEL] [--version]
//
// The configuration file is YAML, or JSON with comments when its name
// ends in .json or .jsonc. Without --config the file named by
// STASHWATCH_CONFIG is used, and without that the built-in defaults.
//
// The binary bootstraps a starting cursor, then fetches one page at a
// time. Each page is diffed against the items seen so far; the
// resulting add and remove events are queued for the handler, followed
// by a reload request, and the cursor advances. Handlers are scripts
// (handler.add_script, handler.remove_script), a unix socket speaking
// CBOR (handler.socket), or both. With no handler configured, events
// are logged.
//
// When metrics.address is set, /metrics serves Prometheus metrics and
// /status a JSON summary of the poller.
package main
