// Copyright 2026 The Stashwatch Authors
// SPDX-License-Identifier: Apache-2.0

// Stashwatch-sink is a handler process for stashwatch's socket
// sandbox. It listens on a unix socket and writes every delivered
// event to stdout as one JSON line:
//
//	{"batch":"01J...","kind":"add","stash":{"id":"...","items":[...]}}
//
// Reload requests are logged. Point stashwatch at it with
// handler.socket, and pipe its output wherever events should go.
//
// Usage:
//
//	stashwatch-sink --socket PATH [--log-level LEVEL]
package main
