// Copyright 2026 The Stashwatch Authors
// SPDX-License-Identifier: Apache-2.0

// Package ledger keeps a history of processed pages in SQLite: one row
// per page with its cursor, the next cursor, body size and digest,
// event counts, and the page's events as compressed JSON.
//
// The ledger is for operators answering "what did the feed do at
// 14:02?" through Recent and Events, which the binary serves as
// /status?recent=N and /status?batch=ID. The poller never reads it
// back: known stash state is always rebuilt from the feed after a
// restart.
//
// Rows older than the retention window are deleted by Prune, which
// Record runs at most once an hour.
package ledger
