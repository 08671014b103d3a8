// Copyright 2026 The Stashwatch Authors
// SPDX-License-Identifier: Apache-2.0

// Package poller drives the change feed: fetch the page at the current
// cursor, hand it to the handler, move to the page's next cursor,
// repeat.
//
// The loop is strictly sequential. The feed is a linked list of pages,
// so a second request cannot start before the first one has produced
// the next cursor; there is never more than one fetch in flight. A
// failed fetch (network error, timeout, malformed page) leaves the
// cursor where it was and is retried after an exponential backoff.
// A cursor is committed only after the handler has returned for its
// page, so every page is handled exactly once per process and none is
// skipped.
//
// States:
//
//	Idle ──fetch──▶ Fetching ──ok──▶ Decoded ──handler──▶ Idle(next)
//	                   │
//	                   └──error──▶ Backoff ──wait──▶ Fetching (same cursor)
//
// Cancelling the context moves the loop to Stopped from any state. A
// fetch in flight is abandoned; a page fetched but not yet handled is
// dropped whole.
package poller
