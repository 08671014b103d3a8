// Copyright 2026 The Stashwatch Authors
// SPDX-License-Identifier: Apache-2.0

// Package diff turns feed pages into add and remove events.
//
// An [Engine] owns the known state: for every stash seen since the
// process started, the set of item keys it held the last time the feed
// reported it. Each stash in a page is a full snapshot, so the engine
// compares it against the stored set, emits what appeared and what
// disappeared, and then replaces the stored set with the snapshot.
// Replacing rather than pruning is what makes applying the same page
// twice produce no events the second time.
//
// Stash ids are never forgotten. Known state lives only in memory; a
// restarted process sees every stash as new.
package diff
