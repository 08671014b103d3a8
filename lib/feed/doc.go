// Copyright 2026 The Stashwatch Authors
// SPDX-License-Identifier: Apache-2.0

// Package feed models the public stash change feed and fetches pages
// of it over HTTP.
//
// The feed is a chain of pages. Each page carries the stashes that
// changed since the previous page and the cursor (next_change_id) of
// the page after it. A stash is always reported whole: its items list
// is the complete current contents, not a delta. Computing deltas is
// the diff package's job.
//
// Decoding is strict about the fields the pipeline depends on (the
// next cursor, stash ids, item ids) and lossless about everything
// else: unknown stash fields and whole item objects are kept as raw
// JSON so an outbound event re-serializes exactly what the feed sent.
//
// Failures are classified as [*NetworkError] (the request did not
// produce a usable body) or [*ParseError] (the body was not a valid
// page). Both are transient from the poller's point of view.
package feed
