// Copyright 2026 The Stashwatch Authors
// SPDX-License-Identifier: Apache-2.0

// Package cursor owns the pipeline's position in the change feed.
//
// A [Tracker] produces the first cursor (either a configured start
// cursor or one bootstrap request, retried a bounded number of times)
// and then records every cursor the poller commits. Reads of the
// current cursor are safe from any goroutine; only the poller writes.
package cursor
