// Copyright 2026 The Stashwatch Authors
// SPDX-License-Identifier: Apache-2.0

// Package ingest is the per-page glue between the poll loop and the
// rest of the pipeline. Pipeline.Handle is the poller's handler: it
// names the page with a ULID, diffs it against the known state, queues
// the resulting events for delivery, records the page in the ledger
// and updates the event counters, all before the poller commits the
// page's next cursor.
//
// StatusHandler serves a JSON snapshot of the pipeline for operators.
package ingest
