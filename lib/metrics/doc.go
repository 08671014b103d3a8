// Copyright 2026 The Stashwatch Authors
// SPDX-License-Identifier: Apache-2.0

// Package metrics exposes the poller pipeline to Prometheus. Fetch
// outcomes and event counts are pushed into the Collector as they
// happen; queue depth, known state size and cursor commits are read
// from their owners at scrape time.
package metrics
