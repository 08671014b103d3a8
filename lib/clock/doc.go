// Copyright 2026 The Stashwatch Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock provides an injectable time source.
//
// Production code takes a [Clock] and is handed [Real]. Tests hand it
// a [FakeClock], which only moves when Advance is called. Use
// WaitForTimers before Advance so the goroutine under test has
// registered its wait; otherwise the advance can land before the
// timer exists and the test hangs.
//
//	fake := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
//	go poller.Run(ctx, "C0")
//	fake.WaitForTimers(1)      // poller is backing off
//	fake.Advance(time.Second)  // release it
package clock
