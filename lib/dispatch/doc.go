// Copyright 2026 The Stashwatch Authors
// SPDX-License-Identifier: Apache-2.0

// Package dispatch moves change events from the poll loop to a
// sandbox.
//
// The poll loop must never wait on handler code, so Enqueue only
// serializes the page's events and appends them to an in-memory queue;
// a single delivery goroutine (Run) empties the queue. The unit of
// queueing is the page: its events in order, followed by one reload
// request. A unit is delivered whole or dropped whole, so the reload
// always follows exactly the events of its own page.
//
// The queue is bounded in bytes. When a new unit does not fit, the
// oldest waiting units are dropped and counted; the unit being
// delivered is never interrupted. Delivery is at most once: a failed
// event is wrapped in a *DeliveryError, logged, counted and not
// retried, and no delivery failure ever reaches the poll loop.
package dispatch
