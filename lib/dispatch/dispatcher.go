// Copyright 2026 The Stashwatch Authors
// SPDX-License-Identifier: Apache-2.0

package dispatch

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/stashwatch/stashwatch/lib/diff"
	"github.com/stashwatch/stashwatch/lib/sandbox"
)

// DefaultMaxQueueBytes bounds the serialized payloads waiting for
// delivery.
const DefaultMaxQueueBytes = 64 << 20

// Config configures a Dispatcher.
type Config struct {
	// Sandbox receives the events. Required.
	Sandbox sandbox.Sandbox

	// MaxQueueBytes bounds the queue. Default: DefaultMaxQueueBytes.
	MaxQueueBytes int

	// DeliveryTimeout bounds each Deliver and RequestReload call.
	// Default: 10 seconds.
	DeliveryTimeout time.Duration

	// DrainTimeout bounds delivery of what is still queued when Run's
	// context is cancelled. Default: 5 seconds.
	DrainTimeout time.Duration

	// Logger is required.
	Logger *slog.Logger
}

// Stats is a snapshot of the dispatcher's counters.
type Stats struct {
	QueuedUnits int
	QueuedBytes int

	EnqueuedUnits   uint64
	DeliveredEvents uint64
	FailedEvents    uint64
	DroppedUnits    uint64
	DroppedEvents   uint64
	Reloads         uint64
	FailedReloads   uint64
}

// Dispatcher queues pages of events and delivers them on one
// goroutine. Create with New, then start Run.
type Dispatcher struct {
	config Config
	queue  *queue

	enqueued      atomic.Uint64
	delivered     atomic.Uint64
	failed        atomic.Uint64
	droppedUnits  atomic.Uint64
	droppedEvents atomic.Uint64
	reloads       atomic.Uint64
	failedReloads atomic.Uint64
}

// New validates config and returns a Dispatcher.
func New(config Config) *Dispatcher {
	if config.Sandbox == nil {
		panic("dispatch: Sandbox is required")
	}
	if config.Logger == nil {
		panic("dispatch: Logger is required")
	}
	if config.MaxQueueBytes <= 0 {
		config.MaxQueueBytes = DefaultMaxQueueBytes
	}
	if config.DeliveryTimeout <= 0 {
		config.DeliveryTimeout = 10 * time.Second
	}
	if config.DrainTimeout <= 0 {
		config.DrainTimeout = 5 * time.Second
	}
	return &Dispatcher{
		config: config,
		queue:  newQueue(config.MaxQueueBytes),
	}
}

// Enqueue serializes a page's events and queues them, followed by the
// page's reload request. It never blocks on delivery. A page with no
// events still queues its reload request.
func (d *Dispatcher) Enqueue(batchID string, events []diff.Event) {
	queued := &unit{batchID: batchID, events: make([]encodedEvent, 0, len(events))}
	for _, event := range events {
		payload, err := json.Marshal(event.Stash)
		if err != nil {
			d.failed.Add(1)
			d.config.Logger.Error("event not serializable, skipping",
				"error", &DeliveryError{Batch: batchID, Kind: event.Kind, StashID: event.Stash.ID, Err: err},
			)
			continue
		}
		queued.events = append(queued.events, encodedEvent{
			kind:    event.Kind,
			stashID: event.Stash.ID,
			payload: payload,
		})
		queued.size += len(payload)
	}

	d.enqueued.Add(1)
	evicted := d.queue.push(queued)
	if len(evicted) == 0 {
		return
	}
	events := 0
	for _, dropped := range evicted {
		events += len(dropped.events)
	}
	d.droppedUnits.Add(uint64(len(evicted)))
	d.droppedEvents.Add(uint64(events))
	units, bytes := d.queue.depth()
	d.config.Logger.Warn("delivery queue full, dropped oldest batches",
		"dropped_batches", len(evicted),
		"dropped_events", events,
		"oldest_dropped", evicted[0].batchID,
		"queued_batches", units,
		"queued_bytes", bytes,
	)
}

// Run delivers queued units until ctx is cancelled. A unit whose
// delivery has started is finished. Units still queued at cancellation
// are delivered within DrainTimeout; whatever remains after that is
// dropped and counted.
func (d *Dispatcher) Run(ctx context.Context) {
	// Deliveries are bounded by DeliveryTimeout, not by ctx, so a
	// started unit is not cut off halfway by shutdown.
	deliveryContext := context.WithoutCancel(ctx)

	for {
		select {
		case <-d.queue.notify:
		case <-ctx.Done():
			d.drain(deliveryContext)
			return
		}

		for {
			next := d.queue.pop()
			if next == nil {
				break
			}
			d.deliverUnit(deliveryContext, next)
			if ctx.Err() != nil {
				d.drain(deliveryContext)
				return
			}
		}
	}
}

func (d *Dispatcher) drain(parent context.Context) {
	drainContext, cancel := context.WithTimeout(parent, d.config.DrainTimeout)
	defer cancel()

	for {
		if drainContext.Err() != nil {
			d.abandonQueued()
			return
		}
		next := d.queue.pop()
		if next == nil {
			return
		}
		d.deliverUnit(drainContext, next)
	}
}

func (d *Dispatcher) abandonQueued() {
	var units, events int
	for next := d.queue.pop(); next != nil; next = d.queue.pop() {
		units++
		events += len(next.events)
	}
	d.queue.finish()
	if units == 0 {
		return
	}
	d.droppedUnits.Add(uint64(units))
	d.droppedEvents.Add(uint64(events))
	d.config.Logger.Warn("drain timed out, abandoning queued batches",
		"dropped_batches", units,
		"dropped_events", events,
	)
}

// deliverUnit delivers every event of u, then requests a reload.
func (d *Dispatcher) deliverUnit(parent context.Context, u *unit) {
	defer d.queue.finish()

	ctx := sandbox.WithBatch(parent, u.batchID)
	for _, event := range u.events {
		callContext, cancel := context.WithTimeout(ctx, d.config.DeliveryTimeout)
		err := d.config.Sandbox.Deliver(callContext, event.kind, event.payload)
		cancel()
		if err != nil {
			d.failed.Add(1)
			d.config.Logger.Warn("event delivery failed",
				"batch", u.batchID,
				"error", &DeliveryError{Batch: u.batchID, Kind: event.kind, StashID: event.stashID, Err: err},
			)
			continue
		}
		d.delivered.Add(1)
	}

	callContext, cancel := context.WithTimeout(ctx, d.config.DeliveryTimeout)
	err := d.config.Sandbox.RequestReload(callContext)
	cancel()
	d.reloads.Add(1)
	if err != nil {
		d.failedReloads.Add(1)
		d.config.Logger.Warn("reload request failed", "batch", u.batchID, "error", err)
	}
}

// Idle reports whether nothing is queued or being delivered.
func (d *Dispatcher) Idle() bool {
	return d.queue.idle()
}

// Stats returns the current counters.
func (d *Dispatcher) Stats() Stats {
	units, bytes := d.queue.depth()
	return Stats{
		QueuedUnits:     units,
		QueuedBytes:     bytes,
		EnqueuedUnits:   d.enqueued.Load(),
		DeliveredEvents: d.delivered.Load(),
		FailedEvents:    d.failed.Load(),
		DroppedUnits:    d.droppedUnits.Load(),
		DroppedEvents:   d.droppedEvents.Load(),
		Reloads:         d.reloads.Load(),
		FailedReloads:   d.failedReloads.Load(),
	}
}
