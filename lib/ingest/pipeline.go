// Copyright 2026 The Stashwatch Authors
// SPDX-License-Identifier: Apache-2.0

package ingest

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/stashwatch/stashwatch/lib/clock"
	"github.com/stashwatch/stashwatch/lib/diff"
	"github.com/stashwatch/stashwatch/lib/feed"
)

// Differ turns a page into events. *diff.Engine implements it.
type Differ interface {
	Apply(batch *feed.Batch) []diff.Event
}

// Enqueuer accepts a page's events for delivery without blocking.
// *dispatch.Dispatcher implements it.
type Enqueuer interface {
	Enqueue(batchID string, events []diff.Event)
}

// Recorder stores page history. *ledger.Ledger implements it.
type Recorder interface {
	Record(ctx context.Context, id string, batch *feed.Batch, events []diff.Event) error
}

// Counters receives per-page event counts. *metrics.Collector
// implements it.
type Counters interface {
	EventsProduced(adds, removes int)
	LedgerFailed()
}

// Config configures a Pipeline.
type Config struct {
	// Differ and Enqueuer are required.
	Differ   Differ
	Enqueuer Enqueuer

	// Recorder and Counters are optional.
	Recorder Recorder
	Counters Counters

	// Clock timestamps page ids. Required.
	Clock clock.Clock

	// Logger is required.
	Logger *slog.Logger
}

// Summary describes the most recently handled page.
type Summary struct {
	ID         string      `json:"id"`
	Cursor     feed.Cursor `json:"cursor"`
	NextCursor feed.Cursor `json:"next_cursor"`
	Stashes    int         `json:"stashes"`
	Items      int         `json:"items"`
	Adds       int         `json:"adds"`
	Removes    int         `json:"removes"`
	Digest     string      `json:"digest"`
	HandledAt  time.Time   `json:"handled_at"`
}

// Pipeline processes pages.
type Pipeline struct {
	config Config

	mu      sync.Mutex
	last    Summary
	handled int64
}

// New validates config and returns a Pipeline.
func New(config Config) *Pipeline {
	if config.Differ == nil {
		panic("ingest: Differ is required")
	}
	if config.Enqueuer == nil {
		panic("ingest: Enqueuer is required")
	}
	if config.Clock == nil {
		panic("ingest: Clock is required")
	}
	if config.Logger == nil {
		panic("ingest: Logger is required")
	}
	return &Pipeline{config: config}
}

// Handle processes one page. It has the signature of a
// poller.BatchHandler.
func (p *Pipeline) Handle(ctx context.Context, batch *feed.Batch) {
	now := p.config.Clock.Now()
	id := ulid.MustNew(ulid.Timestamp(now), ulid.DefaultEntropy()).String()

	events := p.config.Differ.Apply(batch)
	var adds, removes int
	for _, event := range events {
		switch event.Kind {
		case diff.Add:
			adds++
		case diff.Remove:
			removes++
		}
	}

	p.config.Enqueuer.Enqueue(id, events)

	if p.config.Counters != nil {
		p.config.Counters.EventsProduced(adds, removes)
	}
	if p.config.Recorder != nil {
		if err := p.config.Recorder.Record(ctx, id, batch, events); err != nil {
			p.config.Logger.Warn("page not recorded in ledger", "batch", id, "error", err)
			if p.config.Counters != nil {
				p.config.Counters.LedgerFailed()
			}
		}
	}

	summary := Summary{
		ID:         id,
		Cursor:     batch.Cursor,
		NextCursor: batch.NextCursor,
		Stashes:    len(batch.Stashes),
		Items:      batch.ItemCount(),
		Adds:       adds,
		Removes:    removes,
		Digest:     batch.Digest,
		HandledAt:  now,
	}
	p.mu.Lock()
	p.last = summary
	p.handled++
	p.mu.Unlock()

	p.config.Logger.Info("page processed",
		"batch", id,
		"cursor", batch.Cursor,
		"next", batch.NextCursor,
		"stashes", summary.Stashes,
		"items", summary.Items,
		"adds", adds,
		"removes", removes,
	)
}

// Last returns the summary of the most recent page, and false if no
// page has been handled yet.
func (p *Pipeline) Last() (Summary, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.last, p.handled > 0
}

// Handled returns the number of pages processed.
func (p *Pipeline) Handled() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.handled
}
