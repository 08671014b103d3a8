// Copyright 2026 The Stashwatch Authors
// SPDX-License-Identifier: Apache-2.0

package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/stashwatch/stashwatch/lib/diff"
	"github.com/stashwatch/stashwatch/lib/dispatch"
	"github.com/stashwatch/stashwatch/lib/feed"
	"github.com/stashwatch/stashwatch/lib/ledger"
	"github.com/stashwatch/stashwatch/lib/poller"
)

// maxRecent caps the ?recent= query parameter.
const maxRecent = 100

// StatusSources are read on every status request. Only Pipeline is
// required.
type StatusSources struct {
	Version    string
	Pipeline   *Pipeline
	Poller     interface{ State() poller.State }
	Tracker    interface{ Current() feed.Cursor; Committed() int64 }
	Failures   interface{ ConsecutiveFailures() int64 }
	Engine     interface{ Stats() diff.Stats }
	Dispatcher interface{ Stats() dispatch.Stats }
	Ledger     LedgerReader
}

// LedgerReader answers history queries. *ledger.Ledger implements it.
type LedgerReader interface {
	Recent(ctx context.Context, limit int) ([]ledger.Entry, error)
	Events(ctx context.Context, id string) ([]ledger.EventRecord, error)
}

// BatchEvents is the document served for "?batch=ID".
type BatchEvents struct {
	Batch  string               `json:"batch"`
	Events []ledger.EventRecord `json:"events"`
}

// Status is the /status document.
type Status struct {
	Version             string         `json:"version,omitempty"`
	State               string         `json:"state,omitempty"`
	Cursor              feed.Cursor    `json:"cursor,omitempty"`
	CursorsCommitted    int64          `json:"cursors_committed"`
	ConsecutiveFailures int64          `json:"consecutive_failures"`
	PagesHandled        int64          `json:"pages_handled"`
	KnownStashes        int            `json:"known_stashes"`
	KnownItems          int            `json:"known_items"`
	Dispatch            *DispatchState `json:"dispatch,omitempty"`
	LastPage            *Summary       `json:"last_page,omitempty"`
	Recent              []LedgerRow    `json:"recent,omitempty"`
	LedgerError         string         `json:"ledger_error,omitempty"`
}

// DispatchState is the delivery queue part of Status.
type DispatchState struct {
	QueuedBatches   int    `json:"queued_batches"`
	QueuedBytes     int    `json:"queued_bytes"`
	DeliveredEvents uint64 `json:"delivered_events"`
	FailedEvents    uint64 `json:"failed_events"`
	DroppedBatches  uint64 `json:"dropped_batches"`
	DroppedEvents   uint64 `json:"dropped_events"`
	Reloads         uint64 `json:"reloads"`
}

// LedgerRow is one ledger entry in Status.
type LedgerRow struct {
	ID          string      `json:"id"`
	Cursor      feed.Cursor `json:"cursor"`
	NextCursor  feed.Cursor `json:"next_cursor"`
	Stashes     int         `json:"stashes"`
	Adds        int         `json:"adds"`
	Removes     int         `json:"removes"`
	BodySize    int         `json:"body_size"`
	StoredSize  int         `json:"stored_size"`
	Compression string      `json:"compression"`
	RecordedAt  time.Time   `json:"recorded_at"`
}

// StatusHandler serves the Status document as JSON. A "recent=N"
// query parameter adds the N newest ledger rows. "batch=ID" instead
// serves the events the ledger recorded for that page.
func StatusHandler(sources StatusSources) http.Handler {
	if sources.Pipeline == nil {
		panic("ingest.StatusHandler: Pipeline is required")
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			w.Header().Set("Allow", "GET, HEAD")
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		if batchID := r.URL.Query().Get("batch"); batchID != "" {
			serveBatchEvents(w, r, sources, batchID)
			return
		}

		recent := 0
		if raw := r.URL.Query().Get("recent"); raw != "" {
			parsed, err := strconv.Atoi(raw)
			if err != nil || parsed < 0 {
				http.Error(w, "recent must be a non-negative integer", http.StatusBadRequest)
				return
			}
			recent = min(parsed, maxRecent)
		}

		writeJSON(w, collectStatus(r.Context(), sources, recent))
	})
}

func serveBatchEvents(w http.ResponseWriter, r *http.Request, sources StatusSources, batchID string) {
	if sources.Ledger == nil {
		http.Error(w, "ledger is disabled", http.StatusNotFound)
		return
	}
	events, err := sources.Ledger.Events(r.Context(), batchID)
	if errors.Is(err, ledger.ErrNotFound) {
		http.Error(w, "unknown batch "+batchID, http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if events == nil {
		events = []ledger.EventRecord{}
	}
	writeJSON(w, BatchEvents{Batch: batchID, Events: events})
}

func writeJSON(w http.ResponseWriter, value any) {
	w.Header().Set("Content-Type", "application/json")
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	encoder.Encode(value)
}

func collectStatus(ctx context.Context, sources StatusSources, recent int) Status {
	status := Status{
		Version:      sources.Version,
		PagesHandled: sources.Pipeline.Handled(),
	}
	if last, ok := sources.Pipeline.Last(); ok {
		status.LastPage = &last
	}
	if sources.Poller != nil {
		status.State = sources.Poller.State().String()
	}
	if sources.Tracker != nil {
		status.Cursor = sources.Tracker.Current()
		status.CursorsCommitted = sources.Tracker.Committed()
	}
	if sources.Failures != nil {
		status.ConsecutiveFailures = sources.Failures.ConsecutiveFailures()
	}
	if sources.Engine != nil {
		stats := sources.Engine.Stats()
		status.KnownStashes = stats.Stashes
		status.KnownItems = stats.Items
	}
	if sources.Dispatcher != nil {
		stats := sources.Dispatcher.Stats()
		status.Dispatch = &DispatchState{
			QueuedBatches:   stats.QueuedUnits,
			QueuedBytes:     stats.QueuedBytes,
			DeliveredEvents: stats.DeliveredEvents,
			FailedEvents:    stats.FailedEvents,
			DroppedBatches:  stats.DroppedUnits,
			DroppedEvents:   stats.DroppedEvents,
			Reloads:         stats.Reloads,
		}
	}
	if sources.Ledger != nil && recent > 0 {
		entries, err := sources.Ledger.Recent(ctx, recent)
		if err != nil {
			status.LedgerError = err.Error()
		}
		for _, entry := range entries {
			status.Recent = append(status.Recent, LedgerRow{
				ID:          entry.ID,
				Cursor:      entry.Cursor,
				NextCursor:  entry.NextCursor,
				Stashes:     entry.Stashes,
				Adds:        entry.Adds,
				Removes:     entry.Removes,
				BodySize:    entry.BodySize,
				StoredSize:  entry.StoredSize,
				Compression: entry.Compression.String(),
				RecordedAt:  entry.RecordedAt,
			})
		}
	}
	return status
}
