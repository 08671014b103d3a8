// Copyright 2026 The Stashwatch Authors
// SPDX-License-Identifier: Apache-2.0

package diff

import (
	"sort"
	"sync"

	"github.com/stashwatch/stashwatch/lib/feed"
)

// Retention selects what the engine keeps for each known item.
type Retention uint8

const (
	// RetainItems keeps each item's last-seen JSON so Remove events
	// carry the full object of the item that disappeared.
	RetainItems Retention = iota

	// RetainKeys keeps only keys. Remove events carry {"id": ...}
	// stubs. Use it when the marketplace is too large to hold every
	// item object in memory.
	RetainKeys
)

// Stats describes the size of the known state.
type Stats struct {
	// Stashes is the number of distinct stash ids ever seen.
	Stashes int

	// Items is the number of item keys currently stored.
	Items int
}

// Engine computes per-stash diffs against the known state. Apply is
// serialized: a whole page is diffed and committed under one lock, so
// no reader ever observes a partly applied page.
type Engine struct {
	retention Retention

	mu    sync.Mutex
	known map[string]map[Key]feed.Item
	items int
}

// NewEngine returns an Engine with empty known state.
func NewEngine(retention Retention) *Engine {
	return &Engine{
		retention: retention,
		known:     make(map[string]map[Key]feed.Item),
	}
}

// Apply diffs every stash in batch against the known state, in page
// order, updates the state, and returns the events. The result holds
// at most one Add and one Remove per stash, Add first.
func (e *Engine) Apply(batch *feed.Batch) []Event {
	if batch == nil || len(batch.Stashes) == 0 {
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	var events []Event
	for i := range batch.Stashes {
		events = e.applyStash(&batch.Stashes[i], events)
	}
	return events
}

func (e *Engine) applyStash(stash *feed.Stash, events []Event) []Event {
	candidate := make(map[Key]feed.Item, len(stash.Items))
	for _, item := range stash.Items {
		key := Key{StashID: stash.ID, ItemID: item.ID}
		if _, duplicate := candidate[key]; !duplicate {
			candidate[key] = e.retain(item)
		}
	}

	stored, seen := e.known[stash.ID]
	e.known[stash.ID] = candidate
	e.items += len(candidate) - len(stored)

	if !seen {
		return append(events, Event{Kind: Add, Stash: *stash})
	}

	var added []feed.Item
	emitted := make(map[Key]struct{})
	for _, item := range stash.Items {
		key := Key{StashID: stash.ID, ItemID: item.ID}
		if _, present := stored[key]; present {
			continue
		}
		if _, done := emitted[key]; done {
			continue
		}
		emitted[key] = struct{}{}
		added = append(added, item)
	}

	var removed []feed.Item
	for key, item := range stored {
		if _, present := candidate[key]; !present {
			removed = append(removed, item)
		}
	}
	sort.Slice(removed, func(i, j int) bool { return removed[i].ID < removed[j].ID })

	if len(added) > 0 {
		events = append(events, Event{Kind: Add, Stash: stash.WithItems(added)})
	}
	if len(removed) > 0 {
		events = append(events, Event{Kind: Remove, Stash: stash.WithItems(removed)})
	}
	return events
}

func (e *Engine) retain(item feed.Item) feed.Item {
	if e.retention == RetainKeys {
		return feed.Item{ID: item.ID}
	}
	return item
}

// Known returns the stored keys for stashID sorted by item id, and
// whether the stash has ever been seen.
func (e *Engine) Known(stashID string) ([]Key, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	stored, seen := e.known[stashID]
	if !seen {
		return nil, false
	}
	keys := make([]Key, 0, len(stored))
	for key := range stored {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].ItemID < keys[j].ItemID })
	return keys, true
}

// Stats returns the current size of the known state.
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Stats{Stashes: len(e.known), Items: e.items}
}
